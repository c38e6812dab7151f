// Package timestamper turns batches of pending records into a single
// time-stamp token plus one hash chain proof per record.
package timestamper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
	"github.com/dmitrijs2005/messagelog/internal/globalconf"
	"github.com/dmitrijs2005/messagelog/internal/hashchain"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/tsp"
)

// DefaultLabel tags chain results and proofs.
const DefaultLabel = "messagelog"

type Config struct {
	Method   digestlist.Method
	Ordering digestlist.Ordering
	// URLs are used when the global configuration does not list any TSA.
	URLs  []string
	Label string
}

// Timestamper executes tasks. It never touches the store.
type Timestamper struct {
	cfg    Config
	client tsp.Client
	conf   globalconf.Provider
	logger logging.Logger
	now    func() time.Time
}

func New(cfg Config, client tsp.Client, conf globalconf.Provider, logger logging.Logger) *Timestamper {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	return &Timestamper{cfg: cfg, client: client, conf: conf, logger: logger, now: time.Now}
}

// URLs returns the TSAs tasks are sent to, in order of preference.
func (ts *Timestamper) URLs() []string {
	if s := ts.conf.Current(); s != nil && len(s.TSAURLs) > 0 {
		return s.TSAURLs
	}
	return ts.cfg.URLs
}

// HandleTask runs task to completion and returns its outcome.
// Failures leave no trace other than the returned *Failed.
func (ts *Timestamper) HandleTask(ctx context.Context, task *Task) Result {
	ids := task.IDs()
	first, last := task.IDRange()
	log := ts.logger.With("batch_size", task.Len(), "first_id", first, "last_id", last)

	res := ts.handle(ctx, task, ids)
	if f, ok := res.(*Failed); ok {
		task.phase = PhaseFailed
		tasksCounter.WithLabelValues("failed").Inc()
		if errors.Is(f.Cause, common.ErrMalformedTsaResponse) {
			log.Error(ctx, "time-stamping authority returned a malformed response", "alert", true, "error", f.Cause)
		} else {
			log.Warn(ctx, "time-stamping task failed", "error", f.Cause)
		}
		return f
	}
	task.phase = PhaseSucceeded
	tasksCounter.WithLabelValues("succeeded").Inc()
	s := res.(*Succeeded)
	log.Info(ctx, "batch timestamped", "tsa", s.URL, "gen_time", s.GenTime)
	return s
}

func (ts *Timestamper) handle(ctx context.Context, task *Task, ids []int64) Result {
	fail := func(err error) *Failed { return &Failed{RecordIDs: ids, Cause: err} }

	if task.Len() == 0 {
		return fail(common.ErrEmptyBatch)
	}
	if !ts.conf.Current().IsValid(ts.now()) {
		return fail(common.ErrOutdatedConfiguration)
	}
	urls := ts.URLs()
	if len(urls) == 0 {
		return fail(common.ErrNoTimestampingProvider)
	}
	batchSizeHist.Observe(float64(task.Len()))

	hashes, err := task.hashes()
	if err != nil {
		return fail(err)
	}
	b := hashchain.NewBuilder(ts.cfg.Method, ts.cfg.Ordering)
	for _, h := range hashes {
		if err := b.AddInputHash(h); err != nil {
			return fail(err)
		}
	}
	if err := b.FinishBuilding(); err != nil {
		return fail(err)
	}
	digest, err := b.Result()
	if err != nil {
		return fail(err)
	}
	chainResult, err := b.HashChainResult(ts.cfg.Label)
	if err != nil {
		return fail(err)
	}
	proofs, err := b.HashChains(ts.cfg.Label)
	if err != nil {
		return fail(err)
	}

	task.phase = PhaseRequestSent
	byURL := make(map[string]error, len(urls))
	var errs []error
	for _, url := range urls {
		start := time.Now()
		token, err := ts.client.Timestamp(ctx, url, ts.cfg.Method, digest)
		tsaRequestDurationHist.WithLabelValues(url).Observe(time.Since(start).Seconds())
		tsaRequestsCounter.WithLabelValues(url, outcome(err)).Inc()
		if err != nil {
			if errors.Is(err, common.ErrMalformedTsaResponse) {
				malformedResponsesCounter.Inc()
			}
			byURL[url] = err
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}

		tsHash, err := ts.cfg.Method.Digest(token.Raw)
		if err != nil {
			return fail(err)
		}
		return &Succeeded{
			RecordIDs:          ids,
			Token:              token.Raw,
			ChainResult:        chainResult,
			Digest:             digest,
			TimestampHashChain: tsHash,
			Proofs:             proofs,
			URL:                url,
			GenTime:            token.GenTime,
			SerialNumber:       token.SerialNumber,
			ErrorsByURL:        byURL,
		}
	}

	return &Failed{RecordIDs: ids, Cause: errors.Join(errs...), ErrorsByURL: byURL}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrTsaTimeout):
		return "timeout"
	case errors.Is(err, common.ErrMalformedTsaResponse):
		return "malformed"
	case errors.Is(err, common.ErrTsaRejected):
		return "rejected"
	default:
		return "unreachable"
	}
}
