// Package globalconf exposes the parts of the global configuration the
// message log depends on: its validity and the timestamping interval.
//
// The provider owns its state. Readers get immutable snapshots; the file is
// re-read only by an explicit ReloadIfChanged call.
package globalconf

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/logging"
)

// Snapshot is an immutable view of the global configuration.
type Snapshot struct {
	// ValidUntil is the instant after which the configuration is outdated.
	ValidUntil time.Time
	// TimestampingInterval is how often pending records are timestamped.
	TimestampingInterval time.Duration
	// TSAURLs optionally overrides the locally configured TSA list.
	TSAURLs []string
}

// IsValid reports whether the snapshot is still current at now.
func (s *Snapshot) IsValid(now time.Time) bool {
	return s != nil && now.Before(s.ValidUntil)
}

// Provider yields the current snapshot.
type Provider interface {
	Current() *Snapshot
}

type fileFormat struct {
	ValidUntil                  time.Time `json:"valid_until"`
	TimestampingIntervalSeconds int       `json:"timestamping_interval_seconds"`
	TSAURLs                     []string  `json:"tsa_urls"`
}

// FileProvider reads a JSON document from disk.
type FileProvider struct {
	path   string
	logger logging.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	current atomic.Pointer[Snapshot]
}

// NewFileProvider loads path once. A missing or broken file yields an
// outdated configuration rather than an error so that the service can start
// and report the problem through the timestamper.
func NewFileProvider(ctx context.Context, path string, logger logging.Logger) *FileProvider {
	p := &FileProvider{path: path, logger: logger}
	p.current.Store(&Snapshot{})
	if _, err := p.ReloadIfChanged(ctx); err != nil {
		logger.Warn(ctx, "global configuration not loaded", "path", path, "error", err)
	}
	return p
}

func (p *FileProvider) Current() *Snapshot {
	return p.current.Load()
}

// ReloadIfChanged re-reads the file if its size or modification time
// differs from the last successful load. It reports whether a new snapshot
// was published.
func (p *FileProvider) ReloadIfChanged(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := os.Stat(p.path)
	if err != nil {
		return false, err
	}
	if st.ModTime().Equal(p.modTime) && st.Size() == p.size {
		return false, nil
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return false, err
	}
	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return false, fmt.Errorf("parse %s: %w", p.path, err)
	}

	p.current.Store(&Snapshot{
		ValidUntil:           f.ValidUntil,
		TimestampingInterval: time.Duration(f.TimestampingIntervalSeconds) * time.Second,
		TSAURLs:              append([]string(nil), f.TSAURLs...),
	})
	p.modTime = st.ModTime()
	p.size = st.Size()
	p.logger.Info(ctx, "global configuration loaded", "path", p.path, "valid_until", f.ValidUntil)
	return true, nil
}

// Run reloads the file every interval until ctx is done.
func (p *FileProvider) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.ReloadIfChanged(ctx); err != nil {
				p.logger.Warn(ctx, "global configuration reload failed", "path", p.path, "error", err)
			}
		}
	}
}

// Static is a fixed provider, handy for tests and embedded use.
type Static struct {
	snap atomic.Pointer[Snapshot]
}

func NewStatic(s Snapshot) *Static {
	st := &Static{}
	st.snap.Store(&s)
	return st
}

func (s *Static) Current() *Snapshot { return s.snap.Load() }

// Set publishes a new snapshot.
func (s *Static) Set(snap Snapshot) { s.snap.Store(&snap) }
