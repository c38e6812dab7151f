package logmanager

import (
	"context"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/globalconf"
)

const (
	MinTimestampInterval = 60 * time.Second
	MaxTimestampInterval = 24 * time.Hour
)

// JobDelay returns the pause before the next batch cycle. The interval of
// the global configuration is clamped; after a failure the shorter of the
// interval and retryDelay is used.
func JobDelay(snap *globalconf.Snapshot, retryDelay time.Duration, failed bool) time.Duration {
	interval := MinTimestampInterval
	if snap != nil && snap.TimestampingInterval > 0 {
		interval = snap.TimestampingInterval
	}
	interval = min(max(interval, MinTimestampInterval), MaxTimestampInterval)
	if failed && retryDelay > 0 && retryDelay < interval {
		return retryDelay
	}
	return interval
}

// RunJob timestamps pending records until ctx is done.
func (m *Manager) RunJob(ctx context.Context, conf globalconf.Provider, retryDelay time.Duration) error {
	failed := false
	timer := time.NewTimer(JobDelay(conf.Current(), retryDelay, failed))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		n, err := m.TimestampPending(ctx)
		switch {
		case err != nil && !failed:
			m.logger.Warn(ctx, "switching timestamper job to retry mode", "retry_delay", retryDelay)
		case err == nil && failed:
			m.logger.Info(ctx, "timestamper job recovered", "records", n)
		}
		failed = err != nil
		timer.Reset(JobDelay(conf.Current(), retryDelay, failed))
	}
}
