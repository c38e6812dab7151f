package logmanager

import (
	"maps"
	"time"
)

// TSAStatus is the outcome of the last request sent to one TSA.
type TSAStatus struct {
	URL   string    `json:"url"`
	OK    bool      `json:"ok"`
	Time  time.Time `json:"time"`
	Error string    `json:"error,omitempty"`
}

// Status is an immutable snapshot of the timestamping health.
type Status struct {
	LastSuccess time.Time `json:"last_success"`
	// FirstFailure is zero while the last cycle succeeded.
	FirstFailure time.Time            `json:"first_failure"`
	TSAs         map[string]TSAStatus `json:"tsas"`
}

// FailingFor reports how long timestamping has been failing at now.
func (s *Status) FailingFor(now time.Time) time.Duration {
	if s == nil || s.FirstFailure.IsZero() {
		return 0
	}
	return now.Sub(s.FirstFailure)
}

func (s *Status) clone() *Status {
	if s == nil {
		return &Status{TSAs: map[string]TSAStatus{}}
	}
	c := *s
	c.TSAs = maps.Clone(s.TSAs)
	if c.TSAs == nil {
		c.TSAs = map[string]TSAStatus{}
	}
	return &c
}
