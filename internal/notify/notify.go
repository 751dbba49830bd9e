// Package notify delivers terminal job outcomes to the front-end that
// originated the request. Delivery is fire-and-forget from the
// pipeline's perspective: sinks log their own failures and never unwind
// job-state logic.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"vidbot/internal/jobs"
)

// Outcome is the terminal result delivered to each subscriber of a job.
type Outcome struct {
	JobID       uuid.UUID  `json:"jobId"`
	State       jobs.State `json:"state"`
	SourceURL   string     `json:"sourceUrl"`
	ResultRef   string     `json:"resultRef,omitempty"`
	ErrorDetail string     `json:"errorDetail,omitempty"`
}

// Sink receives one terminal outcome per (job, subscriber) pair.
type Sink interface {
	Deliver(ctx context.Context, requester string, outcome Outcome)
}

// LogSink records outcomes in the service log. It is the fallback sink
// when no transport is configured, and useful in tests.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, requester string, outcome Outcome) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info("job outcome",
		"requester", requester,
		"job_id", outcome.JobID.String(),
		"state", string(outcome.State),
		"result_ref", outcome.ResultRef,
		"error", outcome.ErrorDetail,
	)
}

// MultiSink fans one outcome out to several sinks.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, requester string, outcome Outcome) {
	for _, s := range m {
		s.Deliver(ctx, requester, outcome)
	}
}
