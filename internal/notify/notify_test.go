package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"vidbot/internal/jobs"
)

type countingSink struct {
	n    int
	last Outcome
}

func (c *countingSink) Deliver(_ context.Context, _ string, outcome Outcome) {
	c.n++
	c.last = outcome
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := MultiSink{a, b}

	out := Outcome{JobID: uuid.New(), State: jobs.StateSucceeded, ResultRef: "/tmp/x.mp4"}
	m.Deliver(context.Background(), "alice", out)

	if a.n != 1 || b.n != 1 {
		t.Fatalf("deliveries = %d, %d", a.n, b.n)
	}
	if a.last.ResultRef != "/tmp/x.mp4" {
		t.Fatalf("outcome not propagated: %+v", a.last)
	}
}

func TestLogSinkNilLoggerIsSafe(t *testing.T) {
	s := NewLogSink(nil)
	s.Deliver(context.Background(), "alice", Outcome{JobID: uuid.New()})
}
