package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vidbot/internal/jobs"
	"vidbot/internal/metrics"
	"vidbot/internal/notify"
)

// SubmitResult reports how a submission was admitted.
type SubmitResult struct {
	JobID   uuid.UUID
	Deduped bool
}

// Submit admits one download request. An identical in-flight request
// (same cleaned URL and format) attaches the requester as an extra
// subscriber of the existing job instead of creating new work, and
// consumes no quota. Otherwise the request is checked against the
// per-requester and global caps, persisted, counted, and enqueued as
// one atomic step.
func (p *Pipeline) Submit(ctx context.Context, requester, rawURL, format string) (SubmitResult, error) {
	if requester == "" {
		return SubmitResult{}, fmt.Errorf("%w: requester is required", ErrInvalidSource)
	}
	if !jobs.ValidSource(rawURL) {
		metrics.RecordSubmission("invalid", string(jobs.DetectPlatform(rawURL)))
		return SubmitResult{}, ErrInvalidSource
	}

	j := jobs.New(requester, rawURL, format)

	p.mu.Lock()

	// Dedup: the fingerprint index only holds non-terminal jobs, and
	// subscriber registration happens under the same lock that checks
	// it, so a late subscriber can never miss the terminal
	// notification. The terminal branch below is unreachable unless
	// bookkeeping breaks; if it ever fires, the outcome is delivered
	// through the normal path instead of leaving the caller waiting.
	if existingID, ok := p.byFingerprint[j.Fingerprint]; ok {
		js := p.byID[existingID]
		if js != nil && js.job.State.Terminal() {
			outcome := outcomeOf(&js.job)
			p.mu.Unlock()
			p.deliver([]string{requester}, outcome)
			metrics.RecordSubmission("deduped", string(j.Platform))
			return SubmitResult{JobID: existingID, Deduped: true}, nil
		}
		if js != nil {
			if !contains(js.subscribers, requester) {
				js.subscribers = append(js.subscribers, requester)
			}
			p.mu.Unlock()
			metrics.RecordSubmission("deduped", string(j.Platform))
			p.logger.Debug("request deduplicated onto existing job",
				slog.String("job_id", existingID.String()),
				slog.String("requester", requester),
			)
			return SubmitResult{JobID: existingID, Deduped: true}, nil
		}
	}

	// Admission control.
	if p.cfg.Quota.PerRequester > 0 && p.perRequester[requester] >= p.cfg.Quota.PerRequester {
		p.mu.Unlock()
		metrics.RecordSubmission("quota_exceeded", string(j.Platform))
		return SubmitResult{}, ErrQuotaExceeded
	}
	if p.cfg.Quota.Global > 0 && p.globalActive >= p.cfg.Quota.Global {
		p.mu.Unlock()
		metrics.RecordSubmission("quota_exceeded", string(j.Platform))
		return SubmitResult{}, ErrQuotaExceeded
	}

	// Durable write first: a store failure must leave no quota or
	// queue residue.
	if err := p.store.CreateJob(ctx, j); err != nil {
		p.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("store: %w", err)
	}

	p.byID[j.ID] = &jobState{job: *j, subscribers: []string{requester}}
	p.byFingerprint[j.Fingerprint] = j.ID
	p.perRequester[requester]++
	p.globalActive++
	p.enqueueLocked(j.ID)
	p.mu.Unlock()

	metrics.RecordSubmission("accepted", string(j.Platform))
	p.logger.Info("job queued",
		slog.String("job_id", j.ID.String()),
		slog.String("requester", requester),
		slog.String("platform", string(j.Platform)),
	)
	return SubmitResult{JobID: j.ID}, nil
}

// Status returns a snapshot of one job. The boolean is false when the
// job is unknown to the in-memory pipeline (never existed, or already
// garbage-collected past retention).
func (p *Pipeline) Status(id uuid.UUID) (jobs.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	js, ok := p.byID[id]
	if !ok {
		return jobs.Job{}, false
	}
	return js.job, true
}

// Cancel stops a job on behalf of its owner (or an admin). A queued
// job, including one waiting out a retry delay, turns terminal
// immediately; a running job is signalled and the executor records the
// cancellation when the download aborts.
func (p *Pipeline) Cancel(id uuid.UUID, requester string, admin bool) error {
	p.mu.Lock()

	js, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	if !admin && js.job.Requester != requester {
		p.mu.Unlock()
		return ErrNotOwner
	}
	if js.job.State.Terminal() {
		p.mu.Unlock()
		return ErrAlreadyTerminal
	}

	if js.job.State == jobs.StateQueued {
		subs, outcome := p.finalizeLocked(js, jobs.StateCancelled, "", "cancelled before download started")
		p.mu.Unlock()
		p.deliver(subs, outcome)
		metrics.RecordOutcome(string(jobs.StateCancelled), string(js.job.Platform))
		return nil
	}

	// Running: cooperative cancel through the attempt context.
	js.cancelReq = true
	if js.cancelFn != nil {
		js.cancelFn()
	}
	p.mu.Unlock()

	p.logger.Info("cancellation requested",
		slog.String("job_id", id.String()),
		slog.String("requester", requester),
	)
	return nil
}

// finalizeLocked performs the single terminal transition for a job:
// state and result fields, fingerprint release, quota release, durable
// write-through. It returns the subscriber list captured under the
// lock so the caller can deliver after unlocking. Calling it on an
// already-terminal job is a no-op returning no subscribers.
func (p *Pipeline) finalizeLocked(js *jobState, state jobs.State, resultRef, errorDetail string) ([]string, notify.Outcome) {
	if js.job.State.Terminal() {
		return nil, notify.Outcome{}
	}

	if js.retryTimer != nil {
		js.retryTimer.Stop()
		js.retryTimer = nil
	}
	js.cancelFn = nil

	js.job.State = state
	js.job.ResultRef = resultRef
	js.job.ErrorDetail = errorDetail
	js.job.UpdatedAt = time.Now().UTC()

	delete(p.byFingerprint, js.job.Fingerprint)
	if n := p.perRequester[js.job.Requester]; n <= 1 {
		delete(p.perRequester, js.job.Requester)
	} else {
		p.perRequester[js.job.Requester] = n - 1
	}
	if p.globalActive > 0 {
		p.globalActive--
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.UpdateJob(ctx, &js.job); err != nil {
		// The in-memory transition stands; the stale row is repaired
		// by recovery (non-terminal rows are re-run) or retention.
		p.logger.Error("store write-through failed on terminal transition",
			slog.String("job_id", js.job.ID.String()),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}

	subs := make([]string, len(js.subscribers))
	copy(subs, js.subscribers)
	return subs, outcomeOf(&js.job)
}

func outcomeOf(j *jobs.Job) notify.Outcome {
	return notify.Outcome{
		JobID:       j.ID,
		State:       j.State,
		SourceURL:   j.SourceURL,
		ResultRef:   j.ResultRef,
		ErrorDetail: j.ErrorDetail,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
