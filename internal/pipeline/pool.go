package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vidbot/internal/downloader"
	"vidbot/internal/jobs"
	"vidbot/internal/metrics"
)

// workerLoop is run by each executor goroutine. Jobs are claimed by
// the atomic queued→running transition under the pipeline lock, so no
// two executors can ever run the same job.
func (p *Pipeline) workerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case id := <-p.queue:
			j, ctx, cancel := p.claim(id)
			if j == nil {
				continue
			}
			p.runAttempt(id, j, ctx)
			cancel()
		}
	}
}

// claim transitions a queued job to running and increments the attempt
// counter. A nil return means the id is stale: the job was cancelled
// while queued, evicted, or its state moved on.
func (p *Pipeline) claim(id uuid.UUID) (*jobs.Job, context.Context, context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	js, ok := p.byID[id]
	if !ok || js.job.State != jobs.StateQueued {
		return nil, nil, nil
	}
	if js.retryTimer != nil {
		// A pending deferred retry owns this job; it will re-enqueue.
		return nil, nil, nil
	}

	js.job.State = jobs.StateRunning
	js.job.Attempts++
	js.job.UpdatedAt = time.Now().UTC()

	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := p.store.UpdateJob(storeCtx, &js.job)
	storeCancel()
	if err != nil {
		// Store outage: abort this claim and try again later rather
		// than running a download whose transitions cannot be
		// persisted. The attempt does not count.
		js.job.State = jobs.StateQueued
		js.job.Attempts--
		p.logger.Error("claim aborted, store unavailable",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
		js.retryTimer = time.AfterFunc(5*time.Second, func() { p.requeue(id) })
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	js.cancelFn = cancel

	jobCopy := js.job
	return &jobCopy, ctx, cancel
}

// runAttempt executes one download attempt and drives the job to its
// next state: succeeded, a deferred retry, failed, or cancelled.
func (p *Pipeline) runAttempt(id uuid.UUID, j *jobs.Job, ctx context.Context) {
	p.logger.Info("download starting",
		slog.String("job_id", id.String()),
		slog.String("url", j.SourceURL),
		slog.Int("attempt", j.Attempts),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout())
	ref, fetchErr := p.fetcher.Fetch(attemptCtx, j.SourceURL, j.Format)
	cancel()

	p.mu.Lock()
	js, ok := p.byID[id]
	if !ok || js.job.State != jobs.StateRunning {
		// Evicted or already finalized; nothing to transition.
		p.mu.Unlock()
		return
	}
	js.cancelFn = nil

	// A requester cancel takes precedence over whatever the aborted
	// download reported.
	if js.cancelReq {
		subs, outcome := p.finalizeLocked(js, jobs.StateCancelled, "", "cancelled during download")
		platform := js.job.Platform
		p.mu.Unlock()
		p.deliver(subs, outcome)
		metrics.RecordOutcome(string(jobs.StateCancelled), string(platform))
		p.logger.Info("download cancelled", slog.String("job_id", id.String()))
		return
	}

	// The claim context is cancelled without a requester cancel only
	// during shutdown. Put the job back in queued so startup recovery
	// re-runs it instead of reporting a cancellation nobody asked for.
	if ctx.Err() != nil {
		js.job.State = jobs.StateQueued
		js.job.Attempts-- // interrupted attempt does not count
		js.job.UpdatedAt = time.Now().UTC()
		storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.store.UpdateJob(storeCtx, &js.job); err != nil {
			p.logger.Error("store write-through failed while parking job for shutdown",
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
		storeCancel()
		p.mu.Unlock()
		return
	}

	if fetchErr == nil {
		subs, outcome := p.finalizeLocked(js, jobs.StateSucceeded, ref.Path, "")
		platform := js.job.Platform
		p.mu.Unlock()
		p.deliver(subs, outcome)
		metrics.RecordOutcome(string(jobs.StateSucceeded), string(platform))
		p.logger.Info("download succeeded",
			slog.String("job_id", id.String()),
			slog.String("artifact", ref.Path),
			slog.Int64("size_bytes", ref.SizeBytes),
		)
		return
	}

	// Classify once, here at the pool boundary; everything after this
	// point sees only the kind.
	classified := p.classify.Classify(fetchErr)
	kind := downloader.KindOf(classified)

	if kind == downloader.KindTransient && js.job.Attempts < p.maxAttempts() {
		p.scheduleRetryLocked(js)
		p.mu.Unlock()
		return
	}

	subs, outcome := p.finalizeLocked(js, jobs.StateFailed, "", fetchErr.Error())
	platform := js.job.Platform
	attempts := js.job.Attempts
	p.mu.Unlock()
	p.deliver(subs, outcome)
	metrics.RecordOutcome(string(jobs.StateFailed), string(platform))
	p.logger.Warn("download failed",
		slog.String("job_id", id.String()),
		slog.String("kind", string(kind)),
		slog.Int("attempts", attempts),
		slog.String("error", fetchErr.Error()),
	)
}

// scheduleRetryLocked moves a failed attempt back to queued and arms
// the deferred re-insertion timer. The delay never occupies a worker
// slot.
func (p *Pipeline) scheduleRetryLocked(js *jobState) {
	js.job.State = jobs.StateQueued
	js.job.UpdatedAt = time.Now().UTC()

	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := p.store.UpdateJob(storeCtx, &js.job); err != nil {
		p.logger.Error("store write-through failed on retry transition",
			slog.String("job_id", js.job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	storeCancel()

	delay := p.backoff.Delay(js.job.Attempts)
	id := js.job.ID
	js.retryTimer = time.AfterFunc(delay, func() { p.requeue(id) })

	metrics.RecordRetry()
	p.logger.Info("retry scheduled",
		slog.String("job_id", id.String()),
		slog.Int("attempt", js.job.Attempts),
		slog.Duration("delay", delay),
	)
}

// requeue is the deferred tail of a retry (or an aborted claim): clear
// the timer and put the job back on the shared queue if it is still
// waiting.
func (p *Pipeline) requeue(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	js, ok := p.byID[id]
	if !ok {
		return
	}
	js.retryTimer = nil
	if js.job.State != jobs.StateQueued {
		return
	}
	p.enqueueLocked(id)
}
