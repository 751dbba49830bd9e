// Package pipeline implements the download job lifecycle: admission
// and dedup of requests, quota accounting, the bounded worker pool
// that executes downloads, retry with backoff, and exactly-once
// terminal notification per subscriber.
//
// All mutable pipeline state lives behind one mutex. The Postgres
// store is a write-through durable mirror; the in-memory maps are
// authoritative while the process runs and are rebuilt from the store
// at startup.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidbot/internal/backoff"
	"vidbot/internal/config"
	"vidbot/internal/downloader"
	"vidbot/internal/jobs"
	"vidbot/internal/metrics"
	"vidbot/internal/notify"
)

// Admission and cancel errors surfaced synchronously to callers.
var (
	ErrQuotaExceeded   = errors.New("too many pending downloads")
	ErrInvalidSource   = errors.New("source URL is not downloadable")
	ErrNotFound        = errors.New("job not found")
	ErrNotOwner        = errors.New("job belongs to another requester")
	ErrAlreadyTerminal = errors.New("job already reached a terminal state")
)

// Store is the durable side of the pipeline. Implemented by
// store.Store; tests substitute an in-memory fake.
type Store interface {
	CreateJob(ctx context.Context, j *jobs.Job) error
	UpdateJob(ctx context.Context, j *jobs.Job) error
	ListActiveJobs(ctx context.Context) ([]jobs.Job, error)
	DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// jobState is the in-memory record for one job. Access only while
// holding Pipeline.mu.
type jobState struct {
	job         jobs.Job
	subscribers []string
	cancelReq   bool
	cancelFn    context.CancelFunc // set while an executor holds the job
	retryTimer  *time.Timer        // set while a deferred retry is pending
}

// Pipeline owns the full job lifecycle. Construct with New, then Start.
type Pipeline struct {
	cfg      *config.Config
	store    Store
	fetcher  downloader.Fetcher
	classify *downloader.Classifier
	sink     notify.Sink
	backoff  backoff.Strategy
	logger   *slog.Logger

	mu            sync.Mutex
	byID          map[uuid.UUID]*jobState
	byFingerprint map[string]uuid.UUID
	perRequester  map[string]int
	globalActive  int

	queue   chan uuid.UUID
	stopCh  chan struct{}
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// New wires a pipeline from its collaborators. The backoff strategy is
// derived from cfg.Retry.
func New(cfg *config.Config, st Store, fetcher downloader.Fetcher, sink notify.Sink, logger *slog.Logger) *Pipeline {
	base := time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	maxDelay := time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}

	queueSize := cfg.Quota.Global
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &Pipeline{
		cfg:           cfg,
		store:         st,
		fetcher:       fetcher,
		classify:      downloader.NewClassifier(cfg.Classifier),
		sink:          sink,
		backoff:       backoff.NewExponentialWithJitter(base, maxDelay),
		logger:        logger,
		byID:          make(map[uuid.UUID]*jobState),
		byFingerprint: make(map[string]uuid.UUID),
		perRequester:  make(map[string]int),
		queue:         make(chan uuid.UUID, queueSize),
		stopCh:        make(chan struct{}),
	}
}

func (p *Pipeline) maxAttempts() int {
	if p.cfg.Retry.MaxAttempts > 0 {
		return p.cfg.Retry.MaxAttempts
	}
	return 3
}

func (p *Pipeline) poolSize() int {
	if p.cfg.Worker.PoolSize > 0 {
		return p.cfg.Worker.PoolSize
	}
	return 4
}

func (p *Pipeline) attemptTimeout() time.Duration {
	if p.cfg.Worker.DownloadTimeoutMs > 0 {
		return time.Duration(p.cfg.Worker.DownloadTimeoutMs) * time.Millisecond
	}
	return 30 * time.Minute
}

func (p *Pipeline) pollInterval() time.Duration {
	if p.cfg.Worker.PollIntervalMs > 0 {
		return time.Duration(p.cfg.Worker.PollIntervalMs) * time.Millisecond
	}
	return 5 * time.Second
}

// Start recovers persisted non-terminal jobs and launches the worker
// pool plus the retention janitor. It returns immediately.
func (p *Pipeline) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return nil
	}

	if err := p.recover(ctx); err != nil {
		return err
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("pool_size", p.poolSize()),
		slog.Int("max_attempts", p.maxAttempts()),
	)

	for range p.poolSize() {
		p.wg.Add(1)
		go p.workerLoop()
	}

	p.wg.Add(1)
	go p.pollLoop()

	if p.cfg.Retention.Enabled {
		p.wg.Add(1)
		go p.janitorLoop()
	}

	return nil
}

// Stop signals workers to stop and waits for them to finish. If the
// context has a deadline, active downloads are cancelled when time
// runs out.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return nil
	}
	p.running = false
	p.runMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active downloads")
		p.cancelActiveDownloads()
		p.wg.Wait()
	}

	return nil
}

// recover rebuilds dedup index, quota counters, and the queue from
// non-terminal rows in the store. Jobs that were running when the
// previous process died are re-queued; their attempt count carries
// over so the retry bound still holds across restarts.
func (p *Pipeline) recover(ctx context.Context) error {
	active, err := p.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, j := range active {
		if j.State == jobs.StateRunning {
			j.State = jobs.StateQueued
			j.UpdatedAt = time.Now().UTC()
			if err := p.store.UpdateJob(ctx, &j); err != nil {
				p.logger.Error("recover: failed to re-queue interrupted job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			p.logger.Info("recovered interrupted job", slog.String("job_id", j.ID.String()))
		}

		js := &jobState{job: j, subscribers: []string{j.Requester}}
		p.byID[j.ID] = js
		p.byFingerprint[j.Fingerprint] = j.ID
		p.perRequester[j.Requester]++
		p.globalActive++
		p.enqueueLocked(j.ID)
	}

	if len(active) > 0 {
		p.logger.Info("pipeline state recovered", slog.Int("jobs", len(active)))
	}
	return nil
}

// pollLoop periodically adopts queued rows written by other processes
// (an api-role instance persists submissions without running workers).
// In-process jobs are already indexed, so a poll only picks up ids the
// pipeline has never seen.
func (p *Pipeline) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.adoptQueued()
		}
	}
}

func (p *Pipeline) adoptQueued() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	active, err := p.store.ListActiveJobs(ctx)
	if err != nil {
		p.logger.Error("poll: listing active jobs failed", slog.String("error", err.Error()))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, j := range active {
		if _, known := p.byID[j.ID]; known {
			continue
		}
		// Rows in running belong to a live worker elsewhere; only
		// ownerless queued work is adopted.
		if j.State != jobs.StateQueued {
			continue
		}
		p.byID[j.ID] = &jobState{job: j, subscribers: []string{j.Requester}}
		p.byFingerprint[j.Fingerprint] = j.ID
		p.perRequester[j.Requester]++
		p.globalActive++
		p.enqueueLocked(j.ID)
		p.logger.Info("adopted queued job", slog.String("job_id", j.ID.String()))
	}
}

// enqueueLocked pushes a job id onto the work queue. The buffer is
// sized to the global quota; when no cap is configured a saturated
// buffer defers the insertion on a short timer instead of stranding
// the job until a restart.
func (p *Pipeline) enqueueLocked(id uuid.UUID) {
	select {
	case p.queue <- id:
	default:
		js, ok := p.byID[id]
		if ok && js.retryTimer == nil {
			js.retryTimer = time.AfterFunc(time.Second, func() { p.requeue(id) })
		}
		p.logger.Warn("work queue full, enqueue deferred", slog.String("job_id", id.String()))
	}
}

func (p *Pipeline) cancelActiveDownloads() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, js := range p.byID {
		if js.cancelFn != nil {
			p.logger.Warn("cancelling active download", slog.String("job_id", id.String()))
			js.cancelFn()
		}
	}
}

// janitorLoop periodically deletes terminal jobs past the retention
// window, both from the store and from the in-memory map.
func (p *Pipeline) janitorLoop() {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanupExpired()
		}
	}
}

func (p *Pipeline) cleanupExpired() {
	days := p.cfg.Retention.TerminalJobDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n, err := p.store.DeleteExpiredJobs(ctx, cutoff); err != nil {
		p.logger.Error("retention cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		metrics.RecordRetentionJobs(n)
		p.logger.Info("retention cleanup", slog.Int64("jobs_deleted", n))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, js := range p.byID {
		if js.job.State.Terminal() && js.job.UpdatedAt.Before(cutoff) {
			delete(p.byID, id)
		}
	}
}

// deliver fans a terminal outcome out to subscribers. Sink errors are
// the sink's problem; job-state logic never unwinds on delivery
// failure.
func (p *Pipeline) deliver(subs []string, outcome notify.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, requester := range subs {
		p.sink.Deliver(ctx, requester, outcome)
	}
}
