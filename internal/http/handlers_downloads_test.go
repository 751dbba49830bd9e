package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"vidbot/internal/config"
	"vidbot/internal/jobs"
	"vidbot/internal/notify"
	"vidbot/internal/pipeline"
	"vidbot/internal/store"
)

// memStore satisfies pipeline.Store so handler tests need no database.
type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]jobs.Job
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]jobs.Job)}
}

func (m *memStore) CreateJob(_ context.Context, j *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[j.ID] = *j
	return nil
}

func (m *memStore) UpdateJob(_ context.Context, j *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[j.ID] = *j
	return nil
}

func (m *memStore) ListActiveJobs(_ context.Context) ([]jobs.Job, error) {
	return nil, nil
}

func (m *memStore) DeleteExpiredJobs(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func testPipeline(cfg *config.Config) *pipeline.Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Not started: submitted jobs sit queued, which is all the
	// handlers need.
	return pipeline.New(cfg, newMemStore(), nil, notify.NewLogSink(nil), logger)
}

func testApp(cfg *config.Config, pipe *pipeline.Pipeline) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("pipeline", pipe)
		return c.Next()
	})
	app.Post("/v1/downloads", submitDownloadHandler)
	app.Get("/v1/downloads/:id", downloadStatusHandler)
	app.Delete("/v1/downloads/:id", cancelDownloadHandler)
	return app
}

func TestSubmitDownload_Accepted(t *testing.T) {
	cfg := &config.Config{}
	app := testApp(cfg, testPipeline(cfg))

	body := strings.NewReader(`{"url":"https://youtu.be/abc","userId":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.ID == "" || out.Deduped {
		t.Fatalf("response = %+v", out)
	}
}

func TestSubmitDownload_DedupReturns200(t *testing.T) {
	cfg := &config.Config{}
	app := testApp(cfg, testPipeline(cfg))

	submit := func() *http.Response {
		body := strings.NewReader(`{"url":"https://youtu.be/abc","userId":"alice"}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}

	first := submit()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit: %d", first.StatusCode)
	}
	second := submit()
	if second.StatusCode != http.StatusOK {
		t.Fatalf("dedup submit: %d", second.StatusCode)
	}
	var out SubmitResponse
	if err := json.NewDecoder(second.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Deduped {
		t.Fatalf("response = %+v, want deduped", out)
	}
}

func TestSubmitDownload_InvalidURL(t *testing.T) {
	cfg := &config.Config{}
	app := testApp(cfg, testPipeline(cfg))

	body := strings.NewReader(`{"url":"not a url","userId":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitDownload_QuotaExceeded(t *testing.T) {
	cfg := &config.Config{Quota: config.QuotaConfig{PerRequester: 1}}
	app := testApp(cfg, testPipeline(cfg))

	submit := func(url string) int {
		body := strings.NewReader(`{"url":"` + url + `","userId":"alice"}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp.StatusCode
	}

	if code := submit("https://youtu.be/one"); code != http.StatusAccepted {
		t.Fatalf("first submit: %d", code)
	}
	if code := submit("https://youtu.be/two"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestDownloadStatus_FromPipeline(t *testing.T) {
	cfg := &config.Config{}
	pipe := testPipeline(cfg)
	app := testApp(cfg, pipe)

	res, err := pipe.Submit(context.Background(), "alice", "https://youtu.be/abc", "best")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads/"+res.JobID.String(), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data == nil || out.Data.State != string(jobs.StateQueued) || out.Data.Requester != "alice" {
		t.Fatalf("response = %+v", out)
	}
}

func TestDownloadStatus_InvalidID(t *testing.T) {
	cfg := &config.Config{}
	app := testApp(cfg, testPipeline(cfg))

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads/not-a-uuid", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCancelDownload_OwnerOnly(t *testing.T) {
	cfg := &config.Config{}
	pipe := testPipeline(cfg)
	app := testApp(cfg, pipe)

	res, err := pipe.Submit(context.Background(), "alice", "https://youtu.be/abc", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A different identity gets 403.
	req := httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+res.JobID.String(), nil)
	req.Header.Set("X-User-Id", "mallory")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// The owner succeeds.
	req = httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+res.JobID.String(), nil)
	req.Header.Set("X-User-Id", "alice")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// A second cancel hits the terminal guard.
	req = httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+res.JobID.String(), nil)
	req.Header.Set("X-User-Id", "alice")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCancelDownload_AdminOverride(t *testing.T) {
	cfg := &config.Config{Admins: []string{"root"}}
	pipe := testPipeline(cfg)
	app := testApp(cfg, pipe)

	res, err := pipe.Submit(context.Background(), "alice", "https://youtu.be/abc", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+res.JobID.String(), nil)
	req.Header.Set("X-User-Id", "root")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCancelDownload_NotFound(t *testing.T) {
	cfg := &config.Config{}
	app := testApp(cfg, testPipeline(cfg))

	req := httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+uuid.New().String(), nil)
	req.Header.Set("X-User-Id", "alice")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func listFilterApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		return c.Next()
	})
	app.Get("/v1/downloads", func(c *fiber.Ctx) error {
		f, err := listFilter(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Success: false, Error: err.Error()})
		}
		return c.JSON(f)
	})
	return app
}

func TestListFilter_ScopedToCaller(t *testing.T) {
	app := listFilterApp(&config.Config{Admins: []string{"root"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads?requester=bob&state=queued", nil)
	req.Header.Set("X-User-Id", "alice")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var f store.JobListFilter
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// A non-admin cannot read another requester's jobs.
	if f.Requester != "alice" {
		t.Fatalf("filter requester = %q, want caller's own id", f.Requester)
	}
	if f.State != "queued" {
		t.Fatalf("filter state = %q", f.State)
	}
}

func TestListFilter_AdminMaySelectRequester(t *testing.T) {
	app := listFilterApp(&config.Config{Admins: []string{"root"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads?requester=bob", nil)
	req.Header.Set("X-User-Id", "root")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	var f store.JobListFilter
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Requester != "bob" {
		t.Fatalf("filter requester = %q, want explicit admin filter", f.Requester)
	}

	// No filter at all yields the unscoped admin view.
	req = httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	req.Header.Set("X-User-Id", "root")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Requester != "" {
		t.Fatalf("filter requester = %q, want unscoped", f.Requester)
	}
}

func TestListFilter_UnknownStateRejected(t *testing.T) {
	app := listFilterApp(&config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads?state=bogus", nil)
	req.Header.Set("X-User-Id", "alice")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
