package http

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"vidbot/internal/config"
	"vidbot/internal/jobs"
	"vidbot/internal/pipeline"
	"vidbot/internal/store"
)

func pipelineFrom(c *fiber.Ctx) (*pipeline.Pipeline, error) {
	p, ok := c.Locals("pipeline").(*pipeline.Pipeline)
	if !ok {
		return nil, errors.New("pipeline not found in context")
	}
	return p, nil
}

func storeFrom(c *fiber.Ctx) (*store.Store, error) {
	st, ok := c.Locals("store").(*store.Store)
	if !ok {
		return nil, errors.New("store not found in context")
	}
	return st, nil
}

func isAdmin(c *fiber.Ctx, requester string) bool {
	cfg, ok := c.Locals("config").(*config.Config)
	if !ok {
		return false
	}
	for _, id := range cfg.Admins {
		if id == requester {
			return true
		}
	}
	return false
}

// submitDownloadHandler implements POST /v1/downloads.
func submitDownloadHandler(c *fiber.Ctx) error {
	pipe, err := pipelineFrom(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   fmt.Sprintf("Invalid request body: %v", err),
		})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "url is required",
		})
	}

	requester := req.UserID
	if requester == "" {
		requester = requesterFrom(c)
	}

	res, err := pipe.Submit(c.Context(), requester, req.URL, req.Format)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidSource):
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "INVALID_URL",
				Error:   err.Error(),
			})
		case errors.Is(err, pipeline.ErrQuotaExceeded):
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "QUOTA_EXCEEDED",
				Error:   err.Error(),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("submit failed: %v", err),
			})
		}
	}

	status := fiber.StatusAccepted
	if res.Deduped {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(SubmitResponse{
		Success: true,
		ID:      res.JobID.String(),
		Deduped: res.Deduped,
	})
}

// downloadStatusHandler implements GET /v1/downloads/:id. Jobs that
// have aged out of the in-memory pipeline are served from the store.
func downloadStatusHandler(c *fiber.Ctx) error {
	pipe, err := pipelineFrom(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Invalid job id",
		})
	}

	if j, ok := pipe.Status(id); ok {
		view := viewOf(j)
		return c.JSON(StatusResponse{Success: true, Data: &view})
	}

	st, err := storeFrom(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	j, err := st.GetJobByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "Job not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   fmt.Sprintf("job lookup failed: %v", err),
		})
	}

	view := viewOf(j)
	return c.JSON(StatusResponse{Success: true, Data: &view})
}

// cancelDownloadHandler implements DELETE /v1/downloads/:id. Only the
// owner (or a configured admin) may cancel.
func cancelDownloadHandler(c *fiber.Ctx) error {
	pipe, err := pipelineFrom(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Invalid job id",
		})
	}

	requester := requesterFrom(c)
	if err := pipe.Cancel(id, requester, isAdmin(c, requester)); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "Job not found",
			})
		case errors.Is(err, pipeline.ErrNotOwner):
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Success: false,
				Code:    "FORBIDDEN",
				Error:   "Job belongs to another requester",
			})
		case errors.Is(err, pipeline.ErrAlreadyTerminal):
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Success: false,
				Code:    "ALREADY_TERMINAL",
				Error:   "Job already reached a terminal state",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("cancel failed: %v", err),
			})
		}
	}

	return c.JSON(CancelResponse{Success: true, ID: id.String()})
}

// listFilter builds the listing filter from query parameters. Callers
// only see their own jobs; admins may pass an explicit requester
// filter or none at all for the unscoped view.
func listFilter(c *fiber.Ctx) (store.JobListFilter, error) {
	caller := requesterFrom(c)
	filter := store.JobListFilter{Requester: caller}
	if isAdmin(c, caller) {
		filter.Requester = c.Query("requester")
	}

	if state := c.Query("state"); state != "" {
		switch jobs.State(state) {
		case jobs.StateQueued, jobs.StateRunning, jobs.StateSucceeded, jobs.StateFailed, jobs.StateCancelled:
			filter.State = state
		default:
			return store.JobListFilter{}, fmt.Errorf("unknown state %q", state)
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = int32(n)
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = int32(n)
		}
	}
	return filter, nil
}

// listDownloadsHandler implements GET /v1/downloads with optional
// state, requester, limit, and offset query filters.
func listDownloadsHandler(c *fiber.Ctx) error {
	st, err := storeFrom(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	filter, err := listFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   err.Error(),
		})
	}

	list, err := st.ListJobs(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   fmt.Sprintf("job listing failed: %v", err),
		})
	}

	views := make([]JobView, 0, len(list))
	for _, j := range list {
		views = append(views, viewOf(j))
	}
	return c.JSON(ListResponse{Success: true, Data: views})
}
