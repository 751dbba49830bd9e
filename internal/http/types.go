package http

import "vidbot/internal/jobs"

// SubmitRequest is the payload for POST /v1/downloads.
type SubmitRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// ErrorResponse is the shared error envelope.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// SubmitResponse reports the id of the accepted (or deduplicated) job.
type SubmitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Deduped bool   `json:"deduped,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JobView is the wire shape of one download job.
type JobView struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Format      string `json:"format,omitempty"`
	Platform    string `json:"platform"`
	State       string `json:"state"`
	Attempts    int    `json:"attempts"`
	Requester   string `json:"requester"`
	ResultRef   string `json:"resultRef,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// StatusResponse wraps a single job.
type StatusResponse struct {
	Success bool     `json:"success"`
	Data    *JobView `json:"data,omitempty"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ListResponse wraps a page of jobs.
type ListResponse struct {
	Success bool      `json:"success"`
	Data    []JobView `json:"data"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

func viewOf(j jobs.Job) JobView {
	return JobView{
		ID:          j.ID.String(),
		URL:         j.SourceURL,
		Format:      j.Format,
		Platform:    string(j.Platform),
		State:       string(j.State),
		Attempts:    j.Attempts,
		Requester:   j.Requester,
		ResultRef:   j.ResultRef,
		ErrorDetail: j.ErrorDetail,
		CreatedAt:   j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   j.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
