// Package downloader wraps the external media-download capability behind
// a narrow interface and classifies its failures into retryable and
// terminal kinds.
package downloader

import (
	"context"
	"errors"
	"fmt"
)

// ArtifactRef points at a produced artifact.
type ArtifactRef struct {
	Path      string
	Title     string
	SizeBytes int64
}

// ErrorKind is the classified failure category consumed by the retry
// policy. Everything above the worker-pool boundary operates on the
// kind, never on raw backend error detail.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified download failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classified kind from err, defaulting to transient
// for unclassified errors (an unknown failure is worth one more try).
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// Fetcher is the external download capability invoked by the worker
// pool. The context carries both the per-attempt timeout and the
// cancellation token; implementations must abort when it is done.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, format string) (ArtifactRef, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, sourceURL, format string) (ArtifactRef, error)

func (f FetcherFunc) Fetch(ctx context.Context, sourceURL, format string) (ArtifactRef, error) {
	return f(ctx, sourceURL, format)
}
