package downloader

import (
	"context"
	"errors"
	"strings"

	"vidbot/internal/config"
)

// Classifier maps a raw backend error to an ErrorKind. The mapping is a
// policy decision: the backend's error surface changes with yt-dlp
// releases, so the substring lists live in configuration rather than
// code.
type Classifier struct {
	permanent   []string
	transient   []string
	defaultKind ErrorKind
}

// defaultPermanentPatterns covers the failure modes yt-dlp reports for
// sources that will never succeed, used when the config lists nothing.
var defaultPermanentPatterns = []string{
	"unsupported url",
	"video unavailable",
	"private video",
	"this video is not available",
	"removed",
	"age-restricted",
	"sign in to confirm",
	"login required",
	"http error 401",
	"http error 403",
	"http error 404",
	"http error 410",
}

var defaultTransientPatterns = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"http error 429",
	"http error 500",
	"http error 502",
	"http error 503",
	"rate limit",
}

// NewClassifier builds a Classifier from configuration, falling back to
// the built-in pattern lists when a section is empty.
func NewClassifier(cfg config.ClassifierConfig) *Classifier {
	c := &Classifier{
		permanent:   lowered(cfg.PermanentPatterns),
		transient:   lowered(cfg.TransientPatterns),
		defaultKind: KindTransient,
	}
	if len(c.permanent) == 0 {
		c.permanent = defaultPermanentPatterns
	}
	if len(c.transient) == 0 {
		c.transient = defaultTransientPatterns
	}
	if strings.EqualFold(cfg.DefaultKind, string(KindPermanent)) {
		c.defaultKind = KindPermanent
	}
	return c
}

// Classify wraps err in a kinded Error. Context deadline expiry is
// always transient (the attempt timed out); context cancellation is
// passed through untouched so the caller can distinguish a user cancel
// from a failure.
func (c *Classifier) Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range c.permanent {
		if strings.Contains(msg, p) {
			return &Error{Kind: KindPermanent, Err: err}
		}
	}
	for _, p := range c.transient {
		if strings.Contains(msg, p) {
			return &Error{Kind: KindTransient, Err: err}
		}
	}
	return &Error{Kind: c.defaultKind, Err: err}
}

func lowered(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(strings.ToLower(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
