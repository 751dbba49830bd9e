package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a download job. These values
// must match the text values stored in the database (jobs.state).
//
// Centralizing these here avoids scattering string literals like
// "queued" or "succeeded" across packages.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can occur from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Platform identifies the video source site, derived from the URL.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformUnknown   Platform = "unknown"
)

// Job is one tracked unit of download work.
type Job struct {
	ID          uuid.UUID
	Fingerprint string
	Requester   string
	SourceURL   string
	Format      string
	Platform    Platform
	State       State
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Exactly one of ResultRef / ErrorDetail is set, at the terminal
	// transition. ResultRef is the path or CDN reference of the produced
	// artifact.
	ResultRef   string
	ErrorDetail string
}

// New constructs a queued job for the given request. The source URL is
// canonicalized before fingerprinting so that tracking-parameter variants
// of the same video collapse onto one job.
func New(requester, rawURL, format string) *Job {
	canonical := CleanURL(rawURL)
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Fingerprint: Fingerprint(canonical, format),
		Requester:   requester,
		SourceURL:   canonical,
		Format:      format,
		Platform:    DetectPlatform(canonical),
		State:       StateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Fingerprint returns the canonical dedup key for a requested artifact:
// a hex SHA-256 over the cleaned URL and the requested format.
func Fingerprint(canonicalURL, format string) string {
	sum := sha256.Sum256([]byte(canonicalURL + "|" + format))
	return hex.EncodeToString(sum[:])
}

// trackingParams are query parameters that identify the sharer, not the
// video. They vary per share link and would defeat dedup if kept.
var trackingParams = map[string]struct{}{
	"si": {}, "feature": {}, "fbclid": {}, "igshid": {}, "igsh": {},
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
}

// CleanURL drops fragments and tracking query parameters, keeping the
// parameters that identify the video itself (e.g. youtube's v=). The
// host is lowercased. Unparseable input is returned unchanged; URL
// validation is the dispatcher's concern.
func CleanURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	q := u.Query()
	for name := range q {
		if _, ok := trackingParams[strings.ToLower(name)]; ok {
			q.Del(name)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// DetectPlatform maps a URL to a known source platform.
func DetectPlatform(rawURL string) Platform {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(lower, "tiktok.com"):
		return PlatformTikTok
	case strings.Contains(lower, "instagram.com"):
		return PlatformInstagram
	}
	return PlatformUnknown
}

// ValidSource reports whether the URL is something the downloader could
// plausibly fetch: absolute http(s) with a host.
func ValidSource(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
