package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the download pipeline and HTTP
// intake. This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	submissionsTotal = make(map[submitKey]int64)
	outcomesTotal    = make(map[outcomeKey]int64)
	retriesTotal     int64

	retentionJobsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type submitKey struct {
	Result   string // accepted | deduped | quota_exceeded | invalid
	Platform string
}

type outcomeKey struct {
	State    string
	Platform string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordSubmission counts one submit call by its admission result.
func RecordSubmission(result, platform string) {
	mu.Lock()
	defer mu.Unlock()
	submissionsTotal[submitKey{Result: result, Platform: platform}]++
}

// RecordOutcome counts one terminal job transition.
func RecordOutcome(state, platform string) {
	mu.Lock()
	defer mu.Unlock()
	outcomesTotal[outcomeKey{State: state, Platform: platform}]++
}

// RecordRetry counts one deferred re-enqueue after a transient failure.
func RecordRetry() {
	mu.Lock()
	defer mu.Unlock()
	retriesTotal++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP vidbot_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE vidbot_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "vidbot_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP vidbot_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE vidbot_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP vidbot_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE vidbot_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "vidbot_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "vidbot_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	// Submission metrics
	b.WriteString("# HELP vidbot_submissions_total Total download submissions by admission result\n")
	b.WriteString("# TYPE vidbot_submissions_total counter\n")

	var subKeys []submitKey
	for k := range submissionsTotal {
		subKeys = append(subKeys, k)
	}
	sort.Slice(subKeys, func(i, j int) bool {
		if subKeys[i].Result != subKeys[j].Result {
			return subKeys[i].Result < subKeys[j].Result
		}
		return subKeys[i].Platform < subKeys[j].Platform
	})
	for _, k := range subKeys {
		fmt.Fprintf(&b, "vidbot_submissions_total{result=\"%s\",platform=\"%s\"} %d\n",
			k.Result, k.Platform, submissionsTotal[k])
	}

	// Terminal outcome metrics
	b.WriteString("# HELP vidbot_job_outcomes_total Total terminal job transitions\n")
	b.WriteString("# TYPE vidbot_job_outcomes_total counter\n")

	var outKeys []outcomeKey
	for k := range outcomesTotal {
		outKeys = append(outKeys, k)
	}
	sort.Slice(outKeys, func(i, j int) bool {
		if outKeys[i].State != outKeys[j].State {
			return outKeys[i].State < outKeys[j].State
		}
		return outKeys[i].Platform < outKeys[j].Platform
	})
	for _, k := range outKeys {
		fmt.Fprintf(&b, "vidbot_job_outcomes_total{state=\"%s\",platform=\"%s\"} %d\n",
			k.State, k.Platform, outcomesTotal[k])
	}

	b.WriteString("# HELP vidbot_job_retries_total Total deferred retries scheduled\n")
	b.WriteString("# TYPE vidbot_job_retries_total counter\n")
	fmt.Fprintf(&b, "vidbot_job_retries_total %d\n", retriesTotal)

	b.WriteString("# HELP vidbot_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE vidbot_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "vidbot_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}
