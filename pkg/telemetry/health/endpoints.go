package health

import (
	"encoding/json"
	"net/http"
	"runtime"

	"golang.org/x/time/rate"
)

// VersionInfo contains build information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// NewVersionInfo fills GoVersion from the running binary.
func NewVersionInfo(version, commit, buildTime string) VersionInfo {
	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
}

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readMethod(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler serves the readiness probe. It answers 503 only when a
// critical check fails.
//
// Example response (degraded):
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "cache": {"status": "ok", "critical": true},
//	        "circuit": {"status": "unhealthy", "message": "circuit \"upstream\" is open, retry after 12s"}
//	    },
//	    "timestamp": "2025-11-20T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readMethod(w, r) {
			return
		}
		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// VersionHandler serves build information.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readMethod(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

// Register mounts /health, /ready and /version on mux.
func Register(mux *http.ServeMux, checker *Checker, info VersionInfo) {
	mux.HandleFunc("/health", checker.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/version", VersionHandler(info))
}

// RateLimitedHandler answers 429 once more than requestsPerSecond requests
// (with an equal burst) arrive. A non-positive rate disables the limit.
func RateLimitedHandler(handler http.HandlerFunc, requestsPerSecond int) http.HandlerFunc {
	if requestsPerSecond <= 0 {
		return handler
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}

func readMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
