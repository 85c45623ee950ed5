package governor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Request describes one governed call.
type Request struct {
	// TenantID selects the tenant budget. Empty selects the default tenant.
	TenantID string

	// RequestName labels the call in logs, traces and metrics.
	RequestName string

	// CacheKey identifies the result. It must be a deterministic function
	// of every input that affects the result; see BuildCacheKey.
	CacheKey string

	// EstimatedTokens is reserved against the budgets before the call.
	EstimatedTokens uint64

	// CacheTTL overrides the cache's default entry lifetime (0 = default).
	CacheTTL time.Duration
}

// Completion is what an Operation reports back: the raw value and the
// tokens the upstream actually consumed.
type Completion struct {
	Value []byte
	Usage uint64
}

// Operation performs the upstream call. It must honour ctx cancellation.
type Operation func(ctx context.Context) (Completion, error)

// Source tells where a Result's value came from.
type Source string

const (
	// SourceUpstream means this call invoked the operation.
	SourceUpstream Source = "upstream"

	// SourceCache means the value was served from the response cache.
	SourceCache Source = "cache"

	// SourceShared means the value was produced by a concurrent identical
	// call this call waited for.
	SourceShared Source = "shared"
)

// Result is a successful Execute outcome.
type Result struct {
	Value    []byte
	Usage    uint64
	Source   Source
	Attempts int
	CallID   string
}

// BuildCacheKey derives a cache key from ordered parts. Every part is
// length-prefixed before hashing, so ("ab", "c") and ("a", "bc") differ.
// The result is a hex-encoded SHA-256 digest.
func BuildCacheKey(parts ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
