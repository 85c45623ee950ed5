package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// TenantKey is the context key for tenant identifiers.
	TenantKey contextKey = "tenant"

	// RequestNameKey is the context key for the logical request name.
	RequestNameKey contextKey = "request_name"

	// CallIDKey is the context key for the governor call identifier.
	CallIDKey contextKey = "call_id"
)

var contextKeys = []contextKey{RequestIDKey, TenantKey, RequestNameKey, CallIDKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithTenant adds a tenant identifier to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the tenant identifier from the context.
func GetTenant(ctx context.Context) string {
	return getString(ctx, TenantKey)
}

// WithRequestName adds the logical request name to the context.
func WithRequestName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, RequestNameKey, name)
}

// GetRequestName retrieves the logical request name from the context.
func GetRequestName(ctx context.Context) string {
	return getString(ctx, RequestNameKey)
}

// WithCallID adds a governor call identifier to the context.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, CallIDKey, callID)
}

// GetCallID retrieves the governor call identifier from the context.
func GetCallID(ctx context.Context) string {
	return getString(ctx, CallIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextHandler adds the context fields above to every record logged
// through one of the *Context methods.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range contextKeys {
		if v := getString(ctx, key); v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
