package tenant

import (
	"context"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
)

type contextKey int

const (
	tenantIDKey contextKey = iota
	requestIDKey
)

// WithTenantID returns a new context carrying the resolved tenant ID.
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// FromContext extracts the tenant ID from the context. There is no
// fallback tenant: callers that cannot resolve a tenant must drop the
// work instead of guessing.
func FromContext(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, apperrors.ErrUnauthorized
	}
	id, ok := ctx.Value(tenantIDKey).(int64)
	if !ok || id <= 0 {
		return 0, apperrors.ErrUnauthorized
	}
	return id, nil
}

// WithRequestID returns a new context carrying the request ID used for
// log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context.
func FromRequestIDContext(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", apperrors.ErrNotFound
	}
	id, ok := ctx.Value(requestIDKey).(string)
	if !ok || id == "" {
		return "", apperrors.ErrNotFound
	}
	return id, nil
}
