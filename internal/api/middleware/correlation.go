package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	claimsKey        contextKey = "claims"
)

// CorrelationHeader carries the id a caller (usually the work engine) uses
// to trace one delivery attempt through our logs.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID reuses the caller's correlation id or generates one, stores
// it on the request context and echoes it in the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey, id)))
	})
}

// GetCorrelationID returns "" if the middleware was not applied.
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// Logger returns base annotated with the request's correlation id.
func Logger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := GetCorrelationID(ctx); id != "" {
		return base.With(zap.String("correlation_id", id))
	}
	return base
}
