package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	UserIDKey
	UserNameKey
)

// CorrelationID tags every request with a correlation id and lifts the
// caller identity headers set by the upstream auth proxy into the context.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
			ctx = WithUser(ctx, userID, strings.TrimSpace(r.Header.Get("X-User-Name")))
		}
		w.Header().Set("X-Correlation-ID", id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

func WithUser(ctx context.Context, id, name string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id)
	return context.WithValue(ctx, UserNameKey, name)
}

// GetUser returns the caller id and display name, empty when unauthenticated.
func GetUser(ctx context.Context) (string, string) {
	id, _ := ctx.Value(UserIDKey).(string)
	name, _ := ctx.Value(UserNameKey).(string)
	return id, name
}
