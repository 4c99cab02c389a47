package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

type ctxKeyRequestID struct{}

// RequestIDMiddleware tags each request with an ID so one memory operation
// can be followed across log lines and spans. A sane inbound header is
// honored for cross-service correlation; anything missing or oversized gets
// a fresh UUID. The ID rides in the context, in the context logger, and back
// out on the response header.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}

			logger := log.With().
				Str("request_id", id).
				Str("path", r.URL.Path).
				Logger()

			ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
			ctx = logger.WithContext(ctx)

			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID returns the ID bound by RequestIDMiddleware, or "" outside it.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}
