package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds request handling. The deadline travels in the
// request context, so database, embedding and classification calls are cut
// off together with the response.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(w, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				// The responses package imports middleware, so the error
				// envelope is written by hand here.
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				fmt.Fprintf(w, `{"error":"request timed out","request_id":%q}`+"\n", RequestID(ctx))
			}
		})
	}
}
