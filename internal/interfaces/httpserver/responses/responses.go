package responses

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/recallstack/recall-server/internal/interfaces/httpserver/middleware"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON writes payload as a JSON response. The payload is marshalled before
// the ResponseWriter is touched, so an encoding failure yields a well-formed
// 500 instead of a half-written body with a 200 status.
func JSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("encode response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("write response")
	}
}

// Error writes the standard error envelope with the request ID echoed so
// clients can quote it when reporting a failure.
func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, errorBody{
		Error:     message,
		RequestID: middleware.RequestID(r.Context()),
	})
}
