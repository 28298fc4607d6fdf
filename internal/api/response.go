package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"strava-duel/internal/logging"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// respondJSON writes v with the given status and Cache-Control value.
func respondJSON(w http.ResponseWriter, status int, cacheControl string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError writes an ErrorResponse. err is logged and its message is
// returned as details.
func respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		logging.Ctx(r.Context()).Error().
			Str("path", sanitizeLogValue(r.URL.Path)).
			Int("status", status).
			Err(err).
			Msg(message)
	}
	respondJSON(w, status, "no-store", resp)
}

// sanitizeLogValue replaces control characters so request data cannot
// forge log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
