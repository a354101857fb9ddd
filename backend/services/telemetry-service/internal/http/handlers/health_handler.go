package handlers

import (
	"net/http"
	"time"
)

// NewHealthHandler returns GET /health handler. viewers may be nil.
func NewHealthHandler(startedAt time.Time, viewers func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"uptime":    time.Since(startedAt).Seconds(),
		}
		if viewers != nil {
			body["subscribers"] = viewers()
		}
		writeJSON(w, http.StatusOK, body)
	}
}
