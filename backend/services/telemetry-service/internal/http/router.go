package httpserver

import (
	"net/http"

	"gridwatch/backend/services/telemetry-service/internal/http/handlers"
	"gridwatch/backend/services/telemetry-service/internal/http/middleware"
)

// Routes defines HTTP endpoints.
type Routes struct {
	Ingest   http.Handler
	Data     *handlers.DataHandlers
	LiveFeed http.HandlerFunc
	Health   http.HandlerFunc
}

// Guards holds the authorization middlewares for protected routes.
type Guards struct {
	Authenticated func(http.Handler) http.Handler
	Elevated      func(http.Handler) http.Handler
}

// NewRouter sets up HTTP routing. Ingest is open to the device, recent/range require an
// authenticated principal and everything else requires the elevated role as well.
func NewRouter(routes Routes, guards Guards) http.Handler {
	mux := http.NewServeMux()

	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Ingest != nil {
		mux.Handle("/api/data", method(http.MethodPost, routes.Ingest))
	}
	if routes.LiveFeed != nil {
		mux.Handle("/ws", method(http.MethodGet, routes.LiveFeed))
	}

	if d := routes.Data; d != nil {
		authenticated := func(h http.HandlerFunc) http.Handler {
			return middleware.Chain(h, guards.Authenticated)
		}
		elevated := func(h http.HandlerFunc) http.Handler {
			return middleware.Chain(h, guards.Authenticated, guards.Elevated)
		}

		mux.Handle("/api/data/recent", method(http.MethodGet, authenticated(d.Recent)))
		mux.Handle("/api/data/range", method(http.MethodGet, authenticated(d.Range)))
		mux.Handle("/api/data/stats", method(http.MethodGet, elevated(d.Stats)))
		mux.Handle("/api/data/faults", method(http.MethodGet, elevated(d.Faults)))
		mux.Handle("/api/data/download", method(http.MethodGet, elevated(d.Download)))
		mux.Handle("/api/data/backup", method(http.MethodPost, elevated(d.Backup)))
	}
	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
