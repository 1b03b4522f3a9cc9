package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wkrawczyk/dronefield/internal/config"
	"github.com/wkrawczyk/dronefield/internal/websocket"
	"github.com/wkrawczyk/dronefield/pkg/logger"
)

// NewRouter builds the HTTP routing tree: the JSON API under /api, the
// websocket endpoint at /ws, and optionally static files at the root.
func NewRouter(h *Handler, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware(cfg.Server.CORSAllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/station", h.GetStationConfig)

		r.Route("/missions", func(r chi.Router) {
			r.Post("/", h.CreateMission)
			r.Get("/", h.ListMissions)
			r.Get("/{id}", h.GetMission)
			r.Get("/{id}/validation", h.ValidateMission)
			r.Post("/{id}/upload", h.UploadMission)
		})

		r.Route("/flights", func(r chi.Router) {
			r.Post("/", h.StartFlight)
			r.Get("/", h.ListFlights)
			r.Post("/{id}/finish", h.FinishFlight)
			r.Post("/{id}/abort", h.AbortFlight)
			r.Get("/{id}/telemetry", h.GetFlightTelemetry)
		})

		r.Get("/routes/{id}/points", h.GetRoutePoints)
	})

	r.Get("/ws", wsServer.HandleConnection)

	if cfg.Server.StaticFilesDir != "" {
		static := NewStaticFileHandler(cfg.Server.StaticFilesDir, log)
		r.NotFound(static.ServeHTTP)
	}

	return r
}

// corsMiddleware applies the configured allowed origins. An empty list
// disables CORS headers entirely.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
