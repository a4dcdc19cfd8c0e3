package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devaloi/pokersync/internal/client"
	"github.com/devaloi/pokersync/internal/hub"
	"github.com/devaloi/pokersync/internal/middleware"
	"github.com/devaloi/pokersync/internal/store"
)

// RouterDeps collects what NewRouter needs.
type RouterDeps struct {
	Hub               *hub.Hub
	Store             store.Store
	Client            client.Options
	Metrics           http.Handler
	CORSAllowedOrigin string
	Logger            *slog.Logger
}

// NewRouter builds the HTTP surface.
//
// Middleware order: Recovery -> Logging -> CORS.
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", Health())
	r.Get("/ws", ServeWS(deps.Hub, deps.Client))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", ListRooms(deps.Hub))
		r.Route("/rooms/{id}", func(r chi.Router) {
			r.Get("/", RoomInfo(deps.Hub))
			if deps.Store != nil {
				r.Get("/sessions", ListRoomSessions(deps.Store, logger))
			}
		})
		if deps.Store != nil {
			r.Get("/sessions/{id}", GetSession(deps.Store, logger))
		}
	})

	return r
}
