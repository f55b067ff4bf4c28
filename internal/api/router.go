package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fabianr-su/ApproachMDPproject/internal/websocket"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

// Router wires the handlers to their routes
type Router struct {
	handler        *Handler
	wsServer       *websocket.Server
	allowedOrigins []string
	logger         *logger.Logger
}

// NewRouter creates a new router. wsServer may be nil, in which case /ws is
// not served.
func NewRouter(handler *Handler, wsServer *websocket.Server, allowedOrigins []string, log *logger.Logger) *Router {
	return &Router{
		handler:        handler,
		wsServer:       wsServer,
		allowedOrigins: allowedOrigins,
		logger:         log.Named("router"),
	}
}

// Routes returns the HTTP handler for the whole service
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(rt.cors)

	h := rt.handler
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/atmosphere", h.GetAtmosphere)
		r.Post("/actions", h.PostActions)
		r.Post("/transitions", h.PostTransitions)

		r.Route("/rollouts", func(r chi.Router) {
			r.Get("/", h.GetRollouts)
			r.Post("/", h.PostRollout)
			r.Post("/batch", h.PostRolloutBatch)
			r.Get("/{id}", h.GetRollout)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.GetPolicies)
			r.Get("/{name}", h.GetPolicy)
			r.Put("/{name}", h.PutPolicy)
			r.Delete("/{name}", h.DeletePolicy)
		})

		r.Route("/flights", func(r chi.Router) {
			r.Get("/", h.GetFlights)
			r.Put("/{id}", h.PutFlight)
			r.Get("/{id}/overlay", h.GetFlightOverlay)
		})
	})

	if rt.wsServer != nil {
		r.Get("/ws", rt.wsServer.HandleConnection)
	}

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (rt *Router) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(rt.allowedOrigins, "*") || slices.Contains(rt.allowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
