package rest

import (
	"context"
	"net/http"
	"time"

	"navgraph-backend/application/services"
	"navgraph-backend/interfaces/http/rest/handlers"
	"navgraph-backend/interfaces/http/rest/middleware"
	"navgraph-backend/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router creates and configures the HTTP router
type Router struct {
	graphHandler  *handlers.GraphHandler
	streamHandler *handlers.StreamHandler
	graph         *services.NavigationGraph
	registry      *prometheus.Registry
	corsOrigins   []string
	repairToken   string
	ingestLimiter *ratelimit.IPLimiter
	logger        *zap.Logger
}

// NewRouter creates a new router instance. An empty repairToken disables
// the structure endpoint.
func NewRouter(
	graphHandler *handlers.GraphHandler,
	streamHandler *handlers.StreamHandler,
	graph *services.NavigationGraph,
	registry *prometheus.Registry,
	corsOrigins []string,
	repairToken string,
	ingestLimiter *ratelimit.IPLimiter,
	logger *zap.Logger,
) *Router {
	return &Router{
		graphHandler:  graphHandler,
		streamHandler: streamHandler,
		graph:         graph,
		registry:      registry,
		corsOrigins:   corsOrigins,
		repairToken:   repairToken,
		ingestLimiter: ingestLimiter,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID", "X-Request-ID", handlers.RepairTokenHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.registry != nil {
		router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/graph", func(r chi.Router) {
			r.Get("/", rt.graphHandler.GetGraph)
			r.Get("/meta", rt.graphHandler.GetMetaGraph)
			r.Get("/cluster/{clusterID}", rt.graphHandler.GetCluster)
			r.Get("/visualization", rt.graphHandler.GetVisualization)
			r.Get("/export", rt.graphHandler.Export)
			r.Get("/health", rt.graphHandler.GetHealth)
			r.Get("/statistics", rt.graphHandler.GetStatistics)
			r.With(middleware.RequireToken(handlers.RepairTokenHeader, rt.repairToken)).
				Post("/structure", rt.graphHandler.BuildStructure)
		})

		r.Route("/runs/{runID}/graph", func(r chi.Router) {
			r.Get("/", rt.streamHandler.GetRunGraph)
			r.Get("/stream", rt.streamHandler.StreamRunGraph)
			r.Delete("/stream", rt.streamHandler.TeardownStream)
			r.With(middleware.RateLimitByIP(rt.ingestLimiter)).
				Post("/nodes", rt.streamHandler.IngestNode)
		})
	})

	return router
}

// healthCheck reports process liveness
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck verifies the graph store answers before the instance
// takes traffic.
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	if _, err := rt.graph.GetNodeCount(ctx); err != nil {
		rt.logger.Warn("Readiness check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
