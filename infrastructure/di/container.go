package di

import (
	"context"
	"fmt"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/application/services"
	"navgraph-backend/infrastructure/config"
	"navgraph-backend/infrastructure/embedding"
	"navgraph-backend/infrastructure/persistence"
	dynamostore "navgraph-backend/infrastructure/persistence/dynamodb"
	"navgraph-backend/infrastructure/persistence/memory"
	"navgraph-backend/infrastructure/runs"
	"navgraph-backend/interfaces/http/rest"
	"navgraph-backend/interfaces/http/rest/handlers"
	"navgraph-backend/interfaces/sse"
	"navgraph-backend/pkg/observability"
	"navgraph-backend/pkg/ratelimit"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Container wires the application together. Construction order follows
// the dependency direction: store, graph service, derived services,
// transport, HTTP surface.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Registry *prometheus.Registry
	Tunables *config.TunablesWatcher

	Store         ports.GraphStore
	Graph         *services.NavigationGraph
	Clustering    *services.ClusteringService
	Structure     *services.StructureBuilder
	Runs          *runs.Registry
	Hub           *sse.Hub
	Streamer      *services.RunStreamer
	IngestLimiter *ratelimit.IPLimiter

	Router *rest.Router
}

// InitializeContainer constructs the full object graph
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := provideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	c := &Container{Config: cfg, Logger: logger}

	if cfg.EnableMetrics {
		c.Registry = prometheus.NewRegistry()
		c.Metrics = observability.NewMetrics(c.Registry)
	}

	if cfg.TunablesPath != "" {
		c.Tunables, err = config.NewTunablesWatcher(cfg.TunablesPath, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize tunables watcher: %w", err)
		}
	}

	if err := c.provideStore(ctx); err != nil {
		return nil, err
	}

	c.Graph = services.NewNavigationGraph(c.Store, logger, c.Metrics)
	c.Clustering = services.NewClusteringService(c.Graph, logger, c.Metrics)

	var provider ports.EmbeddingProvider
	if cfg.EmbeddingAPIKey != "" {
		provider = embedding.NewOpenAIProvider(
			cfg.EmbeddingAPIKey,
			cfg.EmbeddingBaseURL,
			cfg.EmbeddingModel,
			logger,
		)
	} else {
		logger.Warn("No embedding API key configured, semantic repair disabled")
	}
	builder := services.NewRelationshipBuilder(c.Graph, provider, nil, logger)
	c.Structure = services.NewStructureBuilder(c.Graph, builder, c.Clustering, logger)

	c.Runs = runs.NewRegistry(logger)
	c.Hub = sse.NewHub(logger, c.Metrics)

	c.Streamer = services.NewRunStreamer(c.Graph, c.Runs, c.Hub, cfg.StreamThrottle, logger, c.Metrics)
	if c.Tunables != nil {
		watcher := c.Tunables
		c.Streamer.SetThrottleProvider(func() time.Duration {
			return watcher.Current().StreamThrottleDuration()
		})
	}

	graphHandler := handlers.NewGraphHandler(c.Graph, c.Clustering, c.Structure, logger)
	streamHandler := handlers.NewStreamHandler(c.Streamer, c.Hub, c.Runs, logger)
	c.IngestLimiter = ratelimit.NewIPLimiter(50)
	c.Router = rest.NewRouter(
		graphHandler,
		streamHandler,
		c.Graph,
		c.Registry,
		cfg.CORSOrigins,
		cfg.RepairToken,
		c.IngestLimiter,
		logger,
	)

	return c, nil
}

// provideStore selects the graph store backend and hooks the dynamic
// traversal caps into it.
func (c *Container) provideStore(ctx context.Context) error {
	var capsFn func() persistence.TraversalCaps
	if c.Tunables != nil {
		watcher := c.Tunables
		capsFn = func() persistence.TraversalCaps {
			t := watcher.Current()
			return persistence.TraversalCaps{
				MaxDepth: t.MaxSubgraphDepth,
				MaxNodes: t.MaxSubgraphNodes,
			}
		}
	}

	switch c.Config.StoreBackend {
	case config.StoreBackendMemory:
		store := memory.NewGraphStore()
		if capsFn != nil {
			store.SetTraversalCaps(capsFn)
		}
		c.Store = store

	case config.StoreBackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(c.Config.AWSRegion),
		)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		store := dynamostore.NewGraphStore(
			awsdynamodb.NewFromConfig(awsCfg),
			c.Config.DynamoDBTable,
			c.Logger,
		)
		if capsFn != nil {
			store.SetTraversalCaps(capsFn)
		}
		c.Store = store

	default:
		return fmt.Errorf("unknown store backend %q", c.Config.StoreBackend)
	}
	return nil
}

// Shutdown releases long-lived resources in reverse construction order
func (c *Container) Shutdown() {
	if c.Streamer != nil {
		c.Streamer.Stop()
	}
	if c.Hub != nil {
		c.Hub.Stop()
	}
	if c.Tunables != nil {
		c.Tunables.Stop()
	}
}

// provideLogger creates a new logger instance
func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
