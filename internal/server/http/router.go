package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"procura/internal/config"
	"procura/internal/logging"
	"procura/internal/observability"
	"procura/internal/pipeline"
	"procura/internal/rag"
)

// ServerDeps wires the HTTP server's collaborators.
type ServerDeps struct {
	Config  *config.Config
	Engine  *pipeline.Engine
	Indexer *rag.Indexer
	Store   *rag.Store
	Metrics *observability.Metrics
}

// Server hosts the purchasing pipeline API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds the gin engine, middleware chain, and route table.
func NewServer(deps ServerDeps) *Server {
	cfg := deps.Config
	logger := logging.NewComponentLogger("http-server")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.Server.EnableCORS {
		// Security rides on the X-API-Key token, not the origin.
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-API-Key"}
		engine.Use(cors.New(corsConfig))
	}

	h := &handlers{
		engine:        deps.Engine,
		indexer:       deps.Indexer,
		store:         deps.Store,
		logger:        logger,
		llmConfigured: cfg.LLM.APIKey != "",
	}

	engine.GET("/", h.handleRoot)
	engine.GET("/health", h.handleHealth)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := engine.Group("/api")
	api.Use(APIKeyAuth(cfg.Auth.APIAccessToken, deps.Metrics))

	// Ingest only writes to the vector store; it skips the daily quota.
	api.POST("/ingest/:index", h.handleIngest)

	quota := newDailyQuota(QuotaConfig{
		DailyLimit: cfg.Auth.DailyRequestLimit,
		CacheSize:  cfg.Auth.QuotaCacheSize,
	})
	costly := api.Group("")
	costly.Use(DailyQuota(quota, deps.Metrics))
	costly.POST("/pipeline/run", h.handleRunPipeline)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
