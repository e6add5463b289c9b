// Package server exposes the evaluator and the refiner over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/refiner"
	"github.com/tfvieira/tic43/internal/sink"
)

const defaultRecentResults = 128

// RowReader returns the persisted rows of a dataset.
type RowReader interface {
	Rows(ctx context.Context, name string) ([]sink.Row, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr          string
	RecentResults int
	// Workers is the default evaluator worker budget.
	Workers int
	// MaxAttempts is the default refiner attempt cap.
	MaxAttempts  int
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		RecentResults: defaultRecentResults,
		Workers:       answer_eval.DefaultWorkers,
		MaxAttempts:   refiner.DefaultMaxAttempts,
		EnableCORS:    true,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  0, // refinements can run for minutes
	}
}

// Deps are the collaborators the handlers call. Any of them may be nil; the
// matching routes then answer 503.
type Deps struct {
	Evaluator *answer_eval.Evaluator
	Refiner   *refiner.Refiner
	Sink      sink.Sink
	Results   RowReader
	Metrics   *observability.MetricsCollector
	Tracer    *observability.TracerProvider
	Logger    logging.Logger
}

// Server is the gin-based HTTP surface.
type Server struct {
	config  Config
	deps    Deps
	logger  logging.Logger
	engine  *gin.Engine
	results *lru.Cache[string, *RefinementStatus]

	// baseCtx outlives requests; background refinements derive from it.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime  time.Time
	httpServer *http.Server
}

// New builds a server and registers its routes.
func New(config Config, deps Deps) (*Server, error) {
	if config.RecentResults <= 0 {
		config.RecentResults = defaultRecentResults
	}
	if config.Workers <= 0 {
		config.Workers = answer_eval.DefaultWorkers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = refiner.DefaultMaxAttempts
	}

	results, err := lru.New[string, *RefinementStatus](config.RecentResults)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("server")
	}

	engine := gin.New()
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(RequestLogMiddleware(logger))
	engine.Use(TracingMiddleware(deps.Tracer))
	if config.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
		engine.Use(cors.New(corsConfig))
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		engine:    engine,
		results:   results,
		baseCtx:   baseCtx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	api := s.engine.Group("/api")
	api.Use(JSONMiddleware())

	api.POST("/evaluations", s.handleEvaluate)
	api.GET("/datasets/:name/results", s.handleDatasetResults)

	refinements := api.Group("/refinements")
	{
		refinements.POST("", s.handleCreateRefinement)
		refinements.GET("/:id", s.handleGetRefinement)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully and waits for
// background refinements to observe cancellation.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.config.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close cancels background refinements and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
