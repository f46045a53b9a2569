// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/participadf/ouvidoria/internal/api"
	"github.com/participadf/ouvidoria/internal/config"
	"github.com/participadf/ouvidoria/internal/draft"
	"github.com/participadf/ouvidoria/internal/llm"
	"github.com/participadf/ouvidoria/internal/privacy"
	"github.com/participadf/ouvidoria/internal/services"
	"github.com/participadf/ouvidoria/internal/storage"
	"github.com/participadf/ouvidoria/internal/utils"

	// generator backends register themselves
	_ "github.com/participadf/ouvidoria/internal/llm/providers/anthropic"
	_ "github.com/participadf/ouvidoria/internal/llm/providers/ollama"
	_ "github.com/participadf/ouvidoria/internal/llm/providers/openai"
)

const (
	shutdownTimeout  = 30 * time.Second
	readinessTimeout = 5 * time.Second
	metricsInterval  = 5 * time.Minute
)

// App owns the long-lived components of the service.
type App struct {
	Config         *config.Config
	Logger         *utils.Logger
	Metrics        *utils.APIMetrics
	Store          *storage.SQLiteStore
	Blobs          *storage.BlobStorage
	Generator      *services.GeneratorService
	Iza            *services.IzaService
	Manifestations *services.ManifestationService
	Stats          *services.StatsService
	WebSockets     *api.WebSocketManager

	router *gin.Engine
}

// Option customizes New.
type Option func(*options)

type options struct {
	provider llm.Provider
	logger   *utils.Logger
	metrics  *utils.APIMetrics
}

// WithProvider uses an already initialized generator backend instead of the registry.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithLogger replaces the process logger.
func WithLogger(l *utils.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics replaces the process metrics collector.
func WithMetrics(m *utils.APIMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// New wires storage, the generator, services and the router.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = utils.GetLogger()
		if cfg.DebugMode {
			o.logger.SetLogLevel(utils.DEBUG)
		}
	}
	if o.metrics == nil {
		o.metrics = utils.NewAPIMetrics(nil, o.logger)
	}

	rules, err := draft.LoadRuleSet(cfg.Iza.RuleSet, cfg.Iza.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}

	provider := o.provider
	if provider == nil {
		provider, err = llm.GetProvider(cfg.Generator.Provider, llm.Config{
			BaseURL:     cfg.Generator.BaseURL,
			APIKey:      cfg.Generator.APIKey,
			Model:       cfg.Generator.Model,
			Temperature: cfg.Generator.Temperature,
			TopP:        cfg.Generator.TopP,
			NumCtx:      cfg.Generator.NumCtx,
			MaxTokens:   cfg.Generator.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("generator provider: %w", err)
		}
	}

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	blobs, err := storage.NewBlobStorage(cfg.UploadDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	stats := services.NewStatsService(filepath.Join(cfg.DataDir, "usage_stats.json"), store, o.logger)
	generator := services.NewGeneratorService(provider, services.GeneratorOptions{
		Provider:     cfg.Generator.Provider,
		BaseURL:      cfg.Generator.BaseURL,
		Model:        cfg.Generator.Model,
		Temperature:  cfg.Generator.Temperature,
		TopP:         cfg.Generator.TopP,
		NumCtx:       cfg.Generator.NumCtx,
		MaxTokens:    cfg.Generator.MaxTokens,
		Timeout:      cfg.Generator.Timeout,
		HistoryLimit: cfg.Iza.HistoryLimit,
		Usage:        stats,
	}, o.metrics, o.logger)

	a := &App{
		Config:    cfg,
		Logger:    o.logger,
		Metrics:   o.metrics,
		Store:     store,
		Blobs:     blobs,
		Generator: generator,
		Iza:       services.NewIzaService(generator, rules, privacy.NewRedactor(), o.metrics, o.logger),
		Manifestations: services.NewManifestationService(store, blobs, services.ManifestationOptions{
			MaxFileBytes: cfg.MaxFileBytes(),
			SLADays:      cfg.SLADays,
			Rules:        rules,
		}, o.metrics, o.logger),
		Stats:      stats,
		WebSockets: api.NewWebSocketManager(o.metrics, o.logger),
	}

	a.router = api.SetupRouter(api.RouterConfig{
		Iza:            a.Iza,
		Generator:      a.Generator,
		Manifestations: a.Manifestations,
		Readiness:      a,
		Stats:          a.Stats,
		WebSockets:     a.WebSockets,
		Metrics:        a.Metrics,
		Logger:         a.Logger,
		CORSOrigins:    cfg.CORSOrigins,
		MaxFileBytes:   cfg.MaxFileBytes(),
		ChatRateLimit:  cfg.Iza.RateLimitPerMin,
		ChatRateWindow: time.Minute,
		RuleSet:        a.Iza.Rules().Name,
		DebugMode:      cfg.DebugMode,
	})

	a.Logger.Info("application initialized", map[string]interface{}{
		"provider": cfg.Generator.Provider,
		"model":    cfg.Generator.Model,
		"ruleset":  rules.Name,
		"database": cfg.DatabasePath,
	})
	return a, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Ready probes the record store and the generator concurrently.
func (a *App) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("banco de dados: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		status := a.Generator.Health(ctx)
		if status.OK {
			return nil
		}
		if status.Error != "" {
			return fmt.Errorf("gerador: %s", status.Error)
		}
		return fmt.Errorf("gerador: modelo %s indisponível", status.Model)
	})
	return g.Wait()
}

// Run listens on the configured port until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+a.Config.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	a.Metrics.StartMetricsCollection(metricsCtx, metricsInterval)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.WebSockets.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.Logger.Info("server stopped", nil)
	return nil
}

// Close flushes usage stats, releases the record store and flushes logs.
func (a *App) Close() error {
	if err := a.Stats.Flush(); err != nil {
		a.Logger.Warn("failed to flush usage stats", map[string]interface{}{"error": err.Error()})
	}
	err := a.Store.Close()
	a.Logger.Sync()
	return err
}
