// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/budgetbook/mailroom/internal/auth"
	"github.com/budgetbook/mailroom/internal/config"
	"github.com/budgetbook/mailroom/internal/mailer"
	"github.com/budgetbook/mailroom/internal/mailer/postmark"
	"github.com/budgetbook/mailroom/internal/mailer/smtp"
	"github.com/budgetbook/mailroom/internal/pkg/ctxlog"
	"github.com/budgetbook/mailroom/internal/pkg/httputil"
	"github.com/budgetbook/mailroom/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	queue         *mailer.Queue
	runner        *mailer.Runner
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := ctxlog.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	renderer, err := mailer.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	transport, err := newTransport(cfg.Transport, renderer)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	queue := mailer.New(transport, renderer, mailer.Config{
		BatchSize:   cfg.Queue.BatchSize,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})

	runner := mailer.NewRunner(mailer.RunnerConfig{
		PollInterval:    cfg.Queue.PollInterval,
		CleanupInterval: cfg.Queue.CleanupInterval,
		CleanupMaxAge:   cfg.Queue.CleanupMaxAge,
	}, queue)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		queue:         queue,
		runner:        runner,
		metricsCancel: metricsCancel,
	}

	router, err := app.setupRouter()
	if err != nil {
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	runner.Start(metricsCtx)
	go app.collectQueueMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// newTransport builds the configured delivery transport.
func newTransport(cfg config.TransportConfig, renderer *mailer.Renderer) (mailer.Transport, error) {
	switch cfg.Provider {
	case "smtp":
		return smtp.NewSender(smtp.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			User:        cfg.SMTP.User,
			Password:    cfg.SMTP.Password,
			FromAddress: cfg.SMTP.FromAddress,
			RateLimit:   cfg.SMTP.RateLimit,
		}, renderer)
	case "postmark":
		return postmark.NewSender(postmark.Config{
			ServerToken:  cfg.Postmark.ServerToken,
			AccountToken: cfg.Postmark.AccountToken,
			FromAddress:  cfg.Postmark.FromAddress,
			ReplyTo:      cfg.Postmark.ReplyTo,
		})
	case "none":
		slog.Warn("transport disabled: outbound emails will be logged and dropped")
		return dropTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}
}

// dropTransport logs deliveries instead of sending them. Used with the
// "none" provider for local development.
type dropTransport struct{}

func (dropTransport) Send(_ context.Context, email mailer.Email) (string, error) {
	slog.Info("transport disabled, dropping email", "to", email.To, "subject", email.Subject)
	return "dropped", nil
}

func (dropTransport) SendTemplate(_ context.Context, kind mailer.TemplateKind, email mailer.TemplateEmail) (string, error) {
	slog.Info("transport disabled, dropping templated email", "to", email.To, "template", kind)
	return "dropped", nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. The runner stops
// first so no drain pass is in flight while the servers close.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()
	a.runner.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	stats := a.queue.Stats()
	if stats.Pending > 0 || stats.Processing > 0 {
		a.logger.Warn("shutting down with undelivered queue items",
			"pending", stats.Pending,
			"processing", stats.Processing,
		)
	}

	return errors.Join(errs...)
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	mailer.RecordQueueStats(a.queue.Stats())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mailer.RecordQueueStats(a.queue.Stats())
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Queue returns the queue instance. Used in tests to inspect state.
func (a *App) Queue() *mailer.Queue {
	return a.queue
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/version", a.versionHandler)

	authenticator, err := auth.NewAuthenticator(auth.Config{
		SecretKey: a.config.Auth.TokenSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	queueHandler := mailer.NewHandler(a.queue)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(authenticator))
		queueHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}
