package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/oob"
	"github.com/aussiebroadwan/walletkit/pkg/slogx"
	"github.com/aussiebroadwan/walletkit/pkg/walletsdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the wallet client for one CLI invocation.
type Application struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	registry *prometheus.Registry
	client   *walletsdk.Client
	listener *oob.CallbackListener
	metrics  *http.Server
}

// Option customises an Application, mostly for tests.
type Option func(*options)

type options struct {
	out     io.Writer
	logger  *slog.Logger
	surface oob.Surface
}

// WithOutput redirects command results, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithLogger replaces the logger built from Config.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSurface replaces the system browser.
func WithSurface(s oob.Surface) Option {
	return func(o *options) { o.surface = s }
}

// New creates an Application with all dependencies initialized.
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{
		cfg:      cfg,
		out:      o.out,
		logger:   o.logger,
		registry: prometheus.NewRegistry(),
	}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "walletctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}
	app.registry.MustRegister(collectors.NewGoCollector())

	listener, err := oob.NewCallbackListener(oob.CallbackConfig{
		Addr:          cfg.CallbackAddr,
		TrustedOrigin: cfg.BaseURL,
		RateLimit:     cfg.CallbackRateLimit,
		Logger:        app.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize callback listener: %w", err)
	}
	app.listener = listener

	surface := o.surface
	if surface == nil {
		surface = oob.BrowserSurface{Logger: app.logger}
	}

	client, err := walletsdk.New(cfg.BaseURL,
		walletsdk.WithLogger(app.logger),
		walletsdk.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		walletsdk.WithSurface(surface),
		walletsdk.WithMessageSource(listener),
		walletsdk.WithActionTimeout(cfg.ActionTimeout),
		walletsdk.WithRefreshSkew(cfg.RefreshSkew),
		walletsdk.WithMetrics(app.registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wallet client: %w", err)
	}
	app.client = client

	return app, nil
}

// Client is the configured wallet client.
func (app *Application) Client() *walletsdk.Client { return app.client }

// Run executes one command and releases everything it started.
func (app *Application) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		app.usage()
		return errUsage
	}

	cmd, ok := app.commands()[args[0]]
	if !ok {
		app.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	if app.cfg.MetricsAddr != "" {
		app.startMetrics()
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			app.logger.Error("shutdown failed", "error", err)
		}
	}()

	return cmd.run(ctx, args[1:])
}

// Shutdown stops the callback listener and the metrics server.
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	var errs []error
	if err := app.listener.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("callback listener: %w", err))
	}
	if app.metrics != nil {
		if err := app.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
		app.metrics = nil
	}
	return errors.Join(errs...)
}

func (app *Application) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	app.metrics = &http.Server{
		Addr:              app.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	srv := app.metrics
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics server failed", "error", err)
		}
	}()
	app.logger.Info("metrics server starting", "addr", app.cfg.MetricsAddr)
}
