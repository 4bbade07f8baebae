// Package gateway provides a reusable Streams build gateway library that can
// be embedded into other Go applications.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/api"
	"github.com/lei/streams-build/internal/archive"
	"github.com/lei/streams-build/internal/config"
	"github.com/lei/streams-build/internal/credstore"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/journal"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/notify"
	"github.com/lei/streams-build/internal/provider/streams"
	"github.com/lei/streams-build/internal/service"
	"github.com/lei/streams-build/internal/toolkits"
	"github.com/lei/streams-build/internal/workflow"
	"github.com/lei/streams-build/pkg/logger"
)

// Version is sent as the build originator version
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// Config holds the configuration for the Gateway
type Config = config.Config

type (
	ServerConfig        = config.ServerConfig
	AuthConfig          = config.AuthConfig
	APIKey              = config.APIKey
	PlatformConfig      = config.PlatformConfig
	OrchestrationConfig = config.OrchestrationConfig
	BuildConfig         = config.BuildConfig
	JournalConfig       = config.JournalConfig
	LoggingConfig       = config.LoggingConfig
	Duration            = config.Duration
)

// Gateway is a Streams build gateway that can be embedded in applications
type Gateway struct {
	config   *Config
	engine   *engine.Engine
	service  *service.Service
	events   *notify.Hub
	store    *journal.Store
	recorder *journal.Recorder
	router   http.Handler
	server   *http.Server
	logger   *logger.Logger
}

// New creates a new Gateway instance with the provided configuration.
// Zero fields are filled with defaults.
func New(cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Normalize(cfg); err != nil {
		return nil, err
	}

	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	client := streams.NewClient(&streams.Config{
		Timeout:            cfg.Platform.RequestTimeout.Std(),
		InsecureSkipVerify: cfg.Platform.InsecureSkipVerify,
	}, appLogger)

	creds := credstore.NewMemory()
	if cfg.Platform.RememberPassword && cfg.Platform.Username != "" && cfg.Platform.Password != "" {
		if err := creds.Add(cfg.Platform.Username, cfg.Platform.Password); err != nil {
			return nil, fmt.Errorf("store credentials: %w", err)
		}
	}

	hub := notify.NewHub(0)
	notifier := notify.New(hub, appLogger)

	eng := engine.New(appLogger)
	eng.Use(engine.AuthGate)
	eng.Register(workflow.All(workflow.Deps{
		Provider:  client,
		Archives:  archive.Prepared{TempDir: cfg.Build.ArchiveDir},
		Creds:     creds,
		Toolkits:  toolkits.Cache{Dir: cfg.Build.ToolkitsCacheDir},
		Notifier:  notifier,
		Presenter: notifier,
		Prompter:  notifier,
		Opener:    notifier,
		Timings:   cfg.Orchestration.Timings(),
		Logger:    appLogger,
	})...)

	g := &Gateway{
		config: cfg,
		engine: eng,
		events: hub,
		logger: appLogger,
	}

	if cfg.Journal.Path != "" {
		store, err := journal.Open(context.Background(), cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		g.store = store
		g.recorder = journal.NewRecorder(store, appLogger, cfg.Journal.Buffer)
		eng.Observe(g.recorder.Observe)
		appLogger.Info("journal enabled", "path", cfg.Journal.Path)
	}

	watcher := service.NewWatcher()
	eng.Observe(watcher.Observe)
	g.service = service.NewService(eng, watcher, g.store, appLogger)

	router := api.NewRouter(
		api.NewHandlers(g.service, hub),
		api.NewAuthMiddleware(cfg.Auth.APIKeys),
		api.NewLoggingMiddleware(appLogger),
		api.RouterOptions{
			RequestTimeout: cfg.Server.RequestTimeout.Std(),
			AllowedOrigins: cfg.Server.CORSOrigins,
		},
	)
	g.router = router
	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	appLogger.Info("gateway configured",
		"instance_type", cfg.Platform.InstanceType,
		"platform_url", cfg.Platform.URL)
	return g, nil
}

// bootstrap seeds the connection settings and runs session activation
func (g *Gateway) bootstrap() {
	p := g.config.Platform
	b := g.config.Build

	instanceType := models.InstanceCP4D
	if p.Standalone() {
		instanceType = models.InstanceStandalone
	}
	actions := []action.Action{
		action.SetInstanceType{Type: instanceType},
		action.SetPlatformURL{URL: p.URL},
		action.SetUseMasterNodeHost{Enabled: p.UseMasterNodeHost},
	}
	if p.InstancesRootURL != "" {
		actions = append(actions, action.SetInstancesRootURL{URL: p.InstancesRootURL})
	}
	if p.RestURL != "" {
		actions = append(actions, action.SetRestURL{URL: p.RestURL})
	}
	if p.BuildURL != "" {
		actions = append(actions, action.SetBuildURL{URL: p.BuildURL})
	}
	actions = append(actions,
		action.SetToolkitsCacheDir{Dir: b.ToolkitsCacheDir},
		action.SetToolkitsPathSetting{Path: b.ToolkitsPath},
		action.SetBuildOriginator{Originator: b.Originator, Version: Version},
	)
	if p.Username != "" {
		actions = append(actions, action.SetRememberedUser{Username: p.Username, RememberPassword: p.RememberPassword})
	}
	actions = append(actions, action.PackageActivated{})
	g.engine.Dispatch(actions...)
}

// autoLogin logs in with the configured credentials and selects the
// configured instance. Failures are logged; the API stays usable for a
// manual login.
func (g *Gateway) autoLogin(ctx context.Context) {
	p := g.config.Platform
	if p.Username == "" || p.Password == "" {
		return
	}
	loginCtx, cancel := context.WithTimeout(ctx, p.RequestTimeout.Std()*2)
	defer cancel()

	res, err := g.service.Login(loginCtx, service.LoginRequest{
		Username:         p.Username,
		Password:         p.Password,
		RememberPassword: p.RememberPassword,
	})
	if err != nil {
		g.logger.Warn("auto login failed", "username", p.Username, "error", err)
		return
	}
	if res.Step == action.LoginStepAuthenticated || p.InstanceName == "" {
		return
	}
	if _, err := g.service.SelectInstance(loginCtx, p.InstanceName); err != nil {
		g.logger.Warn("auto select instance failed", "instance", p.InstanceName, "error", err)
	}
}

// Activate starts the engine in the background and seeds the session
// settings. Calls on Service made after Activate returns see the seeded
// state. The returned function stops the engine and flushes the journal.
func (g *Gateway) Activate(ctx context.Context) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- g.engine.Run(ctx) }()
	g.bootstrap()

	return func() error {
		cancel()
		err := <-done
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
}

// Run activates the gateway and logs in with the configured credentials
// without serving HTTP. It blocks until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	stop := g.Activate(ctx)
	g.autoLogin(ctx)
	<-ctx.Done()
	return stop()
}

// Start starts the engine and the HTTP server.
// This is a blocking call that will run until the context is canceled or an error occurs
func (g *Gateway) Start(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := g.engine.Run(gctx); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		g.logger.Info("starting http server", "port", g.config.Server.Port)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		g.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			g.server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		g.logger.Info("server stopped gracefully")
		return nil
	})

	g.bootstrap()
	go g.autoLogin(gctx)

	err := group.Wait()
	if cerr := g.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close flushes the journal and closes it. Start and Activate call it on
// shutdown; repeated calls are no-ops.
func (g *Gateway) Close() error {
	if g.recorder == nil {
		return nil
	}
	return g.recorder.Close()
}

// Handler returns the http.Handler for the gateway
// Use this if you want to integrate the gateway into an existing HTTP server.
// The engine must be running, see Run.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Service returns the underlying service layer
// Use this for direct programmatic access to gateway functionality
func (g *Gateway) Service() *service.Service {
	return g.service
}

// Events returns the hub that carries user-facing notifications
func (g *Gateway) Events() *notify.Hub {
	return g.events
}

// Config returns the normalized configuration
func (g *Gateway) Config() *Config {
	return g.config
}

// Logger returns the gateway logger
func (g *Gateway) Logger() *logger.Logger {
	return g.logger
}

// NewFromEnv creates a Gateway from a .env file, an optional config file and
// STREAMS_* environment variables. An empty configFile reads the
// environment only.
func NewFromEnv(configFile string) (*Gateway, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg)
}
