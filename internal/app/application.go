package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"livepoll/internal/api"
	"livepoll/internal/config"
	"livepoll/internal/coordinator"
	"livepoll/internal/database"
	"livepoll/internal/relay"
	"livepoll/internal/websocket"
	dbconfig "livepoll/pkg/database"
	"livepoll/pkg/interfaces"
	redisclient "livepoll/pkg/redis"
)

// Application owns every long-lived component and their start/stop order.
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	registry    *websocket.Registry
	coordinator *coordinator.Coordinator
	archive     *database.Manager
	redis       *redisclient.Client
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
}

// NewApplication wires the components in dependency order:
// Registry → Archive → Relay → Coordinator → WebSocket handler → API → HTTP.
// Nothing accepts traffic until Start.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, logger: logger}
	app.registry = websocket.NewRegistry()

	var sinks []interfaces.ResultSink
	apiOpts := []api.Option{
		api.WithCORSOrigins(cfg.HTTP.CORSOrigins),
		api.WithLogger(logger.Named("http")),
	}

	if cfg.Database.Enabled {
		archive, err := openArchive(cfg.Database, logger.Named("archive"))
		if err != nil {
			return nil, err
		}
		app.archive = archive
		sinks = append(sinks, archive)
		apiOpts = append(apiOpts, api.WithArchive(archive))
	}

	if cfg.Redis.Enabled {
		client, err := redisclient.NewClient(ctx, redisclient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.Named("redis"))
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = client
		sinks = append(sinks, relay.NewPublisher(client, cfg.Redis.Channel, logger.Named("relay")))
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", client))
	}

	app.coordinator = coordinator.New(app.registry,
		coordinator.WithRules(*cfg.Poll),
		coordinator.WithChatRateLimit(cfg.Chat.RateLimitPerMinute),
		coordinator.WithResultSinks(sinks...),
		coordinator.WithArchiveTimeout(cfg.Database.ArchiveTimeout),
		coordinator.WithLogger(logger.Named("coordinator")),
	)

	wsHandler := websocket.NewHandler(app.registry, app.coordinator, websocketSettings(cfg.WebSocket), logger.Named("websocket"))
	app.apiServer = api.NewServer(app.coordinator, app.registry, http.HandlerFunc(wsHandler.HandleWebSocket), apiOpts...)

	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

func openArchive(cfg *config.DatabaseConfig, logger *zap.Logger) (*database.Manager, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := dbconfig.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.MaxConnections = cfg.MaxConnections
	dbConfig.WriteRetryDelay = cfg.WriteRetryDelay
	if err := dbConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	archive, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize result archive: %w", err)
	}
	return archive, nil
}

func websocketSettings(cfg *config.WebSocketConfig) websocket.Settings {
	return websocket.Settings{
		SendBuffer:     cfg.BufferSize,
		WriteTimeout:   cfg.WriteTimeout,
		PongTimeout:    cfg.ReadTimeout,
		PingInterval:   cfg.PingInterval,
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

// Start runs the coordinator and then begins accepting connections. The
// listener is bound before Start returns, so Addr is valid afterwards.
func (app *Application) Start(ctx context.Context) error {
	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.coordinator.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("livepoll started",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("archive", app.archive != nil),
		zap.Bool("relay", app.redis != nil))
	return nil
}

// Stop shuts down in reverse order: HTTP, open websockets, the coordinator
// (which flushes queued results to the sinks), then the stores.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down livepoll")

	var errs []error
	if app.listener != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	app.registry.CloseAll()

	if err := app.coordinator.Stop(); err != nil && !errors.Is(err, coordinator.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("coordinator stop: %w", err))
	}

	errs = append(errs, app.closeStores()...)

	app.logger.Info("livepoll shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) closeStores() []error {
	var errs []error
	if app.archive != nil {
		if err := app.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive close: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	return errs
}

// Addr returns the bound listener address once started, otherwise the
// configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
