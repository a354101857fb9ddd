package app

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libredis "gridwatch/backend/libs/redis"
	"gridwatch/backend/services/telemetry-service/internal/config"
	httpserver "gridwatch/backend/services/telemetry-service/internal/http"
	"gridwatch/backend/services/telemetry-service/internal/http/handlers"
	"gridwatch/backend/services/telemetry-service/internal/http/middleware"
	"gridwatch/backend/services/telemetry-service/internal/relay"
	"gridwatch/backend/services/telemetry-service/internal/repository"
	"gridwatch/backend/services/telemetry-service/internal/service"
	"gridwatch/backend/services/telemetry-service/internal/ws"
)

// App wires telemetry service dependencies.
type App struct {
	server *httpserver.Server
	hub    *ws.Hub
	relay  *relay.RedisRelay
	redis  *goredis.Client
	cancel context.CancelFunc
	logger *zap.Logger
}

// New constructs application components. ctx bounds the lifetime of live-feed viewers.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := repository.NewLogStore(repository.Options{
		Path:             cfg.Store.Path,
		Sheet:            cfg.Store.Sheet,
		LockTimeout:      cfg.Store.LockTimeout,
		LockPollInterval: cfg.Store.LockPollInterval,
	}, logger.Named("store"))
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger.Named("hub"))

	a := &App{hub: hub, logger: logger}

	// The hub is always fed directly. With redis the relay also carries each record to
	// the other processes and feeds this hub with theirs.
	var publisher service.Publisher = hub
	if cfg.RelayEnabled() {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.relay = relay.NewRedisRelay(client, cfg.Redis.Channel, hub, logger.Named("relay"))
		publisher = a.relay
	}

	ingestion := service.NewTelemetryService(store, publisher, service.IngestOptions{
		LockRetries:  cfg.Ingest.LockRetries,
		RetryBackoff: cfg.Ingest.RetryBackoff,
	}, logger.Named("ingest"))
	aggregation := service.NewAggregationService(store)
	backups := service.NewBackupService(store, cfg.Store.BackupDir, logger.Named("backup"))

	viewerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	wsServer := ws.NewServer(viewerCtx, hub, ws.ConnOptions{
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, logger.Named("ws"))

	routes := httpserver.Routes{
		Ingest: handlers.NewIngestHandler(ingestion, logger),
		Data: handlers.NewDataHandlers(aggregation, backups, store, handlers.DataDefaults{
			RecentCount: cfg.Query.RecentDefault,
			FaultLimit:  cfg.Query.FaultLimitDefault,
		}, logger),
		LiveFeed: wsServer.HandleWS,
		Health:   handlers.NewHealthHandler(time.Now(), hub.Count),
	}
	router := httpserver.NewRouter(routes, httpserver.Guards{
		Authenticated: middleware.Authenticate(cfg.JWT.Secret),
		Elevated:      middleware.RequireRole(cfg.JWT.ElevatedRole),
	})

	a.server = httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORS(cfg.CORS.Origins),
		middleware.RateLimit(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
	)
	a.server.OnShutdown(hub.CloseAll)

	return a, nil
}

// Run serves HTTP and, when configured, the record relay until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(ctx)
	})
	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(ctx, nil)
		})
	}
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.hub.CloseAll()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
