// Command ordersd serves orders over HTTP, persisting them through stillsuit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/config"
	"github.com/seb7887/gofw/stillsuit/eventbus"
	"github.com/seb7887/gofw/stillsuit/internal/httpapi"
	"github.com/seb7887/gofw/stillsuit/internal/orders"
	"github.com/seb7887/gofw/stillsuit/memory"
	"github.com/seb7887/gofw/stillsuit/observability"
	"github.com/seb7887/gofw/stillsuit/redisengine"
	"github.com/seb7887/gofw/stillsuit/sqlengine"
)

func main() {
	var configPath, configName string

	root := &cobra.Command{
		Use:   "ordersd",
		Short: "Orders HTTP service backed by stillsuit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadService(configPath, configName)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config-path", ".", "directory holding the configuration file")
	root.Flags().StringVar(&configName, "config-name", "ordersd", "configuration file name without extension")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// backend is the engine selected by the configuration and what it needs released
type backend struct {
	engine  stillsuit.Engine
	eager   bool
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
}

func openBackend(ctx context.Context, cfg *config.Config, logger stillsuit.QueryLogger) (*backend, error) {
	b := &backend{eager: true}

	switch cfg.Driver {
	case config.DriverMemory:
		e := memory.New(memory.WithLogger(logger))
		orders.RegisterMemory(e)
		b.engine = e
		return b, nil

	case config.DriverRedis:
		client := newRedisClient(cfg.Redis)
		b.closers = append(b.closers, func() { _ = client.Close() })
		e := redisengine.New(client, redisengine.WithTTL(cfg.Redis.TTL), redisengine.WithLogger(logger))
		orders.RegisterRedis(e)
		b.engine = e
		b.eager = false
		return b, nil
	}

	var (
		conn    sqlengine.Conn
		dialect sqlengine.Dialect
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlengine.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		conn, dialect = sqlengine.FromDB(db), sqlengine.SQLite
	case config.DriverPostgres:
		pool, err := sqlengine.NewPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		conn, dialect = sqlengine.FromPool(pool), sqlengine.Postgres
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	opts := []sqlengine.Option{sqlengine.WithLogger(logger)}
	if cfg.Redis.CacheTTL > 0 {
		client := newRedisClient(cfg.Redis)
		b.closers = append(b.closers, func() { _ = client.Close() })
		opts = append(opts, sqlengine.WithCache(redisengine.NewQueryCache(client, cfg.Redis.CacheTTL, "")))
	}
	e, err := sqlengine.New(conn, dialect, opts...)
	if err != nil {
		b.close()
		return nil, err
	}
	if err := orders.RegisterSQL(ctx, e); err != nil {
		b.close()
		return nil, err
	}
	b.engine = e
	return b, nil
}

func openBus(cfg *config.Config, logger hclog.Logger) (eventbus.Bus, error) {
	if cfg.NATS.URL == "" {
		return eventbus.NewInMemBus(4, logger.Named("eventbus")), nil
	}
	return eventbus.NewNatsBus[stillsuit.CommitEvent](cfg.NATS.URL, logger.Named("nats"))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "ordersd",
		Level:      hclog.LevelFromString(cfg.Log.Level),
		JSONFormat: cfg.Log.JSON,
	})

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	queryLogger := stillsuit.ChainLoggers(
		stillsuit.NewHCLogger(logger.Named("stillsuit")),
		observability.NewMetricsLogger(nil),
		observability.NewTracingLogger(tp),
	)

	b, err := openBackend(ctx, cfg, queryLogger)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Driver, err)
	}
	defer b.close()

	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()
	err = bus.Subscribe(stillsuit.CommitTopic, eventbus.ReceiverFunc(func(_ context.Context, msg any) {
		logger.Info("unit of work committed", "event", msg)
	}))
	if err != nil {
		return err
	}

	reg := stillsuit.NewRegistry()
	reg.SetDefault(b.engine)

	handler, err := httpapi.NewOrderHandler(b.eager, stillsuit.WithLogger(queryLogger))
	if err != nil {
		return err
	}
	if cfg.Redis.CacheTTL > 0 {
		handler.Cached("orders")
	}

	routes := append(handler.Routes(), httpapi.HealthRoute(cfg.Driver), httpapi.MetricsRoute())
	router := httpapi.ServiceRouter(reg, logger.Named("http"), routes,
		stillsuit.WithPublisher(bus), stillsuit.WithScopeLogger(queryLogger))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "driver", cfg.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
