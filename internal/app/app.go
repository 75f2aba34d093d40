package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	server "github.com/Ruskei/BetterHud"
	"github.com/Ruskei/BetterHud/internal/config"
	"github.com/Ruskei/BetterHud/internal/engine"
	"github.com/Ruskei/BetterHud/internal/ingest"
	servernet "github.com/Ruskei/BetterHud/internal/net"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/placeholder/async"
	"github.com/Ruskei/BetterHud/internal/placeholder/builtin"
	"github.com/Ruskei/BetterHud/internal/sched"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/logging"
	loggingSinks "github.com/Ruskei/BetterHud/logging/sinks"
)

const (
	defaultAddr     = ":8080"
	sweepInterval   = time.Second
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Logger telemetry.Logger
	// ConfigPath overrides HUD_CONFIG.
	ConfigPath string
}

// settings are the process-level overrides read from the environment.
type settings struct {
	addr          string
	tickRate      int
	workers       int
	redisAddr     string
	eventsChannel string
	logJSON       string
}

func readSettings(logger telemetry.Logger) settings {
	s := settings{
		addr:          defaultAddr,
		redisAddr:     os.Getenv("HUD_REDIS_ADDR"),
		eventsChannel: os.Getenv("HUD_EVENTS_CHANNEL"),
		logJSON:       os.Getenv("HUD_LOG_JSON"),
	}
	if raw := os.Getenv("HUD_ADDR"); raw != "" {
		s.addr = raw
	}
	if raw := os.Getenv("HUD_TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err != nil {
			logger.Printf("invalid HUD_TICK_RATE=%q: %v", raw, err)
		} else if value <= 0 {
			logger.Printf("invalid HUD_TICK_RATE=%q: must be positive", raw)
		} else {
			s.tickRate = value
		}
	}
	if raw := os.Getenv("HUD_WORKERS"); raw != "" {
		if value, err := strconv.Atoi(raw); err != nil {
			logger.Printf("invalid HUD_WORKERS=%q: %v", raw, err)
		} else if value < 0 {
			logger.Printf("invalid HUD_WORKERS=%q: must not be negative", raw)
		} else {
			s.workers = value
		}
	}
	return s
}

func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	env := readSettings(telemetryLogger)

	logConfig := logging.DefaultConfig()
	sinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console)},
	}
	if env.logJSON != "" {
		file, err := os.OpenFile(env.logJSON, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open json log %s: %w", env.logJSON, err)
		}
		defer file.Close()
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
		logConfig.JSON.FilePath = env.logJSON
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metricsSet := &logging.Metrics{}
	metrics := telemetry.WrapMetrics(metricsSet)

	path := cfg.ConfigPath
	if path == "" {
		path = config.Path()
	}
	doc, err := config.Load(path)
	if err != nil {
		return err
	}
	engineCfg, warnings, err := config.Build(doc)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		telemetryLogger.Printf("config %s: %s", path, warning)
	}
	if env.tickRate > 0 {
		engineCfg.TickRate = env.tickRate
	}
	if env.workers > 0 {
		engineCfg.Workers = env.workers
	}
	if engineCfg.TickRate <= 0 {
		engineCfg.TickRate = sched.DefaultTickRate
	}

	var client *redis.Client
	var resolver *async.Resolver
	if env.redisAddr != "" {
		client = redis.NewClient(&redis.Options{Addr: env.redisAddr})
		defer client.Close()
		resolver = async.NewResolver(async.NewRedisFetcher(client, ""), async.DefaultConfig(), logging.SystemClock{}, metrics)
	}

	var eng *engine.Engine
	registry := placeholder.NewRegistry()
	err = builtin.Register(registry, builtin.Options{
		Now: func() uint64 {
			if eng == nil {
				return 0
			}
			return eng.Tick()
		},
		Remote: resolver,
	})
	if err != nil {
		return fmt.Errorf("failed to register placeholders: %w", err)
	}

	eng, err = engine.New(engineCfg, engine.Deps{
		Registry:  registry,
		Async:     resolver,
		Publisher: router,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to construct engine: %w", err)
	}

	hubCfg := server.DefaultHubConfig()
	hubCfg.TickRate = engineCfg.TickRate
	hubCfg.Logger = telemetryLogger
	hub := server.NewHub(eng, hubCfg, router)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:  telemetryLogger,
		Router:  router,
		Metrics: metricsSet,
	})
	srv := &http.Server{Addr: env.addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.RunSimulation(gctx)
		return nil
	})
	g.Go(func() error {
		eng.RunSweeper(gctx, sweepInterval)
		return nil
	})
	if resolver != nil {
		g.Go(func() error {
			return resolver.Run(gctx)
		})
	}
	if client != nil {
		source := ingest.NewRedisSource(client, env.eventsChannel, hub, telemetryLogger, metrics)
		g.Go(func() error {
			if err := source.Run(gctx); err != nil {
				telemetryLogger.Printf("event ingest on %s stopped: %v", source.Channel(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		telemetryLogger.Printf("hud server listening on %s (tick rate %d)", srv.Addr, engineCfg.TickRate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
