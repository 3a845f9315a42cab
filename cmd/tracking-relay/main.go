// Command tracking-relay runs the real-time parcel tracking relay.
//
// Configuration is read from the environment; see internal/infrastructure/config.
//
//	@title						Tracking Relay API
//	@version					1.0
//	@description				Real-time parcel tracking relay: location ingest, milestones and live fan-out.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/tracking-relay/internal/api"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/core/service"
	"github.com/99minutos/tracking-relay/internal/core/store"
	"github.com/99minutos/tracking-relay/internal/infrastructure/config"
	mongodb "github.com/99minutos/tracking-relay/internal/infrastructure/db/mongo"
	redisdb "github.com/99minutos/tracking-relay/internal/infrastructure/db/redis"
	"github.com/99minutos/tracking-relay/internal/infrastructure/http/handlers"
	"github.com/99minutos/tracking-relay/internal/infrastructure/messaging/kafka"
	"github.com/99minutos/tracking-relay/internal/infrastructure/messaging/rabbitmq"
	"github.com/99minutos/tracking-relay/internal/infrastructure/queue"
	"github.com/99minutos/tracking-relay/internal/relay"
	"github.com/99minutos/tracking-relay/pkg/logger"
)

const (
	shutdownTimeout = 15 * time.Second
	tokenTTL        = 24 * time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		boot := logger.Init(logger.Options{Service: "tracking-relay", Pretty: true})
		boot.Fatal().Err(err).Msg("load config")
	}

	log := logger.Init(logger.Options{
		Service: "tracking-relay",
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		File:    cfg.LogFile,
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("tracking relay stopped")
	}
	log.Info().Msg("tracking relay stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// --- Storage ---
	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	rdb, err := redisdb.Connect(ctx, redisdb.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return err
	}
	defer rdb.Close()

	checks := map[string]handlers.Check{
		"mongodb": handlers.MongoCheck(db),
		"redis":   handlers.RedisCheck(rdb),
	}

	// --- Optional downstream sinks ---
	var trackingOpts []service.TrackingOption
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewStatusPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
		trackingOpts = append(trackingOpts, service.WithStatusPublisher(pub))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka status publisher enabled")
	}
	if cfg.RabbitMQ.URL != "" {
		mirror, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer mirror.Close()
		trackingOpts = append(trackingOpts, service.WithLocationMirror(mirror))
		log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("rabbitmq location mirror enabled")
	}
	trackingOpts = append(trackingOpts, service.WithETAConfig(service.ETAConfig{
		Smoothing: cfg.Tracking.ETASmoothing,
		Threshold: cfg.Tracking.ETAThreshold,
	}))

	// --- Core ---
	st := store.New(store.RoutePolicy{
		MaxPoints:         cfg.Tracking.RouteMaxPoints,
		MinDistanceMeters: cfg.Tracking.RouteMinDistanceM,
	})
	router := relay.NewRouter(cfg.Relay.QueueSize, relay.ParseOverflowPolicy(cfg.Relay.Overflow), logger.Component("relay"))

	tracking := service.NewTrackingService(st, router,
		mongodb.NewArchiveRepository(db),
		mongodb.NewMilestoneAuditRepository(db),
		logger.Component("tracking"), trackingOpts...)
	router.OnParcelIdle(archiveOnIdle(ctx, tracking, logger.Component("archive")))

	ingest := service.NewIngestService(tracking,
		redisdb.NewDedupChecker(rdb, cfg.Tracking.DedupTTL),
		service.IngestConfig{MaxSpeed: cfg.Tracking.MaxSpeedMPS, ClockSkew: cfg.Tracking.ClockSkew},
		logger.Component("ingest"))

	dispatcher := queue.NewDispatcher(cfg.Relay.Workers, ingest, logger.Component("dispatcher"))
	dispatcher.Start(ctx)

	auth := service.NewAuthService(mongodb.NewAuthRepository(db), cfg.JWTSecret, tokenTTL)

	// --- HTTP ---
	e := api.NewRouter(api.Deps{
		JWTSecret: cfg.JWTSecret,
		Log:       logger.Component("http"),
		Auth:      auth,
		Tracking:  tracking,
		Ingest:    ingest,
		Queue:     dispatcher,
		Relay:     router,
		Checks:    checks,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("tracking relay listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

// archiveOnIdle evicts delivered parcels once their last viewer leaves.
func archiveOnIdle(ctx context.Context, tracking ports.TrackingService, log zerolog.Logger) func(string) {
	return func(parcelID string) {
		go func() {
			if _, err := tracking.ArchiveIfIdle(ctx, parcelID); err != nil {
				log.Warn().Err(err).Str("parcel_id", parcelID).Msg("archive on idle failed")
			}
		}()
	}
}
