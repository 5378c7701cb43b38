package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JesusCabrera84/siscom-trips/common/database"
	kafkacommon "github.com/JesusCabrera84/siscom-trips/common/kafka"
	mqttcommon "github.com/JesusCabrera84/siscom-trips/common/mqtt"
	rediscommon "github.com/JesusCabrera84/siscom-trips/common/redis"
	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/consumer"
	"github.com/JesusCabrera84/siscom-trips/internal/models"
	"github.com/JesusCabrera84/siscom-trips/internal/notifier"
	"github.com/JesusCabrera84/siscom-trips/internal/repository"
	"github.com/JesusCabrera84/siscom-trips/internal/transformer"
	"github.com/JesusCabrera84/siscom-trips/internal/trip"
)

// Source a running event source
type Source interface {
	Start(ctx context.Context) error
}

type namedSource struct {
	name   string
	source Source
}

// TripsService wires the store, the engine and the enabled sources
type TripsService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	kafka       *consumer.KafkaConsumer
	engine      *trip.Engine
	dispatcher  *consumer.Dispatcher
	sources     []namedSource

	started atomic.Bool
	done    chan struct{}
}

// NewTripsService creates the service. Store or transport initialization
// failures are returned; the caller treats them as fatal.
func NewTripsService(cfg *config.Config, logger *zap.Logger) (*TripsService, error) {
	s := &TripsService{
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := s.init(); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *TripsService) init() error {
	cfg := s.config

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, models.AllTables()...); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		s.logger.Info("Trip schema migrated")
	}

	if cfg.UsesRedis() {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), s.redisClient); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	decoder, err := transformer.NewDecoder(cfg.Trips.PayloadFormat)
	if err != nil {
		return err
	}

	var tripNotifier trip.Notifier
	if cfg.Trips.Notify.Enabled {
		tripNotifier = notifier.NewStreamNotifier(s.redisClient, cfg.Trips.Notify.Stream, cfg.Trips.Notify.MaxLen, s.logger)
	}

	store := repository.NewPostgresTripStore(db, s.logger)
	s.engine = trip.NewEngine(store, decoder, tripNotifier, s.logger)
	s.dispatcher = consumer.NewDispatcher(cfg.Trips.MaxInFlight, s.logger)

	if cfg.SourceEnabled(config.SourceKafka) {
		reader, err := kafkacommon.NewReader(&cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka reader: %w", err)
		}
		s.kafka = consumer.NewKafkaConsumer(reader, s.engine, s.dispatcher, cfg.Kafka.MaxRetries, cfg.Kafka.Cooldown, s.logger)
		s.sources = append(s.sources, namedSource{config.SourceKafka, s.kafka})
	}

	if cfg.SourceEnabled(config.SourceMQTT) {
		client, err := mqttcommon.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return err
		}
		s.mqttClient = client
		s.sources = append(s.sources, namedSource{
			config.SourceMQTT,
			consumer.NewMQTTConsumer(client, cfg.MQTT.Topic, cfg.MQTT.QoS, s.engine, s.dispatcher, s.logger),
		})
	}

	if cfg.SourceEnabled(config.SourceRedis) {
		streamCfg := consumer.StreamConsumerConfig{
			Stream:        cfg.Trips.Stream.Name,
			ConsumerGroup: cfg.Trips.Stream.ConsumerGroup,
			ConsumerName:  cfg.Trips.Stream.ConsumerName,
			BatchSize:     cfg.Trips.Stream.BatchSize,
			Block:         cfg.Trips.Stream.Block,
			ClaimIdle:     cfg.Trips.Stream.ClaimIdle,
		}
		s.sources = append(s.sources, namedSource{
			config.SourceRedis,
			consumer.NewStreamConsumer(streamCfg, s.redisClient, s.engine, s.dispatcher, s.logger),
		})
	}

	return nil
}

// Start runs every enabled source until ctx is cancelled or one of them
// fails to start
func (s *TripsService) Start(ctx context.Context) error {
	s.started.Store(true)
	defer close(s.done)

	s.logger.Info("Starting trips service components",
		zap.Strings("sources", s.config.Trips.Sources),
		zap.Int("max_in_flight", s.config.Trips.MaxInFlight),
		zap.Bool("notify", s.config.Trips.Notify.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		src := src
		g.Go(func() error {
			if err := src.source.Start(gctx); err != nil {
				return fmt.Errorf("%s source: %w", src.name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Stop waits for the sources and in-flight events, then releases connections
func (s *TripsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping trips service")

	if s.started.Load() {
		select {
		case <-s.done:
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for sources to stop")
		}
	}

	waited := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for in-flight events")
	}

	s.closeResources()
	s.logger.Info("Trips service stopped")
	return nil
}

func (s *TripsService) closeResources() {
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("Error closing Kafka reader", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}
