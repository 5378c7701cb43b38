package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/common/logger"
	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "siscom-trips")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("Starting siscom-trips service",
		zap.Strings("sources", cfg.Trips.Sources),
		zap.String("kafka_topic", cfg.Kafka.Topic),
		zap.String("kafka_group", cfg.Kafka.GroupID),
		zap.String("db_host", cfg.Database.Host),
		zap.String("db_name", cfg.Database.Database),
	)

	tripsService, err := service.NewTripsService(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to create trips service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := tripsService.Start(ctx); err != nil {
			zl.Fatal("Trips service failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := tripsService.Stop(shutdownCtx); err != nil {
		zl.Error("Error during shutdown", zap.Error(err))
	}

	zl.Info("Service stopped")
}
