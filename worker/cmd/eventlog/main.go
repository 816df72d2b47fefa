package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"audioTranscriber/api/config"
	"audioTranscriber/api/events"
	"audioTranscriber/worker/kafka"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	logger.Info("Event log starting",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group_id", cfg.KafkaGroupID),
	)

	consumer, err := kafka.NewConsumer(brokers, cfg.KafkaGroupID, logger)
	if err != nil {
		logger.Fatal("Failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = consumer.Consume(ctx, cfg.KafkaTopic, func(ctx context.Context, e events.Event) error {
		logger.Info("Task event",
			zap.String("task_id", e.TaskID),
			zap.String("status", string(e.Status)),
			zap.String("fingerprint", e.Fingerprint),
			zap.String("language", e.Language),
			zap.String("error", e.Error),
			zap.Time("at", e.At),
		)
		return nil
	})
	if err != nil {
		logger.Error("Consumer stopped", zap.Error(err))
	}

	logger.Info("Event log stopped")
}
