package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/synaptica-ai/ecgdesk/pkg/common/config"
	"github.com/synaptica-ai/ecgdesk/pkg/common/kafka"
	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
)

func main() {
	logger.Init()
	cfg := config.Load()

	if !cfg.EventsEnabled() {
		logger.Log.Fatal("KAFKA_BROKERS and KAFKA_TOPIC are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	logger.Log.WithFields(map[string]interface{}{
		"topic":    cfg.KafkaTopic,
		"group_id": cfg.KafkaGroupID,
	}).Info("Record audit service started")

	err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
		logger.Log.WithFields(map[string]interface{}{
			"event_id":  event.ID,
			"type":      event.Type,
			"source":    event.Source,
			"record_id": event.Data["record_id"],
			"timestamp": event.Timestamp,
		}).Info("Record event")
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("Consumer stopped")
	}

	logger.Log.Info("Record audit service stopped")
}
