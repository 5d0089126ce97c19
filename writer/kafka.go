package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
)

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes series and live bars as JSON, keyed by symbol so one
// symbol stays on one partition.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	log     *logger.Log
}

func NewKafkaSink(cfg *config.Config) (*KafkaSink, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
		Topic:    cfg.Storage.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	sink := NewKafkaSinkWithWriter(w, cfg)
	sink.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka sink initialized")
	return sink, nil
}

func NewKafkaSinkWithWriter(w MessageWriter, cfg *config.Config) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		topic:   cfg.Storage.Kafka.Topic,
		timeout: cfg.Writer.Timeout,
		log:     logger.GetLogger(),
	}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Export(ctx context.Context, series models.CanonicalSeries) error {
	data, err := json.Marshal(series)
	if err != nil {
		observe(k.log, k.Name(), series, 0, err)
		return fmt.Errorf("marshal series: %w", err)
	}

	err = k.publish(ctx, series.Symbol, data, "series")
	observe(k.log, k.Name(), series, len(data), err)
	if err != nil {
		k.log.WithComponent("kafka_sink").WithError(err).WithFields(logger.Fields{
			"request_id": series.RequestID,
		}).Warn("failed to write series message")
		return err
	}
	k.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"request_id": series.RequestID,
		"records":    len(series.Records),
	}).Debug("series written to kafka")
	return nil
}

// PublishBar forwards one closed live bar.
func (k *KafkaSink) PublishBar(ctx context.Context, bar models.StreamBar) error {
	data, err := json.Marshal(bar)
	if err != nil {
		return fmt.Errorf("marshal bar: %w", err)
	}
	if err := k.publish(ctx, bar.Symbol, data, "bar"); err != nil {
		k.log.WithComponent("kafka_sink").WithError(err).WithFields(logger.Fields{
			"symbol": bar.Symbol,
		}).Warn("failed to write bar message")
		return err
	}
	return nil
}

func (k *KafkaSink) publish(ctx context.Context, key string, value []byte, kind string) error {
	ctx, cancel := exportContext(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(kind)}},
		Time:    time.Now().UTC(),
	})
}

func (k *KafkaSink) Close() error {
	k.log.WithComponent("kafka_sink").Debug("closing kafka sink")
	return k.writer.Close()
}
