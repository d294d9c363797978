package repository

import (
	"context"
	"fmt"

	"github.com/woodid012/plugit/internal/domain/models"
	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	pkgkafka "github.com/woodid012/plugit/pkg/kafka"
)

// KafkaUpdateSink publishes one event per accepted record change, keyed by
// region so per-region ordering is preserved across partitions.
type KafkaUpdateSink struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaUpdateSink creates the sink.
func NewKafkaUpdateSink(producer *pkgkafka.Producer, topic string) domrepo.UpdateSink {
	return &KafkaUpdateSink{producer: producer, topic: topic}
}

func (s *KafkaUpdateSink) Publish(ctx context.Context, u *models.RecordUpdate) error {
	key, err := updateKey(u)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, s.topic, key, u)
}

func (s *KafkaUpdateSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// NopUpdateSink drops events; used when the broker is disabled.
type NopUpdateSink struct{}

func (NopUpdateSink) Publish(context.Context, *models.RecordUpdate) error { return nil }
func (NopUpdateSink) Close() error                                       { return nil }

var _ domrepo.UpdateSink = NopUpdateSink{}

// ensure the produced key is never empty; kafka-go treats empty keys as
// unkeyed and round-robins them.
func updateKey(u *models.RecordUpdate) ([]byte, error) {
	if u.Region == "" {
		return nil, fmt.Errorf("record update missing region")
	}
	return []byte(u.Region), nil
}
