package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/models"
)

// KafkaPublisher fans persisted fraud events out to Kafka for downstream
// analytics consumers.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher creates a sync producer. Kafka may come up after the
// worker, so connection attempts are retried before giving up.
func NewKafkaPublisher(cfg configs.KafkaConfig) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	var producer sarama.SyncProducer
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		producer, err = sarama.NewSyncProducer(cfg.Brokers, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Kafka not ready, retrying...")
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka producer connected")
	return &KafkaPublisher{producer: producer, topic: cfg.Topic}, nil
}

// Publish sends one fraud event, keyed by identity so each identity's
// events stay ordered within a partition.
func (p *KafkaPublisher) Publish(event *models.FraudEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fraud event: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Assessment.IdentityID.String()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to produce fraud event: %w", err)
	}
	return nil
}

// Close shuts down the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
