package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/models"
)

// NewRedisClient creates a Redis client from configuration and verifies the
// connection.
func NewRedisClient(cfg configs.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// FraudStreamClient handles the fraud-event Redis Stream: the unbounded
// analytics stream every assessment is appended to.
type FraudStreamClient struct {
	client           *redis.Client
	streamName       string
	consumerGroup    string
	deadLetterStream string
	maxRetries       int
}

// NewFraudStreamClient creates a new fraud-event stream client.
func NewFraudStreamClient(cfg configs.RedisConfig, deadLetterStream string) (*FraudStreamClient, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewFraudStreamClientWith(client, cfg, deadLetterStream)
}

// NewFraudStreamClientWith wires a stream client onto an existing Redis
// connection.
func NewFraudStreamClientWith(client *redis.Client, cfg configs.RedisConfig, deadLetterStream string) (*FraudStreamClient, error) {
	fsc := &FraudStreamClient{
		client:           client,
		streamName:       cfg.StreamName,
		consumerGroup:    cfg.ConsumerGroup,
		deadLetterStream: deadLetterStream,
		maxRetries:       cfg.MaxRetries,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := fsc.createConsumerGroup(ctx); err != nil {
		log.Warn().Err(err).Msg("Consumer group may already exist")
	}

	log.Info().Str("stream", fsc.streamName).Msg("Fraud event stream client initialized")
	return fsc, nil
}

// createConsumerGroup creates the consumer group for the stream.
// MKSTREAM creates the stream if it doesn't exist.
func (f *FraudStreamClient) createConsumerGroup(ctx context.Context) error {
	err := f.client.XGroupCreateMkStream(ctx, f.streamName, f.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish appends a fraud event to the stream.
func (f *FraudStreamClient) Publish(ctx context.Context, event *models.FraudEvent) (string, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID, err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.streamName,
		Values: map[string]interface{}{
			"data":    string(eventJSON),
			"retries": 0,
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("assessment_id", event.Assessment.ID.String()).
		Msg("Fraud event published to stream")

	return msgID, nil
}

// StreamMessage represents a message read from the fraud-event stream.
type StreamMessage struct {
	ID      string
	Retries int
	Event   *models.FraudEvent
}

// Consume reads fraud events for a consumer, claiming abandoned pending
// messages first.
func (f *FraudStreamClient) Consume(ctx context.Context, consumerName string, count int64, blockDuration time.Duration) ([]StreamMessage, error) {
	pendingMessages, err := f.claimPendingMessages(ctx, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to claim pending messages")
	}

	if len(pendingMessages) > 0 {
		return pendingMessages, nil
	}

	streams, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.consumerGroup,
		Consumer: consumerName,
		Streams:  []string{f.streamName, ">"},
		Count:    count,
		Block:    blockDuration,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil // No messages available
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, err := f.parseMessage(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse message")
				continue
			}
			messages = append(messages, parsed)
		}
	}

	return messages, nil
}

// claimPendingMessages claims messages that have been pending for too long.
func (f *FraudStreamClient) claimPendingMessages(ctx context.Context, consumerName string, count int64) ([]StreamMessage, error) {
	minIdleTime := 30 * time.Second

	pending, err := f.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: f.streamName,
		Group:  f.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()

	if err != nil {
		return nil, err
	}

	if len(pending) == 0 {
		return nil, nil
	}

	var messageIDs []string
	for _, p := range pending {
		if p.Idle >= minIdleTime {
			messageIDs = append(messageIDs, p.ID)
		}
	}

	if len(messageIDs) == 0 {
		return nil, nil
	}

	claimed, err := f.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   f.streamName,
		Group:    f.consumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()

	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, msg := range claimed {
		parsed, err := f.parseMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse claimed message")
			continue
		}
		messages = append(messages, parsed)
	}

	return messages, nil
}

func (f *FraudStreamClient) parseMessage(msg redis.XMessage) (StreamMessage, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return StreamMessage{}, fmt.Errorf("invalid message format")
	}

	var event models.FraudEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return StreamMessage{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	retries := 0
	if raw, ok := msg.Values["retries"].(string); ok {
		fmt.Sscanf(raw, "%d", &retries)
	}

	return StreamMessage{ID: msg.ID, Retries: retries, Event: &event}, nil
}

// Requeue republishes an event with an incremented retry count.
func (f *FraudStreamClient) Requeue(ctx context.Context, msg StreamMessage) error {
	eventJSON, err := json.Marshal(msg.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.streamName,
		Values: map[string]interface{}{
			"data":    string(eventJSON),
			"retries": msg.Retries + 1,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to requeue event: %w", err)
	}
	return nil
}

// Acknowledge marks a message as processed.
func (f *FraudStreamClient) Acknowledge(ctx context.Context, messageID string) error {
	_, err := f.client.XAck(ctx, f.streamName, f.consumerGroup, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// AcknowledgeBatch marks multiple messages as processed.
func (f *FraudStreamClient) AcknowledgeBatch(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	_, err := f.client.XAck(ctx, f.streamName, f.consumerGroup, messageIDs...).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge messages: %w", err)
	}

	log.Debug().Int("count", len(messageIDs)).Msg("Messages acknowledged")
	return nil
}

// SendToDeadLetter moves a failed event to the dead letter stream.
func (f *FraudStreamClient) SendToDeadLetter(ctx context.Context, event *models.FraudEvent, cause error) error {
	eventJSON, _ := json.Marshal(event)

	_, dlqErr := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(eventJSON),
			"error": cause.Error(),
		},
	}).Result()

	if dlqErr != nil {
		return fmt.Errorf("failed to send to dead letter: %w", dlqErr)
	}

	log.Warn().
		Str("assessment_id", event.Assessment.ID.String()).
		Err(cause).
		Msg("Fraud event sent to dead letter stream")

	return nil
}

// PendingCount returns the number of pending messages in the consumer group.
func (f *FraudStreamClient) PendingCount(ctx context.Context) (int64, error) {
	pending, err := f.client.XPending(ctx, f.streamName, f.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Close closes the underlying Redis client.
func (f *FraudStreamClient) Close() error {
	return f.client.Close()
}
