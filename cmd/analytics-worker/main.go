package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/analytics"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/queue"
)

// This worker does not make screening decisions (the API server does that
// inline). It consumes the Kafka fan-out of persisted fraud events and
// maintains real-time aggregates for dashboards.

// RealTimeMetrics tracks live screening aggregates.
type RealTimeMetrics struct {
	mu            sync.RWMutex
	Assessed      int64
	Approved      int64
	Flagged       int64
	Blocked       int64
	SystemErrors  int64
	ByRiskLevel   map[string]int64
	ByPath        map[string]int64
	FactorCounts  map[string]int64
	LastEventTime time.Time
	EventsPerSec  float64
	windowStart   time.Time
	windowCount   int64
}

func NewRealTimeMetrics() *RealTimeMetrics {
	return &RealTimeMetrics{
		ByRiskLevel:  make(map[string]int64),
		ByPath:       make(map[string]int64),
		FactorCounts: make(map[string]int64),
		windowStart:  time.Now(),
	}
}

func (m *RealTimeMetrics) RecordEvent(event *models.FraudEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSec = float64(m.windowCount) / elapsed
	}

	// Reset window every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	m.Assessed++
	m.ByRiskLevel[string(event.Assessment.RiskLevel)]++
	if event.Path != "" {
		m.ByPath[event.Path]++
	}
	for _, factor := range event.Assessment.Factors {
		m.FactorCounts[factor]++
	}

	if event.Assessment.SystemError {
		m.SystemErrors++
	}
	switch event.Assessment.Action {
	case models.ActionApprove:
		m.Approved++
	case models.ActionReview:
		m.Flagged++
	case models.ActionBlock:
		m.Blocked++
	}
}

// Snapshot returns a flat field map suitable for a Redis hash.
func (m *RealTimeMetrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields := map[string]interface{}{
		"assessed":        m.Assessed,
		"approved":        m.Approved,
		"flagged":         m.Flagged,
		"blocked":         m.Blocked,
		"system_errors":   m.SystemErrors,
		"events_per_sec":  strconv.FormatFloat(m.EventsPerSec, 'f', 2, 64),
		"last_event_time": m.LastEventTime.Format(time.RFC3339),
	}
	for level, count := range m.ByRiskLevel {
		fields["risk_level:"+level] = count
	}
	for path, count := range m.ByPath {
		fields["path:"+path] = count
	}
	for factor, count := range m.FactorCounts {
		fields["factor:"+factor] = count
	}
	return fields
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Starting Fraud Engine Analytics Worker")

	// Connect to Redis (live metrics are flushed here)
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	// Initialize real-time metrics
	metrics := NewRealTimeMetrics()

	// Create Kafka consumer
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &analyticsHandler{
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping analytics worker...")
		cancel()
	}()

	// Flush metrics to Redis and log them every 30 seconds
	go handler.startMetricsFlusher(ctx)

	log.Info().Msg("Analytics worker started, consuming fraud events")

	for {
		if err := consumerGroup.Consume(ctx, []string{cfg.Kafka.Topic}, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down analytics worker")
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// analyticsHandler consumes fraud events and feeds the aggregates.
type analyticsHandler struct {
	metrics     *RealTimeMetrics
	cacheClient *queue.CacheClient
}

func (h *analyticsHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics session started")
	return nil
}

func (h *analyticsHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics session ended")
	return nil
}

func (h *analyticsHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *analyticsHandler) processMessage(message *sarama.ConsumerMessage) {
	var event models.FraudEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Error().Err(err).Msg("Failed to parse fraud event")
		return
	}

	h.metrics.RecordEvent(&event)

	logger := log.Debug()
	if event.Assessment.Action == models.ActionBlock {
		logger = log.Warn()
	}
	logger.
		Str("assessment_id", event.Assessment.ID.String()).
		Str("risk_level", string(event.Assessment.RiskLevel)).
		Str("action", string(event.Assessment.Action)).
		Str("event_type", event.EventType).
		Msg("Fraud event consumed")
}

func (h *analyticsHandler) startMetricsFlusher(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.Snapshot()

			flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.cacheClient.HSetAll(flushCtx, analytics.LiveMetricsKey, snapshot); err != nil {
				log.Warn().Err(err).Msg("Failed to flush live metrics")
			}
			cancel()

			log.Info().
				Int64("assessed", snapshot["assessed"].(int64)).
				Int64("approved", snapshot["approved"].(int64)).
				Int64("flagged", snapshot["flagged"].(int64)).
				Int64("blocked", snapshot["blocked"].(int64)).
				Int64("system_errors", snapshot["system_errors"].(int64)).
				Msg("Analytics metrics")

		case <-ctx.Done():
			return
		}
	}
}
