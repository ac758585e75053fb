package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/queue"
	"github.com/finshield/fraud-engine/internal/repositories"
)

// Worker drains the fraud event stream: events are persisted to Postgres
// and fanned out to Kafka. Failed messages are requeued until the retry
// budget is spent, then parked on the dead letter stream.
type Worker struct {
	id           string
	events       *repositories.FraudEventRepository
	streamClient *queue.FraudStreamClient
	kafka        *queue.KafkaPublisher
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	metrics      *WorkerMetrics
}

// WorkerMetrics tracks worker throughput.
type WorkerMetrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	FailedCount       int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

// NewWorker creates an event worker. The Kafka publisher may be nil, in
// which case events are only persisted.
func NewWorker(id string, events *repositories.FraudEventRepository, streamClient *queue.FraudStreamClient, kafka *queue.KafkaPublisher, config configs.WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		events:       events,
		streamClient: streamClient,
		kafka:        kafka,
		config:       config,
		stopCh:       make(chan struct{}),
		metrics:      &WorkerMetrics{},
	}
}

// Start launches the consumer goroutines and blocks until the context is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting event worker")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, fmt.Sprintf("%s-%d", w.id, i))
	}

	<-ctx.Done()
	return w.Stop()
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	log.Info().Str("worker_id", w.id).Msg("Stopping worker...")
	close(w.stopCh)
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Worker goroutine started")

	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Worker goroutine stopping")
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx, consumerName)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, consumerName string) {
	messages, err := w.streamClient.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
		time.Sleep(time.Second) // Back off on error
		return
	}

	if len(messages) == 0 {
		return
	}

	log.Debug().
		Str("consumer", consumerName).
		Int("count", len(messages)).
		Msg("Processing batch")

	var ackIDs []string

	for _, msg := range messages {
		if err := w.processMessage(ctx, msg.Event); err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("event_id", msg.Event.ID.String()).
				Msg("Failed to process fraud event")

			if msg.Retries < w.config.RetryAttempts {
				if err := w.streamClient.Requeue(ctx, msg); err != nil {
					log.Error().Err(err).Msg("Failed to requeue message")
				}
			} else {
				if err := w.streamClient.SendToDeadLetter(ctx, msg.Event, err); err != nil {
					log.Error().Err(err).Msg("Failed to send to dead letter queue")
				}
			}

			w.metrics.mu.Lock()
			w.metrics.FailedCount++
			w.metrics.mu.Unlock()
		}

		ackIDs = append(ackIDs, msg.ID)
	}

	if len(ackIDs) > 0 {
		if err := w.streamClient.AcknowledgeBatch(ctx, ackIDs); err != nil {
			log.Error().Err(err).Msg("Failed to acknowledge messages")
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, event *models.FraudEvent) error {
	startTime := time.Now()

	if err := w.events.Create(ctx, event); err != nil {
		return fmt.Errorf("persist failed: %w", err)
	}

	// Kafka fan-out happens after the event is durable. A produce failure
	// retries the whole message; the insert is idempotent so the replay is
	// safe.
	if w.kafka != nil {
		if err := w.kafka.Publish(event); err != nil {
			return fmt.Errorf("kafka publish failed: %w", err)
		}
	}

	processingTime := time.Since(startTime)

	w.metrics.mu.Lock()
	w.metrics.ProcessedCount++
	w.metrics.TotalProcessingMs += processingTime.Milliseconds()
	w.metrics.LastProcessedAt = time.Now()
	w.metrics.mu.Unlock()

	return nil
}

// GetMetrics returns a copy of the worker metrics.
func (w *Worker) GetMetrics() WorkerMetrics {
	w.metrics.mu.RLock()
	defer w.metrics.mu.RUnlock()
	return WorkerMetrics{
		ProcessedCount:    w.metrics.ProcessedCount,
		FailedCount:       w.metrics.FailedCount,
		TotalProcessingMs: w.metrics.TotalProcessingMs,
		LastProcessedAt:   w.metrics.LastProcessedAt,
	}
}

// WorkerPool manages multiple event workers.
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool of event workers sharing one stream group.
func NewWorkerPool(
	numWorkers int,
	events *repositories.FraudEventRepository,
	streamClient *queue.FraudStreamClient,
	kafka *queue.KafkaPublisher,
	config configs.WorkerConfig,
) *WorkerPool {
	pool := &WorkerPool{
		workers: make([]*Worker, numWorkers),
	}

	for i := 0; i < numWorkers; i++ {
		pool.workers[i] = NewWorker(
			fmt.Sprintf("worker-%d", i),
			events,
			streamClient,
			kafka,
			config,
		)
	}

	return pool
}

// Start starts all workers in the pool.
func (p *WorkerPool) Start(ctx context.Context) error {
	log.Info().Int("num_workers", len(p.workers)).Msg("Starting worker pool")

	errCh := make(chan error, len(p.workers))

	for _, worker := range p.workers {
		w := worker
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := w.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops all workers in the pool.
func (p *WorkerPool) Stop() error {
	log.Info().Msg("Stopping worker pool")

	for _, worker := range p.workers {
		if err := worker.Stop(); err != nil {
			log.Error().Err(err).Str("worker_id", worker.id).Msg("Failed to stop worker")
		}
	}

	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
	return nil
}

// GetAggregatedMetrics returns pool-wide throughput numbers.
func (p *WorkerPool) GetAggregatedMetrics() map[string]interface{} {
	var totalProcessed, totalFailed, totalProcessingMs int64
	var lastProcessedAt time.Time

	for _, worker := range p.workers {
		metrics := worker.GetMetrics()
		totalProcessed += metrics.ProcessedCount
		totalFailed += metrics.FailedCount
		totalProcessingMs += metrics.TotalProcessingMs
		if metrics.LastProcessedAt.After(lastProcessedAt) {
			lastProcessedAt = metrics.LastProcessedAt
		}
	}

	avgProcessingMs := float64(0)
	if totalProcessed > 0 {
		avgProcessingMs = float64(totalProcessingMs) / float64(totalProcessed)
	}

	return map[string]interface{}{
		"total_processed":   totalProcessed,
		"total_failed":      totalFailed,
		"avg_processing_ms": avgProcessingMs,
		"last_processed_at": lastProcessedAt,
		"active_workers":    len(p.workers),
	}
}
