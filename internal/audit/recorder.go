// Package audit emits fraud events after screening decisions. Recording is
// fire-and-forget: a slow or unavailable event store never delays or fails
// the screened request.
package audit

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/queue"
)

// RecentEventsKey holds the capped list of recent events for dashboards.
const RecentEventsKey = "fraud:events:recent"

const recordTimeout = 5 * time.Second

// Recorder publishes fraud events to the durable stream and maintains a
// capped recent-events buffer.
type Recorder struct {
	stream   *queue.FraudStreamClient
	cache    *queue.CacheClient
	capacity int64
}

// NewRecorder creates a recorder writing to the given stream and cache.
func NewRecorder(stream *queue.FraudStreamClient, cache *queue.CacheClient, recentCapacity int64) *Recorder {
	return &Recorder{stream: stream, cache: cache, capacity: recentCapacity}
}

// Record emits an event for a completed assessment. It returns immediately;
// the write happens on a background goroutine with its own timeout, and
// failures are logged and swallowed.
func (r *Recorder) Record(assessment *models.RiskAssessment, meta models.RequestMetadata) {
	event := r.buildEvent(assessment, meta)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if _, err := r.stream.Publish(ctx, event); err != nil {
			log.Warn().Err(err).
				Str("assessment_id", assessment.ID.String()).
				Msg("Failed to publish fraud event")
		}

		if err := r.cache.PushCapped(ctx, RecentEventsKey, event, r.capacity); err != nil {
			log.Warn().Err(err).Msg("Failed to append fraud event to recent buffer")
		}
	}()
}

func (r *Recorder) buildEvent(assessment *models.RiskAssessment, meta models.RequestMetadata) *models.FraudEvent {
	eventType := models.EventTypeAssessment
	if assessment.SystemError {
		eventType = models.EventTypeSystemError
	}

	return &models.FraudEvent{
		ID:         uuid.New(),
		Assessment: *assessment,
		Path:       meta.Path,
		Method:     meta.Method,
		MaskedIP:   MaskIP(meta.IPAddress),
		UserAgent:  meta.UserAgent,
		RequestID:  meta.RequestID,
		EventType:  eventType,
		CreatedAt:  time.Now(),
	}
}

// MaskIP redacts the host portion of an address before it enters the audit
// trail. IPv4 keeps the /24, IPv6 keeps the /48.
func MaskIP(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}
	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String() + "/48"
}
