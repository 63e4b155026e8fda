// Package audit publishes run progress for observers: structured logs for
// operators and a Redis channel for UIs following a run live. Sinks are
// best-effort; a slow or dead observer never fails a run.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/model"
)

// Event is one progress notification for a quotation run. Round is set
// only for round_completed events.
type Event struct {
	Type        string                `json:"type"` // status_changed | round_completed
	QuotationID string                `json:"quotation_id"`
	Status      model.QuotationStatus `json:"status,omitempty"`
	Round       *model.Round          `json:"round,omitempty"`
	At          time.Time             `json:"at"`
}

const (
	EventStatusChanged  = "status_changed"
	EventRoundCompleted = "round_completed"
)

// Sink receives progress events for a run.
type Sink interface {
	StatusChanged(ctx context.Context, quotationID string, status model.QuotationStatus)
	RoundCompleted(ctx context.Context, quotationID string, round model.Round)
}

// LogSink writes progress to the global logger.
type LogSink struct{}

func (LogSink) StatusChanged(_ context.Context, id string, status model.QuotationStatus) {
	zap.L().Info("quotation status",
		zap.String("quotation_id", id),
		zap.String("status", string(status)))
}

func (LogSink) RoundCompleted(_ context.Context, id string, round model.Round) {
	zap.L().Info("round completed",
		zap.String("quotation_id", id),
		zap.Int("round", round.Number),
		zap.Float64("tolerance_pct", round.Tolerance),
		zap.Int("tested", len(round.Tested)),
		zap.Int("validated", round.ValidatedAfter),
		zap.Int("discarded", round.DiscardedAfter),
		zap.Int("pending", round.PendingAfter),
		zap.Bool("escalated", round.Escalated))
}

// publisher is the slice of the Redis client the sink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON on a per-run channel so a UI can
// subscribe to "quote:progress:<id>". Publish failures are logged and
// dropped.
type RedisSink struct {
	rdb    publisher
	prefix string
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb, prefix: "quote:progress:"}
}

func (s *RedisSink) StatusChanged(ctx context.Context, id string, status model.QuotationStatus) {
	s.publish(ctx, id, Event{
		Type:        EventStatusChanged,
		QuotationID: id,
		Status:      status,
		At:          time.Now().UTC(),
	})
}

func (s *RedisSink) RoundCompleted(ctx context.Context, id string, round model.Round) {
	s.publish(ctx, id, Event{
		Type:        EventRoundCompleted,
		QuotationID: id,
		Round:       &round,
		At:          time.Now().UTC(),
	})
}

func (s *RedisSink) publish(ctx context.Context, id string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("audit: marshal event", zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, s.prefix+id, payload).Err(); err != nil {
		zap.L().Warn("audit: publish event",
			zap.String("quotation_id", id),
			zap.Error(err))
	}
}

// MultiSink fans events out to every child sink.
type MultiSink []Sink

func (m MultiSink) StatusChanged(ctx context.Context, id string, status model.QuotationStatus) {
	for _, s := range m {
		s.StatusChanged(ctx, id, status)
	}
}

func (m MultiSink) RoundCompleted(ctx context.Context, id string, round model.Round) {
	for _, s := range m {
		s.RoundCompleted(ctx, id, round)
	}
}
