package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 50
)

// EventSource is the broadcast side of the event outbox.
type EventSource interface {
	MaxID(ctx context.Context) (int64, error)
	FetchUnbroadcast(ctx context.Context, afterID int64, limit int) ([]domain.Event, error)
	MarkBroadcast(ctx context.Context, ids []int64) error
}

// Broadcaster fans one event out to connected clients.
type Broadcaster interface {
	Broadcast(event domain.Event) int
}

// Bridge pumps committed outbox events into the hub. It keeps an
// in-memory cursor seeded at startup from the current outbox head, so
// a restart never replays history to reconnecting clients.
type Bridge struct {
	source   EventSource
	hub      Broadcaster
	logger   *zap.Logger
	interval time.Duration
	batch    int

	cursor int64
}

func NewBridge(source EventSource, hub Broadcaster, interval time.Duration, batch int, logger *zap.Logger) (*Bridge, error) {
	if source == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		source:   source,
		hub:      hub,
		logger:   logger,
		interval: interval,
		batch:    batch,
	}, nil
}

func (b *Bridge) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	maxID, err := b.source.MaxID(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed event cursor: %w", err)
	}
	b.cursor = maxID
	b.logger.Info("event bridge started", zap.Int64("cursor", b.cursor))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.pump(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Error("event bridge pump failed", zap.Error(err))
			}
		}
	}
}

// pump drains everything past the cursor, a batch at a time. The
// cursor advances even when marking fails; an event is delivered to
// live sockets at most once per process.
func (b *Bridge) pump(ctx context.Context) error {
	for {
		events, err := b.source.FetchUnbroadcast(ctx, b.cursor, b.batch)
		if err != nil {
			return fmt.Errorf("failed to fetch outbox events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for _, event := range events {
			b.hub.Broadcast(event)
			ids = append(ids, event.ID)
		}
		b.cursor = ids[len(ids)-1]

		if err := b.source.MarkBroadcast(ctx, ids); err != nil {
			b.logger.Error("failed to mark events broadcast",
				zap.Int("count", len(ids)),
				zap.Error(err),
			)
		}

		if len(events) < b.batch {
			return nil
		}
	}
}
