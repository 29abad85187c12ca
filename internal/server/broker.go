package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ordersight/ordersight/internal/storage"
)

// Broker fans run-update events out to SSE subscribers.
//
// With a Postgres event log it runs a background goroutine that calls
// db.WaitForNotification in a loop and sends each payload to all active
// subscriber channels, so every replica sees updates ingested anywhere.
// Without one (db == nil) Publish delivers directly to the local
// subscriber set.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker. db may be nil for in-process
// fan-out only. Call Start to begin listening when db is set.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start begins listening on the runs channel. It blocks, so call it in
// a goroutine. Returns when ctx is cancelled. No-op without a database.
func (b *Broker) Start(ctx context.Context) {
	if b.db == nil {
		return
	}
	if err := b.db.Listen(ctx, storage.ChannelRuns); err != nil {
		b.logger.Error("broker: listen runs", "error", err)
		return
	}

	b.logger.Info("broker: listening for notifications", "channel", storage.ChannelRuns)

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}
		b.broadcast(formatSSE(channel, payload))
	}
}

// Publish sends a run-update event to subscribers. When a database is
// configured it routes through pg_notify so all replicas fan it out;
// otherwise it broadcasts to the local subscriber set directly.
func (b *Broker) Publish(ctx context.Context, runID string) {
	if b.db != nil {
		if err := b.db.Notify(ctx, storage.ChannelRuns, runID); err != nil {
			b.logger.Warn("broker: notify failed, broadcasting locally", "error", err)
			b.broadcast(formatSSE(storage.ChannelRuns, runID))
		}
		return
	}
	b.broadcast(formatSSE(storage.ChannelRuns, runID))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to all subscribers. Slow subscribers that
// have a full buffer are skipped (their event is dropped) to prevent
// one slow client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
