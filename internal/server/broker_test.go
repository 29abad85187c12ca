package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBrokerLocalPublish(t *testing.T) {
	b := NewBroker(nil, slog.New(slog.DiscardHandler))

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(context.Background(), "run-1")

	select {
	case event := <-ch:
		assert.Equal(t, "event: ordersight_runs\ndata: run-1\n\n", string(event))
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(nil, slog.New(slog.DiscardHandler))

	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.Publish(context.Background(), "run-9")

	for _, ch := range []chan []byte{a, c} {
		select {
		case event := <-ch:
			assert.Contains(t, string(event), "run-9")
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	// A slow subscriber with a full buffer loses events instead of
	// blocking the broadcast.
	b := NewBroker(nil, slog.New(slog.DiscardHandler))

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 200; i++ {
		b.Publish(context.Background(), "run-flood")
	}
	// The subscriber buffer holds 64; the rest were dropped, and the
	// publisher never blocked.
	assert.Len(t, ch, 64)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(nil, slog.New(slog.DiscardHandler))

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
}

func TestBrokerStartWithoutDatabaseReturns(t *testing.T) {
	b := NewBroker(nil, slog.New(slog.DiscardHandler))

	done := make(chan struct{})
	go func() {
		b.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately without a notify connection")
	}
}
