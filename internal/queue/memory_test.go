package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, []byte(msg)))
	}

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, payload []byte) error {
			mu.Lock()
			got = append(got, string(payload))
			n := len(got)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for messages")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemoryQueueHandlerCanPublish(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, q.Publish(ctx, []byte("0")))
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, 1, func(ctx context.Context, payload []byte) error {
			if len(payload) >= 200 {
				close(done)
				return nil
			}
			return q.Publish(ctx, append(payload, '0'))
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("handler publishing into its own queue stalled")
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Close())
	err := q.Publish(context.Background(), []byte("x"))
	require.True(t, errors.Is(err, ErrClosed))

	// Consume returns once the queue is closed.
	require.NoError(t, q.Consume(context.Background(), 2, func(context.Context, []byte) error { return nil }))
}
