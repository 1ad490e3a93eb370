package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Handler processes one message taken from the queue.
type Handler func(ctx context.Context, payload []byte) error

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer drains messages with a pool of workers until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of a message queue.
type Queue interface {
	Producer
	Consumer
}
