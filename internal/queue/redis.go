package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// RedisConfig holds the connection parameters of a Redis list queue.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue keeps receipts on a Redis list: LPUSH to publish, BRPOP to
// consume. Payloads a handler rejects go to the "<queue>:dead" list instead
// of being retried, since a receipt may have run partway.
type RedisQueue struct {
	client *redis.Client
	queue  string
	dead   string
	wait   time.Duration
}

func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	name := cfg.Queue
	if name == "" {
		name = "swapcore:receipts"
	}
	wait := cfg.BlockWait
	if wait < time.Second {
		// BRPOP timeouts have one second granularity
		wait = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisQueue{client: client, queue: name, dead: name + ":dead", wait: wait}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", q.queue, err)
	}
	return nil
}

// Consume runs workerCount workers until ctx is done. The first worker that
// fails stops the others, and Consume returns once all of them have exited.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error { return q.work(gctx, handler) })
	}
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redis consume %s: %w", q.queue, err)
		}
		if len(values) != 2 {
			continue
		}
		payload := []byte(values[1])
		if err := handler(ctx, payload); err != nil {
			if err := q.client.LPush(ctx, q.dead, payload).Err(); err != nil {
				return fmt.Errorf("redis dead letter %s: %w", q.dead, err)
			}
		}
	}
}

func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
