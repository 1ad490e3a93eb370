package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapCore/internal/api"
	"swapCore/internal/chain"
	"swapCore/internal/config"
	"swapCore/internal/host"
	"swapCore/internal/metrics"
	"swapCore/internal/queue"
	"swapCore/internal/storage"
	"swapCore/internal/storage/postgres"
	"swapCore/internal/venue"
)

// Node is a running swapcore process: the host, the deployed genesis and
// the API in front of them.
type Node struct {
	Host       *host.Host
	Deployment *Deployment
	Server     *api.Server

	logger  *zap.Logger
	closers []func()
}

// New opens the configured drivers and deploys genesis. The caller closes
// the node once it is done with it.
func New(ctx context.Context, cfg config.Config, genesis config.Genesis, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{logger: logger}
	ready := false
	defer func() {
		if !ready {
			n.Close()
		}
	}()

	q, err := n.openQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	journal, history, err := n.openJournal(ctx, cfg.Journal)
	if err != nil {
		return nil, err
	}
	quoter, script, err := n.openQuoter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	n.Host = host.New(host.Options{
		Queue:   q,
		Journal: journal,
		Logger:  logger,
		Metrics: metrics.Default(),
		Workers: cfg.Workers,

		OutcomeRetention: cfg.OutcomeRetention,
	})
	n.Deployment, err = Deploy(n.Host, genesis, quoter)
	if err != nil {
		return nil, fmt.Errorf("deploy genesis: %w", err)
	}
	n.Server, err = api.NewServer(cfg.Listen, api.NewService(n.Host, history, script, logger), prometheus.DefaultGatherer, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("node ready",
		zap.String("core", n.Deployment.Core.ID().String()),
		zap.String("queue", cfg.Queue),
		zap.String("journal", cfg.Journal.Driver),
		zap.Bool("scripted_venue", script != nil),
		zap.Int("workers", cfg.Workers),
	)
	ready = true
	return n, nil
}

// Run executes receipts and serves the API until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := n.Host.Run(ctx); err != nil {
			return fmt.Errorf("host: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return n.Server.Run(ctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases drivers in reverse opening order.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}

func (n *Node) openQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	var (
		q   queue.Queue
		err error
	)
	switch cfg.Queue {
	case config.QueueRedis:
		q, err = queue.NewRedisQueue(ctx, queue.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait,
		})
	case config.QueueRabbitMQ:
		q, err = queue.NewRabbitMQQueue(queue.RabbitMQConfig{
			URL:      cfg.Rabbit.URL,
			Queue:    cfg.Rabbit.Queue,
			Prefetch: cfg.Rabbit.Prefetch,
			Durable:  cfg.Rabbit.Durable,
		})
	default:
		q = queue.NewMemoryQueue()
	}
	if err != nil {
		return nil, fmt.Errorf("open %s queue: %w", cfg.Queue, err)
	}
	n.closers = append(n.closers, func() {
		if err := q.Close(); err != nil {
			n.logger.Warn("close queue", zap.Error(err))
		}
	})
	return q, nil
}

func (n *Node) openJournal(ctx context.Context, cfg config.JournalConfig) (storage.Journal, storage.History, error) {
	switch cfg.Driver {
	case config.JournalJSONL:
		j := storage.NewJsonlJournal(cfg.Path)
		return j, j, nil
	case config.JournalPostgres:
		store, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres journal: %w", err)
		}
		n.closers = append(n.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, nil
	}
}

// openQuoter dials the remote pricing service, or falls back to a scripted
// venue fed through the API.
func (n *Node) openQuoter(ctx context.Context, cfg config.Config) (venue.Quoter, *venue.ScriptedQuoter, error) {
	if cfg.QuoterURL == "" {
		script := venue.NewScriptedQuoter()
		return script, script, nil
	}
	remote, err := chain.NewRemoteQuoter(ctx, cfg.QuoterURL, cfg.MaxRetries, cfg.RetryBackoff, n.logger)
	if err != nil {
		return nil, nil, err
	}
	n.closers = append(n.closers, remote.Close)
	return remote, nil, nil
}
