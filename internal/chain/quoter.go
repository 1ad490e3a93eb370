package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"swapCore/internal/venue"
)

// RemoteQuoter executes venue orders on an external pricing service through
// its venue_execute method.
type RemoteQuoter struct {
	rpcClient  *rpc.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewRemoteQuoter dials the pricing service.
func NewRemoteQuoter(ctx context.Context, rpcURL string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*RemoteQuoter, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial quoter %s: %w", rpcURL, err)
	}
	return WrapQuoter(rpcClient, maxRetries, retryDelay, logger), nil
}

func WrapQuoter(rpcClient *rpc.Client, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *RemoteQuoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteQuoter{
		rpcClient:  rpcClient,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (q *RemoteQuoter) Close() {
	if q.rpcClient != nil {
		q.rpcClient.Close()
	}
}

// Execute implements venue.Quoter. Only transport failures are retried; an
// order the service rejected is reported as is.
func (q *RemoteQuoter) Execute(ctx context.Context, order venue.Order) (venue.Fill, error) {
	var fill venue.Fill
	attempt := 0
	err := withRetry(ctx, q.maxRetries, q.retryDelay, func(ctx context.Context) error {
		attempt++
		err := q.rpcClient.CallContext(ctx, &fill, "venue_execute", order)
		switch {
		case err == nil:
			return nil
		case isRemote(err):
			return permanent{fmt.Errorf("%w: %v", venue.ErrRejectedOrder, err)}
		default:
			q.logger.Warn("quoter call failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
	})
	if err != nil {
		return venue.Fill{}, fmt.Errorf("venue_execute: %w", err)
	}
	return fill, nil
}
