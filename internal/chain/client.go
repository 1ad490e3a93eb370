package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
	"swapCore/internal/venue"
)

// Client talks to a swapcore node over JSON-RPC.
type Client struct {
	rpcClient  *rpc.Client
	maxRetries int
	retryDelay time.Duration

	mu       sync.RWMutex
	outcomes map[string]host.TxOutcome
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry sets how often idempotent reads are retried.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = baseDelay
	}
}

// NewClient creates a new client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return Wrap(rpcClient, opts...), nil
}

// Wrap builds a client on an existing RPC connection.
func Wrap(rpcClient *rpc.Client, opts ...Option) *Client {
	c := &Client{
		rpcClient:  rpcClient,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
		outcomes:   make(map[string]host.TxOutcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Submit queues a transaction and returns its id. Submissions are never
// retried.
func (c *Client) Submit(ctx context.Context, tx host.Transaction) (string, error) {
	var txID string
	if err := c.rpcClient.CallContext(ctx, &txID, "swap_submit", tx); err != nil {
		return "", fmt.Errorf("submit %s.%s: %w", tx.Receiver, tx.Method, err)
	}
	return txID, nil
}

// Outcome waits for a transaction to settle. Settled outcomes are cached.
func (c *Client) Outcome(ctx context.Context, txID string) (host.TxOutcome, error) {
	c.mu.RLock()
	out, ok := c.outcomes[txID]
	c.mu.RUnlock()
	if ok {
		return out, nil
	}

	err := c.read(ctx, &out, "swap_outcome", txID)
	if err != nil {
		return host.TxOutcome{}, fmt.Errorf("outcome of %s: %w", txID, err)
	}
	if out.Status != promise.NotReady {
		c.mu.Lock()
		c.outcomes[txID] = out
		c.mu.Unlock()
	}
	return out, nil
}

// Call submits a transaction and waits for its outcome.
func (c *Client) Call(ctx context.Context, tx host.Transaction) (host.TxOutcome, error) {
	txID, err := c.Submit(ctx, tx)
	if err != nil {
		return host.TxOutcome{}, err
	}
	return c.Outcome(ctx, txID)
}

// Balance returns account's balance of token.
func (c *Client) Balance(ctx context.Context, token, account model.AccountID) (model.Amount, error) {
	var amount model.Amount
	if err := c.read(ctx, &amount, "swap_balance", token, account); err != nil {
		return model.Amount{}, fmt.Errorf("balance of %s on %s: %w", account, token, err)
	}
	return amount, nil
}

// NativeBalance returns account's native currency balance.
func (c *Client) NativeBalance(ctx context.Context, account model.AccountID) (model.Amount, error) {
	var amount model.Amount
	if err := c.read(ctx, &amount, "swap_nativeBalance", account); err != nil {
		return model.Amount{}, fmt.Errorf("native balance of %s: %w", account, err)
	}
	return amount, nil
}

// View runs a read-only contract method.
func (c *Client) View(ctx context.Context, receiver model.AccountID, method string, args json.RawMessage) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.read(ctx, &raw, "swap_view", receiver, method, args); err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", receiver, method, err)
	}
	return raw, nil
}

// History returns the journaled events of a saga.
func (c *Client) History(ctx context.Context, sagaID string) ([]model.SagaEvent, error) {
	var events []model.SagaEvent
	if err := c.read(ctx, &events, "swap_history", sagaID); err != nil {
		return nil, fmt.Errorf("history of %s: %w", sagaID, err)
	}
	return events, nil
}

// ScriptFill queues the next fill of a node running the scripted venue.
func (c *Client) ScriptFill(ctx context.Context, fill venue.Fill) error {
	if err := c.rpcClient.CallContext(ctx, nil, "swap_scriptFill", fill); err != nil {
		return fmt.Errorf("script fill: %w", err)
	}
	return nil
}

// read performs an idempotent call, retrying transport failures.
func (c *Client) read(ctx context.Context, result any, method string, args ...any) error {
	return withRetry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		err := c.rpcClient.CallContext(ctx, result, method, args...)
		if isRemote(err) {
			return permanent{err}
		}
		return err
	})
}

// isRemote reports whether err was returned by the node itself rather than
// by the transport.
func isRemote(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}
