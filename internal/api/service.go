package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/storage"
	"swapCore/internal/venue"
)

var (
	ErrNoHistory = errors.New("no saga journal configured")
	ErrNoScript  = errors.New("venue is not scripted")
)

// Service is the "swap" JSON-RPC namespace of a node.
type Service struct {
	host    *host.Host
	history storage.History
	script  *venue.ScriptedQuoter
	logger  *zap.Logger
}

// NewService exposes h. history and script are optional.
func NewService(h *host.Host, history storage.History, script *venue.ScriptedQuoter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{host: h, history: history, script: script, logger: logger}
}

// Submit queues a transaction and returns its id (swap_submit). The signer
// is taken as given; the server only listens on loopback.
func (s *Service) Submit(ctx context.Context, tx host.Transaction) (string, error) {
	txID, err := s.host.Submit(ctx, tx)
	if err != nil {
		return "", err
	}
	s.logger.Info("transaction submitted",
		zap.String("tx", txID),
		zap.String("signer", tx.Signer.String()),
		zap.String("receiver", tx.Receiver.String()),
		zap.String("method", tx.Method),
	)
	return txID, nil
}

// Outcome blocks until the transaction settled (swap_outcome). Outcomes are
// forgotten once the host's retention window has passed.
func (s *Service) Outcome(ctx context.Context, txID string) (*host.TxOutcome, error) {
	out, err := s.host.Wait(ctx, txID)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Call submits and waits in one round trip (swap_call).
func (s *Service) Call(ctx context.Context, tx host.Transaction) (*host.TxOutcome, error) {
	txID, err := s.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	return s.Outcome(ctx, txID)
}

func (s *Service) Balance(ctx context.Context, token, account model.AccountID) (model.Amount, error) {
	args, err := json.Marshal(map[string]model.AccountID{"account_id": account})
	if err != nil {
		return model.Amount{}, err
	}
	raw, err := s.host.View(ctx, token, "ft_balance_of", args)
	if err != nil {
		return model.Amount{}, err
	}
	var amount model.Amount
	if err := json.Unmarshal(raw, &amount); err != nil {
		return model.Amount{}, fmt.Errorf("decode balance: %w", err)
	}
	return amount, nil
}

func (s *Service) NativeBalance(_ context.Context, account model.AccountID) (model.Amount, error) {
	return s.host.NativeBalance(account)
}

func (s *Service) View(ctx context.Context, receiver model.AccountID, method string, args json.RawMessage) (json.RawMessage, error) {
	return s.host.View(ctx, receiver, method, args)
}

// History reads a saga's events back from the journal (swap_history).
func (s *Service) History(ctx context.Context, sagaID string) ([]model.SagaEvent, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	events, err := s.history.EventsBySaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.SagaEvent{}
	}
	return events, nil
}

// ScriptFill queues the next fill of the scripted venue (swap_scriptFill).
func (s *Service) ScriptFill(_ context.Context, fill venue.Fill) error {
	if s.script == nil {
		return ErrNoScript
	}
	s.script.Push(fill)
	s.logger.Info("fill scripted",
		zap.String("used", fill.Used.String()),
		zap.String("token_out", fill.TokenOut.String()),
		zap.String("amount_out", fill.AmountOut.String()),
	)
	return nil
}
