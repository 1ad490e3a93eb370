package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swapCore/internal/host"
	"swapCore/internal/ledger"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

const (
	// PayoutGas is attached to the ft_transfer paying the output asset.
	PayoutGas = 10 * promise.TGas
	// ResolveGas is attached to the venue's own resolve step.
	ResolveGas = 5 * promise.TGas
)

var (
	ErrRejectedOrder = errors.New("order rejected")
	ErrOverfill      = errors.New("venue reported more used than offered")
)

// Order is an instruction received with an incoming transfer.
type Order struct {
	Sender   model.AccountID  `json:"sender"`
	TokenIn  model.AccountID  `json:"token_in"`
	AmountIn model.Amount     `json:"amount_in"`
	Referral *model.AccountID `json:"referral,omitempty"`
	Actions  []model.Action   `json:"actions"`
}

// Fill is how much of an order was consumed and what it produced.
type Fill struct {
	Used      model.Amount    `json:"used"`
	TokenOut  model.AccountID `json:"token_out"`
	AmountOut model.Amount    `json:"amount_out"`
}

// Quoter executes orders. The venue contract itself never prices anything.
type Quoter interface {
	Execute(ctx context.Context, order Order) (Fill, error)
}

// Contract is the venue's on-ledger face: it takes tokens through
// ft_on_transfer, hands the order to a Quoter, pays the output back to the
// sender and reports the unused amount so the asset contract refunds it.
type Contract struct {
	id     model.AccountID
	quoter Quoter
}

func NewContract(id model.AccountID, quoter Quoter) *Contract {
	return &Contract{id: id, quoter: quoter}
}

func (c *Contract) ID() model.AccountID {
	return c.id
}

type resolveArgs struct {
	Sender   model.AccountID `json:"sender"`
	TokenOut model.AccountID `json:"token_out"`
	Unused   model.Amount    `json:"unused"`
}

func (c *Contract) Invoke(env host.Env, method string, args json.RawMessage) (promise.Outcome, error) {
	switch method {
	case "ft_on_transfer":
		return c.onTransfer(env, args)
	case "venue_resolve":
		return c.resolve(env, args)
	default:
		return promise.Outcome{}, fmt.Errorf("%s: %w", method, ledger.ErrUnknownMethod)
	}
}

func (c *Contract) onTransfer(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	var req ledger.OnTransferArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return promise.Outcome{}, fmt.Errorf("decode ft_on_transfer: %w", err)
	}
	var msg model.TokenReceiverMessage
	if err := json.Unmarshal([]byte(req.Msg), &msg); err != nil {
		return promise.Outcome{}, fmt.Errorf("%w: %v", ErrRejectedOrder, err)
	}
	if msg.Kind != model.ReceiverExecute || msg.Execute == nil || len(msg.Execute.Actions) == 0 {
		return promise.Outcome{}, fmt.Errorf("%w: nothing to execute", ErrRejectedOrder)
	}
	first := msg.Execute.Actions[0]
	if first.Swap == nil || first.Swap.TokenIn != env.Predecessor() {
		return promise.Outcome{}, fmt.Errorf("%w: first action does not spend %s", ErrRejectedOrder, env.Predecessor())
	}

	order := Order{
		Sender:   req.SenderID,
		TokenIn:  env.Predecessor(),
		AmountIn: req.Amount,
		Referral: msg.Execute.ReferralID,
		Actions:  msg.Execute.Actions,
	}
	fill, err := c.quoter.Execute(env.Context(), order)
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("execute order: %w", err)
	}
	unused, err := req.Amount.Sub(fill.Used)
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("%w: used %s of %s", ErrOverfill, fill.Used, req.Amount)
	}
	env.Logger().Info("order filled",
		zap.String("sender", req.SenderID.String()),
		zap.String("token_in", order.TokenIn.String()),
		zap.String("used", fill.Used.String()),
		zap.String("token_out", fill.TokenOut.String()),
		zap.String("amount_out", fill.AmountOut.String()),
	)

	if fill.AmountOut.IsZero() {
		return promise.ReturnValue(unused)
	}
	if err := fill.TokenOut.Validate(); err != nil {
		return promise.Outcome{}, fmt.Errorf("fill token_out: %w", err)
	}
	return promise.ReturnPromise(
		promise.Call(fill.TokenOut, "ft_transfer", map[string]any{
			"receiver_id": req.SenderID,
			"amount":      fill.AmountOut,
		}).WithGas(PayoutGas).WithDeposit(model.NewAmount(1)).
			Then(promise.Call(c.id, "venue_resolve", resolveArgs{
				Sender:   req.SenderID,
				TokenOut: fill.TokenOut,
				Unused:   unused,
			}).WithGas(ResolveGas)),
	)
}

// resolve reports the unused input once the payout settled. A failed payout
// leaves the output on the venue and is only logged.
func (c *Contract) resolve(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if env.Predecessor() != env.CurrentAccount() {
		return promise.Outcome{}, fmt.Errorf("venue_resolve: %w", ledger.ErrPrivate)
	}
	var req resolveArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return promise.Outcome{}, fmt.Errorf("decode venue_resolve: %w", err)
	}
	results := env.PromiseResults()
	if len(results) != 1 || !results[0].Succeeded() {
		env.Logger().Warn("payout failed",
			zap.String("sender", req.Sender.String()),
			zap.String("token_out", req.TokenOut.String()),
		)
	}
	return promise.ReturnValue(req.Unused)
}
