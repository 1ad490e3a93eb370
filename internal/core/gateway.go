package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

type swapArgs struct {
	Amount      model.Amount    `json:"amount"`
	CoreSwapMsg json.RawMessage `json:"core_swap_msg"`
}

type onTransferArgs struct {
	SenderID model.AccountID `json:"sender_id"`
	Amount   model.Amount    `json:"amount"`
	Msg      string          `json:"msg"`
}

// swap starts a saga on funds the controller already moved to the core.
func (c *Core) swap(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	cfg := c.Config()
	if env.Predecessor() != cfg.Controller {
		return promise.Outcome{}, fmt.Errorf("swap from %s: %w", env.Predecessor(), ErrUnauthorized)
	}
	var req swapArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return promise.Outcome{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(req.CoreSwapMsg) == 0 {
		return promise.Outcome{}, fmt.Errorf("%w: core_swap_msg is required", ErrMalformedRequest)
	}
	request, err := model.DecodeSwapRequest(req.CoreSwapMsg)
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Amount.IsZero() {
		return promise.Outcome{}, fmt.Errorf("%w: amount must be positive", ErrMalformedRequest)
	}
	return c.start(env, cfg, request, request.First().TokenIn, req.Amount, true)
}

// ftOnTransfer starts a saga on tokens delivered with a transfer
// notification. The asset contract calling it is the input asset.
func (c *Core) ftOnTransfer(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	cfg := c.Config()
	var req onTransferArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return promise.Outcome{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.SenderID != cfg.Controller {
		return promise.Outcome{}, fmt.Errorf("transfer from %s: %w", req.SenderID, ErrUnauthorized)
	}
	request, err := model.DecodeSwapRequest([]byte(req.Msg))
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Amount.IsZero() {
		return promise.Outcome{}, fmt.Errorf("%w: amount must be positive", ErrMalformedRequest)
	}
	assetIn := env.Predecessor()
	if first := request.First().TokenIn; first != assetIn {
		return promise.Outcome{}, fmt.Errorf("%w: route starts with %s but %s was transferred", ErrMalformedRequest, first, assetIn)
	}
	return c.start(env, cfg, request, assetIn, req.Amount, false)
}

// start builds the saga context and launches stage 1: the input asset is sent
// to the venue with the route as its message, and the venue's verdict is
// read by callback_get_amount_out.
func (c *Core) start(env host.Env, cfg Config, request model.SwapRequest, assetIn model.AccountID, amount model.Amount, direct bool) (promise.Outcome, error) {
	saga := model.SagaContext{
		SagaID:               c.newID(),
		AssetIn:              assetIn,
		RequestedAmount:      amount,
		AssetOut:             request.Last().TokenOut,
		Destination:          request.Destination,
		DestinationAssetHint: request.DestinationAssetHint,
		DirectCall:           direct,
	}
	if saga.SagaID == "" {
		return promise.Outcome{}, errors.New("empty saga id")
	}

	msg, err := json.Marshal(model.NewExecuteMessage(cfg.Referral, request.Steps))
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("encode venue message: %w", err)
	}
	if err := c.acquire(saga.AssetOut, saga.SagaID); err != nil {
		return promise.Outcome{}, err
	}

	env.Emit(model.SagaEvent{
		SagaID:  saga.SagaID,
		Kind:    model.EventSagaStarted,
		Stage:   model.StageInitiate,
		Asset:   saga.AssetIn,
		Account: saga.Destination,
		Amount:  amountPtr(amount),
		Memo:    fmt.Sprintf("%s -> %s, direct: %t", saga.AssetIn, saga.AssetOut, direct),
	})
	env.Logger().Info("saga started",
		zap.String("saga", saga.SagaID),
		zap.String("asset_in", saga.AssetIn.String()),
		zap.String("asset_out", saga.AssetOut.String()),
		zap.String("amount", amount.String()),
		zap.Bool("swap_in", saga.SwapIn()),
		zap.Bool("direct", direct),
	)

	return promise.ReturnPromise(
		promise.Call(saga.AssetIn, "ft_transfer_call", ftTransferCallArgs{
			ReceiverID: cfg.Venue,
			Amount:     amount,
			Msg:        string(msg),
		}).WithGas(GasFtTransferCallVenue).WithDeposit(oneYocto).
			Then(c.callback("callback_get_amount_out", model.NewGetAmountOutPayload(saga), GasGetAmountOut)),
	)
}
