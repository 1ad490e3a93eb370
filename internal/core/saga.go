package core

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// callbackGetAmountOut reads how much of the input the venue consumed.
// Anything left over goes back to the controller; a full fill moves on to
// reading the core's balance of the output asset.
func (c *Core) callbackGetAmountOut(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if err := requirePrivate(env); err != nil {
		return promise.Outcome{}, err
	}
	var payload model.GetAmountOutPayload
	if err := decodeStage(args, &payload, model.StageGetAmountOut); err != nil {
		return promise.Outcome{}, err
	}
	saga := payload.Saga
	result, err := singleResult(env)
	if err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, err)
	}
	if !result.Succeeded() {
		return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("saga %s: transfer to venue: %w", saga.SagaID, ErrVenueCallFailed))
	}
	var used model.Amount
	if err := result.Decode(&used); err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: decode used amount: %v", ErrProtocolViolation, err))
	}

	if !used.Equal(saga.RequestedAmount) {
		remainder, err := saga.RequestedAmount.Sub(used)
		if err != nil {
			return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: venue used %s of %s: %w", ErrInvariant, used, saga.RequestedAmount, err))
		}
		env.Emit(model.SagaEvent{
			SagaID:  saga.SagaID,
			Kind:    model.EventVenuePartialFill,
			Stage:   model.StageGetAmountOut,
			Asset:   saga.AssetIn,
			Account: c.Config().Controller,
			Amount:  amountPtr(remainder),
			Memo:    fmt.Sprintf("venue used %s of %s", used, saga.RequestedAmount),
		})
		env.Logger().Warn("venue used unexpected amount",
			zap.String("saga", saga.SagaID),
			zap.String("expected", saga.RequestedAmount.String()),
			zap.String("actual", used.String()),
		)
		// no balance is read on this path, so the output asset is free again
		c.release(saga.SagaID)
		if saga.DirectCall {
			env.Schedule(ftTransfer(saga.AssetIn, c.Config().Controller, remainder, ""))
			return promise.ReturnValue(used)
		}
		// the asset contract refunds what the notification reports unused
		return promise.ReturnPromise(c.callback("callback_return_value",
			model.NewReturnValuePayload(saga.SagaID, remainder, model.StageNone, string(model.EventVenuePartialFill)),
			GasReturnValue))
	}

	return promise.ReturnPromise(
		promise.Call(saga.AssetOut, "ft_balance_of", ftBalanceOfArgs{AccountID: c.id}).WithGas(GasFtBalanceOf).
			Then(c.callback("callback_transfer_to_target_account", model.NewTransferToTargetPayload(saga), GasTransferToTarget)),
	)
}

// callbackTransferToTarget routes the output: unwrapped to native currency,
// transferred as is, or forwarded with a notification for swap-out.
func (c *Core) callbackTransferToTarget(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if err := requirePrivate(env); err != nil {
		return promise.Outcome{}, err
	}
	var payload model.TransferToTargetPayload
	if err := decodeStage(args, &payload, model.StageTransferToTarget); err != nil {
		return promise.Outcome{}, err
	}
	saga := payload.Saga
	result, err := singleResult(env)
	if err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, err)
	}
	if !result.Succeeded() {
		return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: balance of %s on %s unavailable", ErrInvariant, c.id, saga.AssetOut))
	}
	var amountOut model.Amount
	if err := result.Decode(&amountOut); err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: decode balance: %v", ErrProtocolViolation, err))
	}

	if amountOut.IsZero() {
		env.Emit(model.SagaEvent{
			SagaID:  saga.SagaID,
			Kind:    model.EventZeroOutput,
			Stage:   model.StageTransferToTarget,
			Asset:   saga.AssetOut,
			Account: saga.Destination,
			Amount:  amountPtr(amountOut),
		})
		c.release(saga.SagaID)
		return promise.ReturnValue(saga.Settlement())
	}

	cfg := c.Config()
	switch {
	case saga.SwapIn() && saga.AssetOut == cfg.WrappedToken:
		return promise.ReturnPromise(
			promise.Call(cfg.WrappedToken, "near_withdraw", nearWithdrawArgs{Amount: amountOut}).
				WithGas(GasNearWithdraw).WithDeposit(oneYocto).
				Then(c.callback("callback_deliver_native", model.NewDeliverNativePayload(saga, amountOut), GasDeliverNative)),
		)
	case saga.SwapIn():
		return promise.ReturnPromise(
			ftTransfer(saga.AssetOut, saga.Destination, amountOut, "").
				Then(c.callback("callback_check_transfer", model.NewCheckTransferPayload(saga, amountOut, false), GasCheckTransfer)),
		)
	default:
		return promise.ReturnPromise(
			promise.Call(saga.AssetOut, "ft_transfer_call", ftTransferCallArgs{
				ReceiverID: saga.Destination,
				Amount:     amountOut,
				Msg:        "",
			}).WithGas(GasFtTransferCallForward).WithDeposit(oneYocto).
				Then(c.callback("callback_check_forward", model.NewCheckForwardPayload(saga, amountOut), GasCheckForward)),
		)
	}
}

// callbackDeliverNative pays the unwrapped amount to the destination. The
// core is registered with the wrapped token and holds the amount, so a
// failed unwrap means the ledger broke its contract.
func (c *Core) callbackDeliverNative(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if err := requirePrivate(env); err != nil {
		return promise.Outcome{}, err
	}
	var payload model.DeliverNativePayload
	if err := decodeStage(args, &payload, model.StageDeliverNative); err != nil {
		return promise.Outcome{}, err
	}
	saga := payload.Saga
	result, err := singleResult(env)
	if err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, err)
	}
	if !result.Succeeded() {
		return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: unwrap of %s failed", ErrInvariant, payload.AmountOut))
	}
	return promise.ReturnPromise(
		promise.Transfer(saga.Destination, payload.AmountOut).
			Then(c.callback("callback_check_transfer", model.NewCheckTransferPayload(saga, payload.AmountOut, true), GasCheckTransfer)),
	)
}
