package core

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// callbackCheckTransfer closes a swap-in delivery. A failed delivery is
// rerouted to the controller so the output never stays on the core.
func (c *Core) callbackCheckTransfer(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if err := requirePrivate(env); err != nil {
		return promise.Outcome{}, err
	}
	var payload model.CheckTransferPayload
	if err := decodeStage(args, &payload, model.StageCheckTransfer); err != nil {
		return promise.Outcome{}, err
	}
	saga := payload.Saga
	result, err := singleResult(env)
	if err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, err)
	}
	asset := saga.AssetOut
	if payload.Native {
		asset = "native"
	}

	if result.Succeeded() {
		env.Emit(model.SagaEvent{
			SagaID:  saga.SagaID,
			Kind:    model.EventDelivered,
			Stage:   model.StageCheckTransfer,
			Asset:   asset,
			Account: saga.Destination,
			Amount:  amountPtr(payload.AmountOut),
		})
		c.release(saga.SagaID)
		return promise.ReturnValue(saga.Settlement())
	}

	cfg := c.Config()
	var (
		memo  string
		route *promise.Promise
	)
	switch {
	case payload.Native && cfg.NativeCompensation == NativeRewrap:
		memo = fmt.Sprintf("transfer to user %s failed, rerouted to controller, native: true", saga.Destination)
		route = promise.Call(cfg.WrappedToken, "near_deposit", struct{}{}).
			WithGas(GasNearDeposit).WithDeposit(payload.AmountOut).
			Then(ftTransfer(cfg.WrappedToken, cfg.Controller, payload.AmountOut, memo))
	case payload.Native:
		memo = fmt.Sprintf("transfer to user %s failed, rerouted to controller, native: true", saga.Destination)
		route = promise.Transfer(cfg.Controller, payload.AmountOut)
	default:
		memo = fmt.Sprintf("transfer to user %s failed, rerouted to controller", saga.Destination)
		route = ftTransfer(saga.AssetOut, cfg.Controller, payload.AmountOut, memo)
	}

	env.Emit(model.SagaEvent{
		SagaID:  saga.SagaID,
		Kind:    model.EventDeliveryFailed,
		Stage:   model.StageCheckTransfer,
		Asset:   asset,
		Account: cfg.Controller,
		Amount:  amountPtr(payload.AmountOut),
		Memo:    memo,
	})
	env.Logger().Warn("delivery failed, rerouting",
		zap.String("saga", saga.SagaID),
		zap.String("destination", saga.Destination.String()),
		zap.String("controller", cfg.Controller.String()),
		zap.String("amount", payload.AmountOut.String()),
		zap.Bool("native", payload.Native),
		zap.String("mode", string(cfg.NativeCompensation)),
	)

	return promise.ReturnPromise(route.Then(c.callback("callback_return_value",
		model.NewReturnValuePayload(saga.SagaID, saga.Settlement(), model.StageCheckTransfer, memo),
		GasReturnValue)))
}

// callbackCheckForward closes a swap-out forward. The bridge side reports
// how much it kept; whatever it refused comes back to the core and is
// rerouted to the controller.
func (c *Core) callbackCheckForward(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if err := requirePrivate(env); err != nil {
		return promise.Outcome{}, err
	}
	var payload model.CheckForwardPayload
	if err := decodeStage(args, &payload, model.StageCheckForward); err != nil {
		return promise.Outcome{}, err
	}
	saga := payload.Saga
	result, err := singleResult(env)
	if err != nil {
		return promise.Outcome{}, c.abandon(saga.SagaID, err)
	}

	refused := payload.AmountOut
	if result.Succeeded() {
		var used model.Amount
		if err := result.Decode(&used); err != nil {
			return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: decode forwarded amount: %v", ErrProtocolViolation, err))
		}
		refused, err = payload.AmountOut.Sub(used)
		if err != nil {
			return promise.Outcome{}, c.abandon(saga.SagaID, fmt.Errorf("%w: forwarded %s of %s: %w", ErrInvariant, used, payload.AmountOut, err))
		}
	}

	if refused.IsZero() {
		env.Emit(model.SagaEvent{
			SagaID:  saga.SagaID,
			Kind:    model.EventForwarded,
			Stage:   model.StageCheckForward,
			Asset:   saga.AssetOut,
			Account: saga.Destination,
			Amount:  amountPtr(payload.AmountOut),
		})
		c.release(saga.SagaID)
		return promise.ReturnValue(saga.Settlement())
	}

	cfg := c.Config()
	memo := fmt.Sprintf("forward to %s refused, rerouted to controller", saga.Destination)
	env.Emit(model.SagaEvent{
		SagaID:  saga.SagaID,
		Kind:    model.EventForwardRefused,
		Stage:   model.StageCheckForward,
		Asset:   saga.AssetOut,
		Account: cfg.Controller,
		Amount:  amountPtr(refused),
		Memo:    memo,
	})
	return promise.ReturnPromise(
		ftTransfer(saga.AssetOut, cfg.Controller, refused, memo).
			Then(c.callback("callback_return_value",
				model.NewReturnValuePayload(saga.SagaID, saga.Settlement(), model.StageCheckForward, memo),
				GasReturnValue)),
	)
}

// callbackReturnValue ends a chain with a fixed value. When it follows a
// reroute it records whether the reroute landed.
func (c *Core) callbackReturnValue(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if err := requirePrivate(env); err != nil {
		return promise.Outcome{}, err
	}
	var payload model.ReturnValuePayload
	if err := decodeStage(args, &payload, model.StageReturnValue); err != nil {
		return promise.Outcome{}, err
	}

	event := model.SagaEvent{
		SagaID: payload.SagaID,
		Stage:  model.StageReturnValue,
		Amount: amountPtr(payload.Amount),
		Memo:   payload.Reason,
	}
	if payload.Follows == model.StageNone {
		if n := len(env.PromiseResults()); n != 0 {
			return promise.Outcome{}, c.abandon(payload.SagaID, fmt.Errorf("%w: expected no promise results, got %d", ErrProtocolViolation, n))
		}
		event.Kind = model.EventValueReturned
	} else {
		result, err := singleResult(env)
		if err != nil {
			return promise.Outcome{}, c.abandon(payload.SagaID, err)
		}
		event.Kind = model.EventCompensated
		if !result.Succeeded() {
			event.Kind = model.EventCompensationFailed
			env.Logger().Error("reroute to controller failed",
				zap.String("saga", payload.SagaID),
				zap.String("after", string(payload.Follows)),
				zap.String("reason", payload.Reason),
			)
		}
	}
	env.Emit(event)
	c.release(payload.SagaID)
	return promise.ReturnValue(payload.Amount)
}
