package ledger

import (
	"encoding/json"
	"fmt"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// Wrapped is a token backed one-to-one by native currency held on its own
// account. near_deposit mints the attached deposit; near_withdraw burns and
// pays the native amount back to the caller.
type Wrapped struct {
	*Token
}

func NewWrapped(id model.AccountID) *Wrapped {
	return &Wrapped{Token: NewToken(id)}
}

type withdrawArgs struct {
	Amount model.Amount `json:"amount"`
}

func (w *Wrapped) Invoke(env host.Env, method string, args json.RawMessage) (promise.Outcome, error) {
	switch method {
	case "near_deposit":
		return w.nearDeposit(env)
	case "near_withdraw":
		return w.nearWithdraw(env, args)
	default:
		return w.Token.Invoke(env, method, args)
	}
}

func (w *Wrapped) nearDeposit(env host.Env) (promise.Outcome, error) {
	amount := env.AttachedDeposit()
	if amount.IsZero() {
		return promise.Outcome{}, fmt.Errorf("near_deposit: %w", ErrZeroAmount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.balances[env.Predecessor()]; !ok {
		w.balances[env.Predecessor()] = model.Amount{}
	}
	if err := w.mintLocked(env.Predecessor(), amount); err != nil {
		return promise.Outcome{}, fmt.Errorf("near_deposit: %w", err)
	}
	return promise.Empty(), nil
}

func (w *Wrapped) nearWithdraw(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if !env.AttachedDeposit().Equal(model.NewAmount(1)) {
		return promise.Outcome{}, ErrRequiresOneYocto
	}
	var req withdrawArgs
	if err := decodeArgs(args, &req); err != nil {
		return promise.Outcome{}, err
	}
	if req.Amount.IsZero() {
		return promise.Outcome{}, fmt.Errorf("near_withdraw: %w", ErrZeroAmount)
	}
	w.mu.Lock()
	err := w.burnLocked(env.Predecessor(), req.Amount)
	w.mu.Unlock()
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("near_withdraw: %w", err)
	}
	return promise.ReturnPromise(promise.Transfer(env.Predecessor(), req.Amount))
}
