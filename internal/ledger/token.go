package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// ResolveTransferGas is reserved by ft_transfer_call for its own resolve step.
const ResolveTransferGas = 5 * promise.TGas

var (
	ErrNotRegistered     = errors.New("account not registered")
	ErrInsufficientFunds = errors.New("insufficient token balance")
	ErrRequiresOneYocto  = errors.New("requires attached deposit of exactly 1")
	ErrSelfTransfer      = errors.New("sender and receiver must differ")
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrPrivate           = errors.New("method is private")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrInsufficientGas   = errors.New("not enough gas to forward")
	ErrUnexpectedResults = errors.New("unexpected number of promise results")
)

// Token is a fungible asset ledger speaking the transfer-with-notification
// protocol: ft_transfer, ft_transfer_call with refund of the unused amount,
// ft_balance_of and storage_deposit.
type Token struct {
	id model.AccountID

	mu       sync.Mutex
	balances map[model.AccountID]model.Amount
	supply   model.Amount
}

func NewToken(id model.AccountID) *Token {
	return &Token{id: id, balances: make(map[model.AccountID]model.Amount)}
}

func (t *Token) ID() model.AccountID {
	return t.id
}

// Register opens a zero balance for account.
func (t *Token) Register(account model.AccountID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.balances[account]; !ok {
		t.balances[account] = model.Amount{}
	}
}

// Mint credits amount to a registered account.
func (t *Token) Mint(account model.AccountID, amount model.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mintLocked(account, amount)
}

func (t *Token) mintLocked(account model.AccountID, amount model.Amount) error {
	balance, ok := t.balances[account]
	if !ok {
		return fmt.Errorf("mint to %s: %w", account, ErrNotRegistered)
	}
	supply, err := t.supply.Add(amount)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	credited, err := balance.Add(amount)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	t.supply = supply
	t.balances[account] = credited
	return nil
}

func (t *Token) burnLocked(account model.AccountID, amount model.Amount) error {
	balance, ok := t.balances[account]
	if !ok {
		return fmt.Errorf("burn from %s: %w", account, ErrNotRegistered)
	}
	debited, err := balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("burn from %s: %w", account, ErrInsufficientFunds)
	}
	supply, err := t.supply.Sub(amount)
	if err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	t.supply = supply
	t.balances[account] = debited
	return nil
}

// BalanceOf returns the balance of account and whether it is registered.
func (t *Token) BalanceOf(account model.AccountID) (model.Amount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, ok := t.balances[account]
	return balance, ok
}

func (t *Token) TotalSupply() model.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

type tokenState struct {
	balances map[model.AccountID]model.Amount
	supply   model.Amount
}

func (t *Token) Snapshot() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	balances := make(map[model.AccountID]model.Amount, len(t.balances))
	for k, v := range t.balances {
		balances[k] = v
	}
	return tokenState{balances: balances, supply: t.supply}
}

func (t *Token) Restore(snapshot any) {
	state, ok := snapshot.(tokenState)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = state.balances
	t.supply = state.supply
}

func (t *Token) transferLocked(from, to model.AccountID, amount model.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	fromBalance, ok := t.balances[from]
	if !ok {
		return fmt.Errorf("sender %s: %w", from, ErrNotRegistered)
	}
	toBalance, ok := t.balances[to]
	if !ok {
		return fmt.Errorf("receiver %s: %w", to, ErrNotRegistered)
	}
	debited, err := fromBalance.Sub(amount)
	if err != nil {
		return fmt.Errorf("sender %s: %w", from, ErrInsufficientFunds)
	}
	credited, err := toBalance.Add(amount)
	if err != nil {
		return err
	}
	t.balances[from] = debited
	t.balances[to] = credited
	return nil
}

type transferArgs struct {
	ReceiverID model.AccountID `json:"receiver_id"`
	Amount     model.Amount    `json:"amount"`
	Memo       *string         `json:"memo,omitempty"`
}

type transferCallArgs struct {
	ReceiverID model.AccountID `json:"receiver_id"`
	Amount     model.Amount    `json:"amount"`
	Memo       *string         `json:"memo,omitempty"`
	Msg        string          `json:"msg"`
}

// OnTransferArgs is what ft_transfer_call delivers to the receiver's ft_on_transfer.
type OnTransferArgs struct {
	SenderID model.AccountID `json:"sender_id"`
	Amount   model.Amount    `json:"amount"`
	Msg      string          `json:"msg"`
}

type resolveArgs struct {
	SenderID   model.AccountID `json:"sender_id"`
	ReceiverID model.AccountID `json:"receiver_id"`
	Amount     model.Amount    `json:"amount"`
}

type accountArgs struct {
	AccountID *model.AccountID `json:"account_id"`
}

// Invoke dispatches the token's methods.
func (t *Token) Invoke(env host.Env, method string, args json.RawMessage) (promise.Outcome, error) {
	switch method {
	case "storage_deposit":
		return t.storageDeposit(env, args)
	case "ft_balance_of":
		return t.ftBalanceOf(args)
	case "ft_total_supply":
		return promise.ReturnValue(t.TotalSupply())
	case "ft_transfer":
		return t.ftTransfer(env, args)
	case "ft_transfer_call":
		return t.ftTransferCall(env, args)
	case "ft_resolve_transfer":
		return t.ftResolveTransfer(env, args)
	default:
		return promise.Outcome{}, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}
}

func (t *Token) storageDeposit(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	var req accountArgs
	if err := decodeArgs(args, &req); err != nil {
		return promise.Outcome{}, err
	}
	account := env.Predecessor()
	if req.AccountID != nil {
		account = *req.AccountID
	}
	if err := account.Validate(); err != nil {
		return promise.Outcome{}, err
	}
	t.Register(account)
	return promise.ReturnValue(true)
}

func (t *Token) ftBalanceOf(args json.RawMessage) (promise.Outcome, error) {
	var req accountArgs
	if err := decodeArgs(args, &req); err != nil {
		return promise.Outcome{}, err
	}
	if req.AccountID == nil {
		return promise.Outcome{}, fmt.Errorf("ft_balance_of: account_id is required")
	}
	balance, _ := t.BalanceOf(*req.AccountID)
	return promise.ReturnValue(balance)
}

func (t *Token) ftTransfer(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if !env.AttachedDeposit().Equal(model.NewAmount(1)) {
		return promise.Outcome{}, ErrRequiresOneYocto
	}
	var req transferArgs
	if err := decodeArgs(args, &req); err != nil {
		return promise.Outcome{}, err
	}
	t.mu.Lock()
	err := t.transferLocked(env.Predecessor(), req.ReceiverID, req.Amount)
	t.mu.Unlock()
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("ft_transfer: %w", err)
	}
	logTransfer(env, "ft_transfer", env.Predecessor(), req.ReceiverID, req.Amount, req.Memo)
	return promise.Empty(), nil
}

func (t *Token) ftTransferCall(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if !env.AttachedDeposit().Equal(model.NewAmount(1)) {
		return promise.Outcome{}, ErrRequiresOneYocto
	}
	var req transferCallArgs
	if err := decodeArgs(args, &req); err != nil {
		return promise.Outcome{}, err
	}
	reserved := host.BaseGas + ResolveTransferGas
	if env.PrepaidGas() <= reserved {
		return promise.Outcome{}, fmt.Errorf("ft_transfer_call prepaid %s: %w", env.PrepaidGas(), ErrInsufficientGas)
	}
	forward := env.PrepaidGas() - reserved

	sender := env.Predecessor()
	t.mu.Lock()
	err := t.transferLocked(sender, req.ReceiverID, req.Amount)
	t.mu.Unlock()
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("ft_transfer_call: %w", err)
	}
	logTransfer(env, "ft_transfer_call", sender, req.ReceiverID, req.Amount, req.Memo)

	return promise.ReturnPromise(
		promise.Call(req.ReceiverID, "ft_on_transfer", OnTransferArgs{
			SenderID: sender,
			Amount:   req.Amount,
			Msg:      req.Msg,
		}).WithGas(forward).
			Then(promise.Call(t.id, "ft_resolve_transfer", resolveArgs{
				SenderID:   sender,
				ReceiverID: req.ReceiverID,
				Amount:     req.Amount,
			}).WithGas(ResolveTransferGas)),
	)
}

// ftResolveTransfer refunds what the receiver reported unused, bounded by
// what the receiver still holds, and returns the amount that stayed.
func (t *Token) ftResolveTransfer(env host.Env, args json.RawMessage) (promise.Outcome, error) {
	if env.Predecessor() != env.CurrentAccount() {
		return promise.Outcome{}, fmt.Errorf("ft_resolve_transfer: %w", ErrPrivate)
	}
	results := env.PromiseResults()
	if len(results) != 1 {
		return promise.Outcome{}, fmt.Errorf("ft_resolve_transfer: %w", ErrUnexpectedResults)
	}
	var req resolveArgs
	if err := decodeArgs(args, &req); err != nil {
		return promise.Outcome{}, err
	}

	unused := req.Amount
	if results[0].Succeeded() {
		var reported model.Amount
		if err := results[0].Decode(&reported); err == nil {
			unused = reported.Min(req.Amount)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	refund := model.Amount{}
	if !unused.IsZero() {
		receiverBalance := t.balances[req.ReceiverID]
		refund = unused.Min(receiverBalance)
	}
	if !refund.IsZero() {
		if _, ok := t.balances[req.SenderID]; ok {
			if err := t.transferLocked(req.ReceiverID, req.SenderID, refund); err != nil {
				return promise.Outcome{}, fmt.Errorf("ft_resolve_transfer refund: %w", err)
			}
		} else if err := t.burnLocked(req.ReceiverID, refund); err != nil {
			return promise.Outcome{}, fmt.Errorf("ft_resolve_transfer burn: %w", err)
		}
		env.Logger().Debug("refund unused transfer",
			zap.String("sender", req.SenderID.String()),
			zap.String("receiver", req.ReceiverID.String()),
			zap.String("amount", refund.String()),
		)
	}
	used, err := req.Amount.Sub(refund)
	if err != nil {
		return promise.Outcome{}, err
	}
	return promise.ReturnValue(used)
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func logTransfer(env host.Env, method string, from, to model.AccountID, amount model.Amount, memo *string) {
	fields := []zap.Field{
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("amount", amount.String()),
	}
	if memo != nil {
		fields = append(fields, zap.String("memo", *memo))
	}
	env.Logger().Debug(method, fields...)
}
