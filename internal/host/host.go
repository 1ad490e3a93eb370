package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swapCore/internal/metrics"
	"swapCore/internal/model"
	"swapCore/internal/promise"
	"swapCore/internal/queue"
	"swapCore/internal/storage"
)

// BaseGas is charged to every call invocation on top of what it schedules.
const BaseGas = 5 * promise.TGas

// DefaultOutcomeRetention is how long a settled transaction stays readable
// through Wait when Options.OutcomeRetention is zero.
const DefaultOutcomeRetention = 10 * time.Minute

var (
	ErrGasExceeded         = errors.New("gas exceeded")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrNoContract          = errors.New("account has no contract")
	ErrInsufficientBalance = errors.New("insufficient native balance")
	ErrUnknownTransaction  = errors.New("unknown transaction")
)

// Contract is code deployed on an account. An invocation that returns an
// error is reverted: its scheduled promises and events are dropped and, for
// Stateful contracts, state is restored.
type Contract interface {
	Invoke(env Env, method string, args json.RawMessage) (promise.Outcome, error)
}

// Stateful contracts can be rolled back to the state before a failed invocation.
type Stateful interface {
	Snapshot() any
	Restore(snapshot any)
}

type account struct {
	balance  model.Amount
	contract Contract
}

type txState struct {
	pending   int
	rooted    bool
	outcome   TxOutcome
	done      chan struct{}
	settledAt time.Time
}

// Options configures a Host.
type Options struct {
	Queue   queue.Queue
	Journal storage.Journal
	Logger  *zap.Logger
	Metrics *metrics.Runtime
	Workers int
	Now     func() time.Time
	// OutcomeRetention bounds how long settled outcomes are kept for Wait.
	OutcomeRetention time.Duration
}

// Host executes receipts taken from a queue against deployed contracts and
// moves native balances between accounts.
type Host struct {
	queue   queue.Queue
	journal storage.Journal
	logger  *zap.Logger
	metrics *metrics.Runtime
	workers int
	now     func() time.Time
	retain  time.Duration

	execMu sync.Mutex

	mu       sync.Mutex
	accounts map[model.AccountID]*account
	txs      map[string]*txState
	swept    time.Time
}

func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	q := opts.Queue
	if q == nil {
		q = queue.NewMemoryQueue()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	retain := opts.OutcomeRetention
	if retain <= 0 {
		retain = DefaultOutcomeRetention
	}
	return &Host{
		queue:    q,
		journal:  opts.Journal,
		logger:   logger,
		metrics:  opts.Metrics,
		workers:  workers,
		now:      now,
		retain:   retain,
		accounts: make(map[model.AccountID]*account),
		txs:      make(map[string]*txState),
	}
}

// CreateAccount opens an account holding balance of native currency.
func (h *Host) CreateAccount(id model.AccountID, balance model.Amount) error {
	if err := id.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.accounts[id]; ok {
		return fmt.Errorf("account %s already exists", id)
	}
	h.accounts[id] = &account{balance: balance}
	return nil
}

// Deploy installs a contract, creating the account when missing.
func (h *Host) Deploy(id model.AccountID, contract Contract) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if contract == nil {
		return fmt.Errorf("deploy %s: nil contract", id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	acct, ok := h.accounts[id]
	if !ok {
		acct = &account{}
		h.accounts[id] = acct
	}
	acct.contract = contract
	return nil
}

// NativeBalance returns the native balance of id.
func (h *Host) NativeBalance(id model.AccountID) (model.Amount, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	acct, ok := h.accounts[id]
	if !ok {
		return model.Amount{}, fmt.Errorf("%s: %w", id, ErrUnknownAccount)
	}
	return acct.balance, nil
}

// Run consumes receipts until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Info("host started", zap.Int("workers", h.workers))
	err := h.queue.Consume(ctx, h.workers, h.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Submit queues a transaction and returns its id.
func (h *Host) Submit(ctx context.Context, tx Transaction) (string, error) {
	if err := tx.Receiver.Validate(); err != nil {
		return "", fmt.Errorf("receiver: %w", err)
	}
	if tx.Method == "" {
		return "", fmt.Errorf("method is required")
	}
	h.mu.Lock()
	_, ok := h.accounts[tx.Signer]
	h.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("signer %s: %w", tx.Signer, ErrUnknownAccount)
	}
	args := tx.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	txID := uuid.NewString()
	h.mu.Lock()
	h.evictSettledLocked()
	h.txs[txID] = &txState{
		outcome: TxOutcome{TxID: txID, Status: promise.NotReady},
		done:    make(chan struct{}),
	}
	h.mu.Unlock()

	root := Receipt{
		TxID:        txID,
		Signer:      tx.Signer,
		Predecessor: tx.Signer,
		Step: promise.Step{
			Kind:     promise.StepCall,
			Receiver: tx.Receiver,
			Method:   tx.Method,
			Args:     args,
			Gas:      tx.Gas,
			Deposit:  tx.Deposit,
		},
	}
	if err := h.publish(ctx, root); err != nil {
		h.mu.Lock()
		delete(h.txs, txID)
		h.mu.Unlock()
		return "", err
	}
	return txID, nil
}

// Wait blocks until every receipt of the transaction has executed.
func (h *Host) Wait(ctx context.Context, txID string) (TxOutcome, error) {
	h.mu.Lock()
	state, ok := h.txs[txID]
	h.mu.Unlock()
	if !ok {
		return TxOutcome{}, fmt.Errorf("%s: %w", txID, ErrUnknownTransaction)
	}
	select {
	case <-ctx.Done():
		return TxOutcome{}, ctx.Err()
	case <-state.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return state.outcome, nil
}

// Call submits a transaction and waits for it to settle.
func (h *Host) Call(ctx context.Context, tx Transaction) (TxOutcome, error) {
	txID, err := h.Submit(ctx, tx)
	if err != nil {
		return TxOutcome{}, err
	}
	return h.Wait(ctx, txID)
}

// View runs a read-only method. Any state change or scheduled promise is discarded.
func (h *Host) View(ctx context.Context, receiver model.AccountID, method string, args json.RawMessage) (json.RawMessage, error) {
	h.execMu.Lock()
	defer h.execMu.Unlock()

	h.mu.Lock()
	acct, ok := h.accounts[receiver]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", receiver, ErrUnknownAccount)
	}
	if acct.contract == nil {
		return nil, fmt.Errorf("%s: %w", receiver, ErrNoContract)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if stateful, ok := acct.contract.(Stateful); ok {
		snapshot := stateful.Snapshot()
		defer stateful.Restore(snapshot)
	}
	env := newInvocation(ctx, Receipt{
		ID:          "view",
		Predecessor: receiver,
		Signer:      receiver,
		Step:        promise.Step{Kind: promise.StepCall, Receiver: receiver, Method: method, Args: args},
	}, h.logger)
	out, err := invokeSafely(acct.contract, env, method, args)
	if err != nil {
		return nil, err
	}
	if out.Promise != nil || len(env.detached) > 0 {
		return nil, fmt.Errorf("view %s.%s scheduled promises", receiver, method)
	}
	return out.Value, nil
}

func (h *Host) publish(ctx context.Context, r Receipt) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	h.mu.Lock()
	if state, ok := h.txs[r.TxID]; ok {
		state.pending++
	}
	h.mu.Unlock()
	h.metrics.ReceiptQueued()
	if err := h.queue.Publish(ctx, payload); err != nil {
		h.metrics.ReceiptDone()
		h.settle(r.TxID, fmt.Sprintf("publish receipt %s: %v", r.ID, err))
		return fmt.Errorf("publish receipt: %w", err)
	}
	return nil
}

func (h *Host) handle(ctx context.Context, payload []byte) error {
	var r Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		h.logger.Error("drop undecodable receipt", zap.Error(err))
		return nil
	}
	h.metrics.ReceiptDone()
	h.process(ctx, r)
	return nil
}

// process executes one receipt and publishes whatever follows it.
func (h *Host) process(ctx context.Context, r Receipt) {
	start := h.now()
	h.execMu.Lock()
	exec, execErr := h.execute(ctx, r)
	h.execMu.Unlock()

	status := promise.Successful
	failure := ""
	if execErr != nil {
		status = promise.Failed
		failure = fmt.Sprintf("%s.%s: %v", r.Step.Receiver, stepName(r.Step), execErr)
		h.logger.Warn("receipt failed",
			zap.String("tx", r.TxID),
			zap.String("receipt", r.ID),
			zap.String("receiver", r.Step.Receiver.String()),
			zap.String("method", stepName(r.Step)),
			zap.Error(execErr),
		)
	}
	h.metrics.ObserveReceipt(string(r.Step.Kind), r.Step.Method, string(status), h.now().Sub(start))
	h.commitEvents(ctx, r, exec.events)

	for _, p := range exec.detached {
		steps := p.Steps()
		h.spawn(ctx, Receipt{
			TxID:        r.TxID,
			Signer:      r.Signer,
			Predecessor: r.Step.Receiver,
			Step:        steps[0],
			Next:        steps[1:],
			Detached:    true,
		})
	}

	switch {
	case execErr == nil && exec.returned != nil:
		steps := exec.returned.Steps()
		h.spawn(ctx, Receipt{
			TxID:        r.TxID,
			Signer:      r.Signer,
			Predecessor: r.Step.Receiver,
			Step:        steps[0],
			Next:        steps[1:],
			Return:      &Frame{Next: r.Next, Predecessor: r.Predecessor, Return: r.Return},
			Detached:    r.Detached,
		})
	default:
		h.advance(ctx, r, exec.result)
	}

	h.finish(r.TxID, failure)
}

// advance hands result to the next step of the chain, unwinding frames of
// finished chains, or settles the root result when nothing is left.
func (h *Host) advance(ctx context.Context, r Receipt, result promise.Result) {
	next, predecessor, ret := r.Next, r.Predecessor, r.Return
	for len(next) == 0 {
		if ret == nil {
			if !r.Detached {
				h.rootResult(r.TxID, result)
			}
			return
		}
		next, predecessor, ret = ret.Next, ret.Predecessor, ret.Return
	}
	h.spawn(ctx, Receipt{
		TxID:        r.TxID,
		Signer:      r.Signer,
		Predecessor: predecessor,
		Step:        next[0],
		Inputs:      []promise.Result{result},
		Next:        next[1:],
		Return:      ret,
		Detached:    r.Detached,
	})
}

func (h *Host) spawn(ctx context.Context, r Receipt) {
	if err := h.publish(ctx, r); err != nil {
		h.logger.Error("publish receipt", zap.String("tx", r.TxID), zap.Error(err))
	}
}

type execution struct {
	result   promise.Result
	returned *promise.Promise
	detached []*promise.Promise
	events   []model.SagaEvent
}

func (h *Host) execute(ctx context.Context, r Receipt) (execution, error) {
	failed := execution{result: promise.Failure()}

	h.mu.Lock()
	receiver, ok := h.accounts[r.Step.Receiver]
	h.mu.Unlock()
	if !ok {
		return failed, fmt.Errorf("%s: %w", r.Step.Receiver, ErrUnknownAccount)
	}
	if r.Step.Kind == promise.StepCall && receiver.contract == nil {
		return failed, fmt.Errorf("%s: %w", r.Step.Receiver, ErrNoContract)
	}
	if r.Step.Kind == promise.StepCall && r.Step.Gas < BaseGas {
		return failed, fmt.Errorf("prepaid %s below base %s: %w", r.Step.Gas, BaseGas, ErrGasExceeded)
	}
	if err := h.moveNative(r.Predecessor, r.Step.Receiver, r.Step.Deposit); err != nil {
		return failed, err
	}

	switch r.Step.Kind {
	case promise.StepTransfer:
		return execution{result: promise.Success(nil)}, nil
	case promise.StepCall:
	default:
		h.refund(r)
		return failed, fmt.Errorf("unknown step kind %q", r.Step.Kind)
	}

	var snapshot any
	stateful, hasState := receiver.contract.(Stateful)
	if hasState {
		snapshot = stateful.Snapshot()
	}
	revert := func() {
		if hasState {
			stateful.Restore(snapshot)
		}
		h.refund(r)
	}

	env := newInvocation(ctx, r, h.logger)
	out, err := invokeSafely(receiver.contract, env, r.Step.Method, r.Step.Args)
	if err != nil {
		revert()
		return failed, err
	}
	if out.Promise != nil {
		if err := out.Promise.Err(); err != nil {
			revert()
			return failed, fmt.Errorf("returned promise: %w", err)
		}
	}
	for _, p := range env.detached {
		if err := p.Err(); err != nil {
			revert()
			return failed, fmt.Errorf("scheduled promise: %w", err)
		}
	}

	used := BaseGas + env.scheduledGas()
	if out.Promise != nil {
		used += out.Promise.TotalGas()
	}
	if used > r.Step.Gas {
		revert()
		return failed, fmt.Errorf("used %s of prepaid %s: %w", used, r.Step.Gas, ErrGasExceeded)
	}

	exec := execution{
		returned: out.Promise,
		detached: env.detached,
		events:   env.events,
	}
	if out.Promise == nil {
		exec.result = promise.Success(out.Value)
	}
	return exec, nil
}

func invokeSafely(contract Contract, env *invocation, method string, args json.RawMessage) (out promise.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("contract panicked: %v", rec)
		}
	}()
	return contract.Invoke(env, method, args)
}

// moveNative debits from and credits to. Nothing moves when either side is
// missing or from cannot cover the amount.
func (h *Host) moveNative(from, to model.AccountID, amount model.Amount) error {
	if amount.IsZero() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.accounts[from]
	if !ok {
		return fmt.Errorf("%s: %w", from, ErrUnknownAccount)
	}
	dst, ok := h.accounts[to]
	if !ok {
		return fmt.Errorf("%s: %w", to, ErrUnknownAccount)
	}
	debited, err := src.balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("%s: %w", from, ErrInsufficientBalance)
	}
	credited, err := dst.balance.Add(amount)
	if err != nil {
		return err
	}
	src.balance = debited
	dst.balance = credited
	return nil
}

func (h *Host) refund(r Receipt) {
	if err := h.moveNative(r.Step.Receiver, r.Predecessor, r.Step.Deposit); err != nil {
		h.logger.Error("refund deposit", zap.String("receipt", r.ID), zap.Error(err))
	}
}

func (h *Host) commitEvents(ctx context.Context, r Receipt, events []model.SagaEvent) {
	if len(events) == 0 {
		return
	}
	stamp := h.now().UTC().Format(time.RFC3339Nano)
	for i := range events {
		events[i].ReceiptID = r.ID
		events[i].EmittedBy = r.Step.Receiver
		events[i].EmittedAt = stamp
		h.metrics.RecordSagaEvent(string(events[i].Kind))
		fields := []zap.Field{
			zap.String("saga", events[i].SagaID),
			zap.String("kind", string(events[i].Kind)),
			zap.String("stage", string(events[i].Stage)),
		}
		if events[i].Amount != nil {
			fields = append(fields, zap.String("amount", events[i].Amount.String()))
		}
		if events[i].Memo != "" {
			fields = append(fields, zap.String("memo", events[i].Memo))
		}
		h.logger.Info("saga event", fields...)
	}
	if h.journal != nil {
		if err := h.journal.PutEvents(ctx, events); err != nil {
			h.logger.Error("journal saga events", zap.Error(err))
		}
	}
	h.mu.Lock()
	if state, ok := h.txs[r.TxID]; ok {
		state.outcome.Events = append(state.outcome.Events, events...)
	}
	h.mu.Unlock()
}

func (h *Host) rootResult(txID string, result promise.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.txs[txID]
	if !ok || state.rooted {
		return
	}
	state.rooted = true
	state.outcome.Status = result.Status
	state.outcome.Value = result.Value
}

// finish accounts for one executed receipt of txID.
func (h *Host) finish(txID, failure string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.txs[txID]
	if !ok {
		return
	}
	state.outcome.Receipts++
	if failure != "" {
		state.outcome.Failures = append(state.outcome.Failures, failure)
	}
	state.pending--
	h.closeIfSettled(state)
}

// settle accounts for a receipt that was never delivered.
func (h *Host) settle(txID, failure string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.txs[txID]
	if !ok {
		return
	}
	state.outcome.Failures = append(state.outcome.Failures, failure)
	state.pending--
	h.closeIfSettled(state)
}

func (h *Host) closeIfSettled(state *txState) {
	if state.pending > 0 {
		return
	}
	select {
	case <-state.done:
		return
	default:
	}
	if !state.rooted {
		state.outcome.Status = promise.Failed
	}
	h.metrics.RecordTransaction(string(state.outcome.Status))
	state.settledAt = h.now()
	close(state.done)
}

// evictSettledLocked forgets transactions settled longer than the retention
// window ago. It scans at most once per quarter window. Callers hold h.mu.
func (h *Host) evictSettledLocked() {
	now := h.now()
	if now.Sub(h.swept) < h.retain/4 {
		return
	}
	h.swept = now
	for id, state := range h.txs {
		if !state.settledAt.IsZero() && now.Sub(state.settledAt) >= h.retain {
			delete(h.txs, id)
		}
	}
}

// Tracked reports how many transactions the host still holds outcomes for.
func (h *Host) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.txs)
}

func stepName(step promise.Step) string {
	if step.Kind == promise.StepTransfer {
		return "transfer"
	}
	return step.Method
}
