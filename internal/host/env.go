package host

import (
	"context"

	"go.uber.org/zap"

	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// Env is what a contract sees of the runtime during one invocation.
type Env interface {
	Context() context.Context
	ReceiptID() string
	CurrentAccount() model.AccountID
	Predecessor() model.AccountID
	Signer() model.AccountID
	AttachedDeposit() model.Amount
	PrepaidGas() promise.Gas
	// PromiseResults are the results of the step this invocation follows.
	PromiseResults() []promise.Result
	// Schedule queues a chain whose result nobody waits for.
	Schedule(p *promise.Promise)
	// Emit records a saga event, committed only if the invocation succeeds.
	Emit(event model.SagaEvent)
	Logger() *zap.Logger
}

type invocation struct {
	ctx      context.Context
	receipt  Receipt
	logger   *zap.Logger
	detached []*promise.Promise
	events   []model.SagaEvent
}

func newInvocation(ctx context.Context, receipt Receipt, logger *zap.Logger) *invocation {
	return &invocation{
		ctx:     ctx,
		receipt: receipt,
		logger: logger.With(
			zap.String("receipt", receipt.ID),
			zap.String("contract", receipt.Step.Receiver.String()),
			zap.String("method", receipt.Step.Method),
		),
	}
}

func (e *invocation) Context() context.Context        { return e.ctx }
func (e *invocation) ReceiptID() string               { return e.receipt.ID }
func (e *invocation) CurrentAccount() model.AccountID { return e.receipt.Step.Receiver }
func (e *invocation) Predecessor() model.AccountID    { return e.receipt.Predecessor }
func (e *invocation) Signer() model.AccountID         { return e.receipt.Signer }
func (e *invocation) AttachedDeposit() model.Amount   { return e.receipt.Step.Deposit }
func (e *invocation) PrepaidGas() promise.Gas         { return e.receipt.Step.Gas }
func (e *invocation) Logger() *zap.Logger             { return e.logger }

func (e *invocation) PromiseResults() []promise.Result {
	out := make([]promise.Result, len(e.receipt.Inputs))
	copy(out, e.receipt.Inputs)
	return out
}

func (e *invocation) Schedule(p *promise.Promise) {
	e.detached = append(e.detached, p)
}

func (e *invocation) Emit(event model.SagaEvent) {
	e.events = append(e.events, event)
}

func (e *invocation) scheduledGas() promise.Gas {
	var total promise.Gas
	for _, p := range e.detached {
		if p != nil {
			total += p.TotalGas()
		}
	}
	return total
}
