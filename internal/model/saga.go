package model

// SagaContext is the state threaded through one swap's continuation chain.
// It only ever lives inside stage payloads.
type SagaContext struct {
	SagaID               string     `json:"saga_id"`
	AssetIn              AccountID  `json:"asset_in"`
	RequestedAmount      Amount     `json:"requested_amount"`
	AssetOut             AccountID  `json:"asset_out"`
	Destination          AccountID  `json:"destination"`
	DestinationAssetHint *AccountID `json:"destination_asset_hint,omitempty"`
	DirectCall           bool       `json:"direct_call"`
}

// SwapIn reports whether the destination asked for direct delivery.
func (s SagaContext) SwapIn() bool {
	return s.DestinationAssetHint != nil
}

// Settlement is the value a completed saga surfaces to its caller: the
// swapped amount for direct calls, nothing left to refund for notifications.
func (s SagaContext) Settlement() Amount {
	if s.DirectCall {
		return s.RequestedAmount
	}
	return Amount{}
}

// Stage tags a continuation payload with the step of the saga it belongs to.
type Stage string

const (
	StageNone             Stage = ""
	StageInitiate         Stage = "initiate"
	StageGetAmountOut     Stage = "get_amount_out"
	StageTransferToTarget Stage = "transfer_to_target"
	StageDeliverNative    Stage = "deliver_native"
	StageCheckTransfer    Stage = "check_transfer"
	StageCheckForward     Stage = "check_forward"
	StageReturnValue      Stage = "return_value"
)

// StagedPayload is implemented by every continuation payload.
type StagedPayload interface {
	StageTag() Stage
}

// GetAmountOutPayload carries the saga into stage 2.
type GetAmountOutPayload struct {
	Stage Stage       `json:"stage"`
	Saga  SagaContext `json:"saga"`
}

func NewGetAmountOutPayload(saga SagaContext) GetAmountOutPayload {
	return GetAmountOutPayload{Stage: StageGetAmountOut, Saga: saga}
}

func (p GetAmountOutPayload) StageTag() Stage { return p.Stage }

// TransferToTargetPayload carries the saga into stage 3.
type TransferToTargetPayload struct {
	Stage Stage       `json:"stage"`
	Saga  SagaContext `json:"saga"`
}

func NewTransferToTargetPayload(saga SagaContext) TransferToTargetPayload {
	return TransferToTargetPayload{Stage: StageTransferToTarget, Saga: saga}
}

func (p TransferToTargetPayload) StageTag() Stage { return p.Stage }

// DeliverNativePayload follows the unwrap of the wrapped native asset.
type DeliverNativePayload struct {
	Stage     Stage       `json:"stage"`
	Saga      SagaContext `json:"saga"`
	AmountOut Amount      `json:"amount_out"`
}

func NewDeliverNativePayload(saga SagaContext, amountOut Amount) DeliverNativePayload {
	return DeliverNativePayload{Stage: StageDeliverNative, Saga: saga, AmountOut: amountOut}
}

func (p DeliverNativePayload) StageTag() Stage { return p.Stage }

// CheckTransferPayload carries the delivery details into stage 4.
type CheckTransferPayload struct {
	Stage     Stage       `json:"stage"`
	Saga      SagaContext `json:"saga"`
	AmountOut Amount      `json:"amount_out"`
	Native    bool        `json:"is_native"`
}

func NewCheckTransferPayload(saga SagaContext, amountOut Amount, native bool) CheckTransferPayload {
	return CheckTransferPayload{Stage: StageCheckTransfer, Saga: saga, AmountOut: amountOut, Native: native}
}

func (p CheckTransferPayload) StageTag() Stage { return p.Stage }

// CheckForwardPayload follows a swap-out forward to the bridging side.
type CheckForwardPayload struct {
	Stage     Stage       `json:"stage"`
	Saga      SagaContext `json:"saga"`
	AmountOut Amount      `json:"amount_out"`
}

func NewCheckForwardPayload(saga SagaContext, amountOut Amount) CheckForwardPayload {
	return CheckForwardPayload{Stage: StageCheckForward, Saga: saga, AmountOut: amountOut}
}

func (p CheckForwardPayload) StageTag() Stage { return p.Stage }

// ReturnValuePayload ends a chain by surfacing Amount. Follows names the
// stage whose result it consumes, StageNone when it is scheduled standalone.
type ReturnValuePayload struct {
	Stage   Stage  `json:"stage"`
	SagaID  string `json:"saga_id"`
	Amount  Amount `json:"amount"`
	Follows Stage  `json:"follows"`
	Reason  string `json:"reason"`
}

func NewReturnValuePayload(sagaID string, amount Amount, follows Stage, reason string) ReturnValuePayload {
	return ReturnValuePayload{Stage: StageReturnValue, SagaID: sagaID, Amount: amount, Follows: follows, Reason: reason}
}

func (p ReturnValuePayload) StageTag() Stage { return p.Stage }
