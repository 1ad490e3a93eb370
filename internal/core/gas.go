package core

import "swapCore/internal/promise"

// Static budget of every call the core schedules. Each callback's budget
// covers its own execution plus the most expensive branch it can schedule.
const (
	GasFtTransfer            = 10 * promise.TGas
	GasFtBalanceOf           = 5 * promise.TGas
	GasNearWithdraw          = 10 * promise.TGas
	GasNearDeposit           = 10 * promise.TGas
	GasFtTransferCallVenue   = 120 * promise.TGas
	GasFtTransferCallForward = 60 * promise.TGas

	gasOwn = 10 * promise.TGas

	GasReturnValue      = gasOwn
	GasCheckTransfer    = gasOwn + max(GasFtTransfer, GasNearDeposit+GasFtTransfer) + GasReturnValue
	GasCheckForward     = gasOwn + GasFtTransfer + GasReturnValue
	GasDeliverNative    = gasOwn + GasCheckTransfer
	GasTransferToTarget = gasOwn + max(GasNearWithdraw+GasDeliverNative, GasFtTransfer+GasCheckTransfer, GasFtTransferCallForward+GasCheckForward)
	GasGetAmountOut     = gasOwn + max(GasFtTransfer, GasReturnValue, GasFtBalanceOf+GasTransferToTarget)

	// GasSwap is the least a caller must attach to start a saga.
	GasSwap = gasOwn + GasFtTransferCallVenue + GasGetAmountOut
)
