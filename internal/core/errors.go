package core

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized caller")
	ErrMalformedRequest  = errors.New("malformed swap request")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrVenueCallFailed   = errors.New("venue call failed")
	ErrInvariant         = errors.New("invariant violated")
	ErrPrivateMethod     = errors.New("method is private")
	ErrStageMismatch     = errors.New("stage mismatch")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrAssetBusy         = errors.New("output asset already has a saga in flight")
)
