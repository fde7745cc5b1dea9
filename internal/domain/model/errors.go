package model

import "errors"

// Input errors. A trade failing validation is discarded, never scored.
var (
	ErrMissingUsername   = errors.New("missing username")
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrUnknownSignalType = errors.New("unknown signal type")
	ErrMissingPair       = errors.New("missing pair")
	ErrMissingTimestamp  = errors.New("missing timestamp")
	ErrExitBeforeEntry   = errors.New("exit timestamp before entry timestamp")
	ErrNonFinitePrice    = errors.New("non-finite price")
	ErrNonPositivePrice  = errors.New("non-positive price")
	ErrNonFiniteReturn   = errors.New("non-finite return")
	ErrDuplicateTradeID  = errors.New("duplicate trade id")
	ErrTraderMismatch    = errors.New("trade belongs to another trader")
)
