package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNoLiquidity       = errors.New("no liquidity")
	ErrNotReady          = errors.New("order book not ready")
	ErrNegativeAmount    = errors.New("negative amount")
	ErrBalanceUnderflow  = errors.New("balance underflow")
	ErrInsufficientFunds = errors.New("insufficient funds to reserve")
	ErrUnconstructible   = errors.New("order not constructible under venue filters")
	ErrInvalidChain      = errors.New("chain books do not share assets in sequence")
	ErrUnknownSimulation = errors.New("unknown simulation id")
	ErrUnknownPair       = errors.New("unknown trading pair")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrContextDone       = errors.New("context cancelled")
)
