package amm

import (
	"errors"

	"ammLedger/internal/authority"
	"ammLedger/internal/u128"
)

var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrDuplicateAssets       = errors.New("duplicate assets")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")

	ErrArithmeticOverflow  = u128.ErrOverflow
	ErrArithmeticUnderflow = u128.ErrUnderflow
	ErrDivisionByZero      = u128.ErrDivisionByZero

	ErrPoolExists        = errors.New("pool already exists")
	ErrPoolNotFound      = errors.New("pool not found")
	ErrCorruptPool       = errors.New("corrupt pool record")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrUnauthorized      = authority.ErrUnauthorized
	ErrUnsupported       = errors.New("operation not supported by store")
)
