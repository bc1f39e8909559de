package amm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"ammLedger/internal/authority"
	"ammLedger/internal/model"
)

// Store opens all-or-nothing accounting units. fn runs with exclusive access
// to every pool it loads; if fn returns an error nothing it did is kept. A
// store may run fn more than once, so fn must not leak partial results.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the external ledger available inside one unit.
type Tx interface {
	BalanceLedger
	ShareController
	Registry
}

// BalanceLedger holds per-account balances of external assets and shares.
type BalanceLedger interface {
	// Balance returns ErrAccountNotFound for an unknown account.
	Balance(ctx context.Context, account common.Address) (uint64, error)
	Transfer(ctx context.Context, from, to common.Address, amount uint64, signer authority.Signer) error
	// EnsureAccount opens a holder account if it does not exist yet.
	EnsureAccount(ctx context.Context, account, asset, owner common.Address) error
	// OpenCustody opens an account owned by a pool. It fails with
	// ErrAccountExists if the address is taken.
	OpenCustody(ctx context.Context, account, asset, pool common.Address) error
}

// ShareController issues and redeems a pool's share asset.
type ShareController interface {
	CreateMint(ctx context.Context, mint, mintAuthority common.Address) error
	Mint(ctx context.Context, mint, to common.Address, amount uint64, signer authority.Signer) error
	Burn(ctx context.Context, mint, from common.Address, amount uint64, signer authority.Signer) error
}

// Registry persists pool records.
type Registry interface {
	LoadPool(ctx context.Context, id common.Address) (model.PoolRecord, error)
	CreatePool(ctx context.Context, rec model.PoolRecord) error
	SetTotalShares(ctx context.Context, id common.Address, total uint64) error
}

// Faucet credits external assets out of thin air. Only development stores
// implement it.
type Faucet interface {
	Credit(ctx context.Context, account common.Address, amount uint64) error
}
