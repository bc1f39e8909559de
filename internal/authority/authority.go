// Package authority derives deterministic pool and account identities.
package authority

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	seedPool     = []byte("pool")
	seedShares   = []byte("lp_mint")
	seedReserveA = []byte("pool_token_a")
	seedReserveB = []byte("pool_token_b")
	seedAccount  = []byte("account")
)

// ErrUnauthorized is returned when a signer may not act for an account owner.
var ErrUnauthorized = errors.New("unauthorized signer")

// Signer authorizes debits on accounts owned by Address.
type Signer interface {
	Address() common.Address
}

// Actor is an externally authenticated holder. The caller is trusted to have
// verified the actor before handing it to the core.
type Actor common.Address

func (a Actor) Address() common.Address { return common.Address(a) }

// PoolKeys are the fixed identities of one asset pair.
type PoolKeys struct {
	Pool      common.Address
	ShareMint common.Address
	ReserveA  common.Address
	ReserveB  common.Address
}

// DerivePool computes the identities for the ordered pair (assetA, assetB).
func DerivePool(assetA, assetB common.Address) PoolKeys {
	pool := derive(seedPool, assetA.Bytes(), assetB.Bytes())
	return PoolKeys{
		Pool:      pool,
		ShareMint: derive(seedShares, assetA.Bytes(), assetB.Bytes()),
		ReserveA:  derive(seedReserveA, pool.Bytes()),
		ReserveB:  derive(seedReserveB, pool.Bytes()),
	}
}

// AssociatedAccount is the canonical account of owner for asset.
func AssociatedAccount(owner, asset common.Address) common.Address {
	return derive(seedAccount, owner.Bytes(), asset.Bytes())
}

func derive(parts ...[]byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(parts...))
}
