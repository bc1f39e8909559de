package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"ammLedger/internal/authority"
)

// capability is a pool's own signing credential. Only this package creates
// one, from a pool identity it re-derived, and it is never returned to callers.
type capability struct {
	pool common.Address
}

func newCapability(keys authority.PoolKeys) *capability {
	return &capability{pool: keys.Pool}
}

func (c *capability) Address() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.pool
}

// Authorize checks that signer may debit an account held by owner. Custody
// accounts accept only the matching pool capability; an actor carrying the
// pool address is rejected.
func Authorize(signer authority.Signer, owner common.Address, custody bool) error {
	if signer == nil {
		return fmt.Errorf("%w: no signer", ErrUnauthorized)
	}
	if custody {
		c, ok := signer.(*capability)
		if !ok || c == nil || c.pool != owner {
			return fmt.Errorf("%w: custody account %s requires pool capability", ErrUnauthorized, owner.Hex())
		}
		return nil
	}
	if signer.Address() != owner {
		return fmt.Errorf("%w: %s cannot sign for %s", ErrUnauthorized, signer.Address().Hex(), owner.Hex())
	}
	return nil
}
