package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"ammLedger/internal/model"
)

// Account is one balance of one asset. Custody accounts belong to a pool and
// can only be debited with that pool's capability.
type Account struct {
	Address common.Address `json:"address"`
	Asset   common.Address `json:"asset"`
	Owner   common.Address `json:"owner"`
	Custody bool           `json:"custody,omitempty"`
	Balance uint64         `json:"balance"`
}

// Mint is a share asset and its outstanding supply.
type Mint struct {
	Address   common.Address `json:"address"`
	Authority common.Address `json:"authority"`
	Supply    uint64         `json:"supply"`
}

// State is the full contents of an in-memory ledger.
type State struct {
	Accounts map[common.Address]Account
	Mints    map[common.Address]Mint
	Pools    map[common.Address]model.PoolRecord
}

func newState() State {
	return State{
		Accounts: make(map[common.Address]Account),
		Mints:    make(map[common.Address]Mint),
		Pools:    make(map[common.Address]model.PoolRecord),
	}
}

func (s State) clone() State {
	out := State{
		Accounts: make(map[common.Address]Account, len(s.Accounts)),
		Mints:    make(map[common.Address]Mint, len(s.Mints)),
		Pools:    make(map[common.Address]model.PoolRecord, len(s.Pools)),
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range s.Mints {
		out.Mints[k] = v
	}
	for k, v := range s.Pools {
		out.Pools[k] = v
	}
	return out
}
