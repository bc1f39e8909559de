package model

import "github.com/ethereum/go-ethereum/common"

// PoolInfo is a pool record joined with its live reserve balances.
type PoolInfo struct {
	PoolRecord
	ReserveABalance uint64 `json:"reserve_a_balance"`
	ReserveBBalance uint64 `json:"reserve_b_balance"`
	// PriceRatio is reserve_b / reserve_a as a decimal string, empty when
	// reserve_a is zero.
	PriceRatio string `json:"price_ratio,omitempty"`
}

// Balance is the holding of one owner in one asset.
type Balance struct {
	Owner   common.Address `json:"owner"`
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  uint64         `json:"amount"`
}
