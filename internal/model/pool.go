package model

import "github.com/ethereum/go-ethereum/common"

// PoolRecord is the persisted state of one constant-product pool.
type PoolRecord struct {
	ID          common.Address `json:"id"`
	AssetA      common.Address `json:"asset_a"`
	AssetB      common.Address `json:"asset_b"`
	ShareMint   common.Address `json:"share_mint"`
	ReserveA    common.Address `json:"reserve_a"`
	ReserveB    common.Address `json:"reserve_b"`
	Authority   common.Address `json:"authority"`
	TotalShares uint64         `json:"total_shares"`
}
