package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"ammLedger/internal/amm"
	"ammLedger/internal/authority"
	"ammLedger/internal/model"
)

type pgTx struct {
	tx pgx.Tx
}

var (
	_ amm.Tx     = (*pgTx)(nil)
	_ amm.Faucet = (*pgTx)(nil)
)

type accountRow struct {
	address common.Address
	asset   common.Address
	owner   common.Address
	custody bool
	balance uint64
}

func (t *pgTx) loadAccount(ctx context.Context, addr common.Address, lock bool) (accountRow, error) {
	query := `SELECT asset, owner, custody, balance::text FROM amm_accounts WHERE address = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		asset, owner, balance string
		row                   = accountRow{address: addr}
	)
	err := t.tx.QueryRow(ctx, query, addr.Hex()).Scan(&asset, &owner, &row.custody, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accountRow{}, fmt.Errorf("%w: %s", amm.ErrAccountNotFound, addr.Hex())
		}
		return accountRow{}, err
	}
	row.asset = common.HexToAddress(asset)
	row.owner = common.HexToAddress(owner)
	row.balance, err = parseNum(balance)
	if err != nil {
		return accountRow{}, err
	}
	return row, nil
}

func (t *pgTx) setBalance(ctx context.Context, addr common.Address, balance uint64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE amm_accounts SET balance = $2::text::numeric, updated_at = now() WHERE address = $1
	`, addr.Hex(), num(balance))
	return err
}

func (t *pgTx) Balance(ctx context.Context, addr common.Address) (uint64, error) {
	row, err := t.loadAccount(ctx, addr, false)
	if err != nil {
		return 0, err
	}
	return row.balance, nil
}

func (t *pgTx) Transfer(ctx context.Context, from, to common.Address, amount uint64, signer authority.Signer) error {
	src, err := t.loadAccount(ctx, from, true)
	if err != nil {
		return err
	}
	dst, err := t.loadAccount(ctx, to, true)
	if err != nil {
		return err
	}
	if src.asset != dst.asset {
		return fmt.Errorf("%w: %s -> %s", amm.ErrAssetMismatch, src.asset.Hex(), dst.asset.Hex())
	}
	if err := amm.Authorize(signer, src.owner, src.custody); err != nil {
		return err
	}
	if src.balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", amm.ErrInsufficientFunds, from.Hex(), src.balance, amount)
	}
	if from == to {
		return nil
	}
	credited, err := add64(dst.balance, amount)
	if err != nil {
		return err
	}
	if err := t.setBalance(ctx, from, src.balance-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, to, credited)
}

func (t *pgTx) EnsureAccount(ctx context.Context, addr, asset, owner common.Address) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO amm_accounts (address, asset, owner, custody)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (address) DO NOTHING
	`, addr.Hex(), asset.Hex(), owner.Hex())
	if err != nil {
		return err
	}
	row, err := t.loadAccount(ctx, addr, false)
	if err != nil {
		return err
	}
	if row.asset != asset {
		return fmt.Errorf("%w: account %s holds %s", amm.ErrAssetMismatch, addr.Hex(), row.asset.Hex())
	}
	if row.owner != owner || row.custody {
		return fmt.Errorf("%w: %s", amm.ErrAccountExists, addr.Hex())
	}
	return nil
}

func (t *pgTx) OpenCustody(ctx context.Context, addr, asset, pool common.Address) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO amm_accounts (address, asset, owner, custody)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (address) DO NOTHING
	`, addr.Hex(), asset.Hex(), pool.Hex())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", amm.ErrAccountExists, addr.Hex())
	}
	return nil
}

func (t *pgTx) CreateMint(ctx context.Context, mint, mintAuthority common.Address) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO amm_mints (address, authority) VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`, mint.Hex(), mintAuthority.Hex())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: mint %s", amm.ErrAccountExists, mint.Hex())
	}
	return nil
}

func (t *pgTx) loadMint(ctx context.Context, mint common.Address) (common.Address, uint64, error) {
	var mintAuthority, supply string
	err := t.tx.QueryRow(ctx, `
		SELECT authority, supply::text FROM amm_mints WHERE address = $1 FOR UPDATE
	`, mint.Hex()).Scan(&mintAuthority, &supply)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, 0, fmt.Errorf("%w: mint %s", amm.ErrAccountNotFound, mint.Hex())
		}
		return common.Address{}, 0, err
	}
	total, err := parseNum(supply)
	if err != nil {
		return common.Address{}, 0, err
	}
	return common.HexToAddress(mintAuthority), total, nil
}

func (t *pgTx) setSupply(ctx context.Context, mint common.Address, supply uint64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE amm_mints SET supply = $2::text::numeric, updated_at = now() WHERE address = $1
	`, mint.Hex(), num(supply))
	return err
}

func (t *pgTx) Mint(ctx context.Context, mint, to common.Address, amount uint64, signer authority.Signer) error {
	mintAuthority, supply, err := t.loadMint(ctx, mint)
	if err != nil {
		return err
	}
	if err := amm.Authorize(signer, mintAuthority, true); err != nil {
		return err
	}
	dst, err := t.loadAccount(ctx, to, true)
	if err != nil {
		return err
	}
	if dst.asset != mint {
		return fmt.Errorf("%w: account %s holds %s", amm.ErrAssetMismatch, to.Hex(), dst.asset.Hex())
	}
	newSupply, err := add64(supply, amount)
	if err != nil {
		return err
	}
	balance, err := add64(dst.balance, amount)
	if err != nil {
		return err
	}
	if err := t.setSupply(ctx, mint, newSupply); err != nil {
		return err
	}
	return t.setBalance(ctx, to, balance)
}

func (t *pgTx) Burn(ctx context.Context, mint, from common.Address, amount uint64, signer authority.Signer) error {
	_, supply, err := t.loadMint(ctx, mint)
	if err != nil {
		return err
	}
	src, err := t.loadAccount(ctx, from, true)
	if err != nil {
		if errors.Is(err, amm.ErrAccountNotFound) {
			return fmt.Errorf("%w: no shares held", amm.ErrInsufficientFunds)
		}
		return err
	}
	if src.asset != mint {
		return fmt.Errorf("%w: account %s holds %s", amm.ErrAssetMismatch, from.Hex(), src.asset.Hex())
	}
	if err := amm.Authorize(signer, src.owner, src.custody); err != nil {
		return err
	}
	if src.balance < amount {
		return fmt.Errorf("%w: %s holds %d shares, needs %d", amm.ErrInsufficientFunds, from.Hex(), src.balance, amount)
	}
	if supply < amount {
		return fmt.Errorf("%w: mint supply below burn", amm.ErrArithmeticUnderflow)
	}
	if err := t.setSupply(ctx, mint, supply-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, from, src.balance-amount)
}

// LoadPool locks the pool row for the rest of the transaction.
func (t *pgTx) LoadPool(ctx context.Context, id common.Address) (model.PoolRecord, error) {
	var assetA, assetB, mint, reserveA, reserveB, poolAuthority, total string
	err := t.tx.QueryRow(ctx, `
		SELECT asset_a, asset_b, share_mint, reserve_a, reserve_b, authority, total_shares::text
		FROM amm_pools WHERE id = $1 FOR UPDATE
	`, id.Hex()).Scan(&assetA, &assetB, &mint, &reserveA, &reserveB, &poolAuthority, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PoolRecord{}, fmt.Errorf("%w: %s", amm.ErrPoolNotFound, id.Hex())
		}
		return model.PoolRecord{}, err
	}
	shares, err := parseNum(total)
	if err != nil {
		return model.PoolRecord{}, err
	}
	return model.PoolRecord{
		ID:          id,
		AssetA:      common.HexToAddress(assetA),
		AssetB:      common.HexToAddress(assetB),
		ShareMint:   common.HexToAddress(mint),
		ReserveA:    common.HexToAddress(reserveA),
		ReserveB:    common.HexToAddress(reserveB),
		Authority:   common.HexToAddress(poolAuthority),
		TotalShares: shares,
	}, nil
}

func (t *pgTx) CreatePool(ctx context.Context, rec model.PoolRecord) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO amm_pools (id, asset_a, asset_b, share_mint, reserve_a, reserve_b, authority, total_shares)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID.Hex(),
		rec.AssetA.Hex(),
		rec.AssetB.Hex(),
		rec.ShareMint.Hex(),
		rec.ReserveA.Hex(),
		rec.ReserveB.Hex(),
		rec.Authority.Hex(),
		num(rec.TotalShares),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", amm.ErrPoolExists, rec.ID.Hex())
	}
	return nil
}

func (t *pgTx) SetTotalShares(ctx context.Context, id common.Address, total uint64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE amm_pools SET total_shares = $2::text::numeric, updated_at = now() WHERE id = $1
	`, id.Hex(), num(total))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", amm.ErrPoolNotFound, id.Hex())
	}
	return nil
}

func (t *pgTx) Credit(ctx context.Context, addr common.Address, amount uint64) error {
	row, err := t.loadAccount(ctx, addr, true)
	if err != nil {
		return err
	}
	if row.custody {
		return fmt.Errorf("%w: cannot credit custody account %s", amm.ErrUnauthorized, addr.Hex())
	}
	balance, err := add64(row.balance, amount)
	if err != nil {
		return err
	}
	return t.setBalance(ctx, addr, balance)
}

func add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, amm.ErrArithmeticOverflow
	}
	return sum, nil
}
