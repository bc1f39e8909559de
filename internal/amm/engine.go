// Package amm is the accounting core of a two-asset constant-product pool:
// share issuance and redemption, fee-adjusted swap pricing, and the commit
// sequences that move balances through the external ledger.
package amm

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ammLedger/internal/authority"
	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

// Recorder observes the outcome of every operation.
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

// Config holds the optional post-commit hooks of an Engine.
type Config struct {
	Journal storage.Journal
	Metrics Recorder
	Now     func() time.Time
}

// Engine runs pool operations against a Store.
type Engine struct {
	cfg    Config
	store  Store
	logger *zap.Logger
}

// NewEngine builds an Engine with its dependencies.
func NewEngine(cfg Config, store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg, store: store, logger: logger}
}

type DepositRequest struct {
	Pool      common.Address
	Actor     common.Address
	AmountA   uint64
	AmountB   uint64
	MinShares uint64
}

type WithdrawRequest struct {
	Pool       common.Address
	Actor      common.Address
	Shares     uint64
	MinAmountA uint64
	MinAmountB uint64
}

type WithdrawResult struct {
	AmountA uint64 `json:"amount_a"`
	AmountB uint64 `json:"amount_b"`
}

type SwapRequest struct {
	Pool         common.Address
	Actor        common.Address
	AmountIn     uint64
	MinAmountOut uint64
	Direction    model.Direction
}

// livePool is a loaded pool record with its re-derived keys and the reserve
// balances read at the start of the unit.
type livePool struct {
	rec      model.PoolRecord
	keys     authority.PoolKeys
	signer   *capability
	reserveA uint64
	reserveB uint64
}

func openPool(ctx context.Context, tx Tx, id common.Address) (*livePool, error) {
	rec, err := tx.LoadPool(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := authority.DerivePool(rec.AssetA, rec.AssetB)
	if keys.Pool != rec.ID || keys.ShareMint != rec.ShareMint ||
		keys.ReserveA != rec.ReserveA || keys.ReserveB != rec.ReserveB ||
		keys.Pool != rec.Authority {
		return nil, fmt.Errorf("%w: %s", ErrCorruptPool, id.Hex())
	}

	reserveA, err := tx.Balance(ctx, rec.ReserveA)
	if err != nil {
		return nil, fmt.Errorf("read reserve a: %w", err)
	}
	reserveB, err := tx.Balance(ctx, rec.ReserveB)
	if err != nil {
		return nil, fmt.Errorf("read reserve b: %w", err)
	}
	return &livePool{rec: rec, keys: keys, signer: newCapability(keys), reserveA: reserveA, reserveB: reserveB}, nil
}

// Initialize creates the pool for the ordered pair (assetA, assetB) with its
// share mint, both custody accounts and a zero share counter.
func (e *Engine) Initialize(ctx context.Context, assetA, assetB common.Address) (model.PoolRecord, error) {
	start := time.Now()
	var rec model.PoolRecord
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if assetA == assetB {
			return fmt.Errorf("%w: %s", ErrDuplicateAssets, assetA.Hex())
		}
		keys := authority.DerivePool(assetA, assetB)
		rec = model.PoolRecord{
			ID:        keys.Pool,
			AssetA:    assetA,
			AssetB:    assetB,
			ShareMint: keys.ShareMint,
			ReserveA:  keys.ReserveA,
			ReserveB:  keys.ReserveB,
			Authority: keys.Pool,
		}
		if err := tx.CreatePool(ctx, rec); err != nil {
			return err
		}
		if err := tx.CreateMint(ctx, keys.ShareMint, keys.Pool); err != nil {
			return fmt.Errorf("create share mint: %w", err)
		}
		if err := tx.OpenCustody(ctx, keys.ReserveA, assetA, keys.Pool); err != nil {
			return fmt.Errorf("open reserve a: %w", err)
		}
		if err := tx.OpenCustody(ctx, keys.ReserveB, assetB, keys.Pool); err != nil {
			return fmt.Errorf("open reserve b: %w", err)
		}
		return nil
	})
	e.finish(model.OpInitialize, e.record(model.OpInitialize, rec, common.Address{}), err, start)
	if err != nil {
		return model.PoolRecord{}, err
	}
	return rec, nil
}

// Deposit adds both assets to the pool and mints shares to the actor.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (uint64, error) {
	start := time.Now()
	var (
		shares uint64
		op     model.OperationRecord
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if req.AmountA == 0 || req.AmountB == 0 {
			return fmt.Errorf("%w: deposit amounts must be positive", ErrInvalidAmount)
		}
		p, err := openPool(ctx, tx, req.Pool)
		if err != nil {
			return err
		}

		minted, err := SharesForDeposit(req.AmountA, req.AmountB, p.reserveA, p.reserveB, p.rec.TotalShares)
		if err != nil {
			return err
		}
		if minted < req.MinShares {
			return fmt.Errorf("%w: shares %d below minimum %d", ErrSlippageExceeded, minted, req.MinShares)
		}
		if minted == 0 {
			return fmt.Errorf("%w: deposit mints no shares", ErrInsufficientLiquidity)
		}

		actor := authority.Actor(req.Actor)
		if err := tx.Transfer(ctx, authority.AssociatedAccount(req.Actor, p.rec.AssetA), p.rec.ReserveA, req.AmountA, actor); err != nil {
			return fmt.Errorf("transfer asset a: %w", err)
		}
		if err := tx.Transfer(ctx, authority.AssociatedAccount(req.Actor, p.rec.AssetB), p.rec.ReserveB, req.AmountB, actor); err != nil {
			return fmt.Errorf("transfer asset b: %w", err)
		}
		total, err := addShares(p.rec.TotalShares, minted)
		if err != nil {
			return err
		}
		if err := tx.SetTotalShares(ctx, p.rec.ID, total); err != nil {
			return err
		}
		holder := authority.AssociatedAccount(req.Actor, p.rec.ShareMint)
		if err := tx.EnsureAccount(ctx, holder, p.rec.ShareMint, req.Actor); err != nil {
			return err
		}
		if err := tx.Mint(ctx, p.rec.ShareMint, holder, minted, p.signer); err != nil {
			return fmt.Errorf("mint shares: %w", err)
		}

		shares = minted
		p.rec.TotalShares = total
		op = e.record(model.OpDeposit, p.rec, req.Actor)
		op.AmountA, op.AmountB, op.Shares = req.AmountA, req.AmountB, minted
		op.ReserveA, op.ReserveB = p.reserveA+req.AmountA, p.reserveB+req.AmountB
		return nil
	})
	e.finish(model.OpDeposit, op, err, start)
	if err != nil {
		return 0, err
	}
	return shares, nil
}

// Withdraw burns the actor's shares and pays out the proportional reserves.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	start := time.Now()
	var (
		res WithdrawResult
		op  model.OperationRecord
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if req.Shares == 0 {
			return fmt.Errorf("%w: share amount must be positive", ErrInvalidAmount)
		}
		p, err := openPool(ctx, tx, req.Pool)
		if err != nil {
			return err
		}
		if p.rec.TotalShares == 0 {
			return fmt.Errorf("%w: pool has no shares outstanding", ErrInsufficientLiquidity)
		}

		amountA, amountB, err := WithdrawAmounts(req.Shares, p.reserveA, p.reserveB, p.rec.TotalShares)
		if err != nil {
			return err
		}
		if amountA < req.MinAmountA {
			return fmt.Errorf("%w: amount a %d below minimum %d", ErrSlippageExceeded, amountA, req.MinAmountA)
		}
		if amountB < req.MinAmountB {
			return fmt.Errorf("%w: amount b %d below minimum %d", ErrSlippageExceeded, amountB, req.MinAmountB)
		}

		holder := authority.AssociatedAccount(req.Actor, p.rec.ShareMint)
		if err := tx.Burn(ctx, p.rec.ShareMint, holder, req.Shares, authority.Actor(req.Actor)); err != nil {
			return fmt.Errorf("burn shares: %w", err)
		}
		if err := payOut(ctx, tx, p.rec.ReserveA, p.rec.AssetA, req.Actor, amountA, p.signer); err != nil {
			return fmt.Errorf("transfer asset a: %w", err)
		}
		if err := payOut(ctx, tx, p.rec.ReserveB, p.rec.AssetB, req.Actor, amountB, p.signer); err != nil {
			return fmt.Errorf("transfer asset b: %w", err)
		}
		total, err := subShares(p.rec.TotalShares, req.Shares)
		if err != nil {
			return err
		}
		if err := tx.SetTotalShares(ctx, p.rec.ID, total); err != nil {
			return err
		}

		res = WithdrawResult{AmountA: amountA, AmountB: amountB}
		p.rec.TotalShares = total
		op = e.record(model.OpWithdraw, p.rec, req.Actor)
		op.AmountA, op.AmountB, op.Shares = amountA, amountB, req.Shares
		op.ReserveA, op.ReserveB = p.reserveA-amountA, p.reserveB-amountB
		return nil
	})
	e.finish(model.OpWithdraw, op, err, start)
	if err != nil {
		return WithdrawResult{}, err
	}
	return res, nil
}

// Swap exchanges amount_in of one asset for the other at the fee-adjusted
// constant-product price.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (uint64, error) {
	start := time.Now()
	var (
		amountOut uint64
		op        model.OperationRecord
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if req.AmountIn == 0 {
			return fmt.Errorf("%w: swap amount must be positive", ErrInvalidAmount)
		}
		if !req.Direction.Valid() {
			return fmt.Errorf("%w: unknown swap direction %d", ErrInvalidAmount, req.Direction)
		}
		p, err := openPool(ctx, tx, req.Pool)
		if err != nil {
			return err
		}

		side := p.side(req.Direction)
		out, err := AmountOut(req.AmountIn, side.reserveIn, side.reserveOut)
		if err != nil {
			return err
		}
		if out < req.MinAmountOut {
			return fmt.Errorf("%w: amount out %d below minimum %d", ErrSlippageExceeded, out, req.MinAmountOut)
		}
		if out == 0 || out >= side.reserveOut {
			return fmt.Errorf("%w: amount out %d against reserve %d", ErrInsufficientLiquidity, out, side.reserveOut)
		}

		from := authority.AssociatedAccount(req.Actor, side.assetIn)
		if err := tx.Transfer(ctx, from, side.custodyIn, req.AmountIn, authority.Actor(req.Actor)); err != nil {
			return fmt.Errorf("transfer input: %w", err)
		}
		if err := payOut(ctx, tx, side.custodyOut, side.assetOut, req.Actor, out, p.signer); err != nil {
			return fmt.Errorf("transfer output: %w", err)
		}

		amountOut = out
		dir := req.Direction
		op = e.record(model.OpSwap, p.rec, req.Actor)
		op.Direction, op.AmountIn, op.AmountOut = &dir, req.AmountIn, out
		if dir == model.AToB {
			op.ReserveA, op.ReserveB = p.reserveA+req.AmountIn, p.reserveB-out
		} else {
			op.ReserveA, op.ReserveB = p.reserveA-out, p.reserveB+req.AmountIn
		}
		return nil
	})
	e.finish(model.OpSwap, op, err, start)
	if err != nil {
		return 0, err
	}
	return amountOut, nil
}

type swapSide struct {
	assetIn, assetOut     common.Address
	custodyIn, custodyOut common.Address
	reserveIn, reserveOut uint64
}

func (p *livePool) side(dir model.Direction) swapSide {
	if dir == model.BToA {
		return swapSide{
			assetIn: p.rec.AssetB, assetOut: p.rec.AssetA,
			custodyIn: p.rec.ReserveB, custodyOut: p.rec.ReserveA,
			reserveIn: p.reserveB, reserveOut: p.reserveA,
		}
	}
	return swapSide{
		assetIn: p.rec.AssetA, assetOut: p.rec.AssetB,
		custodyIn: p.rec.ReserveA, custodyOut: p.rec.ReserveB,
		reserveIn: p.reserveA, reserveOut: p.reserveB,
	}
}

// payOut moves amount from a custody account to the actor's associated
// account, opening it if needed.
func payOut(ctx context.Context, tx Tx, custody, asset, actor common.Address, amount uint64, signer *capability) error {
	to := authority.AssociatedAccount(actor, asset)
	if err := tx.EnsureAccount(ctx, to, asset, actor); err != nil {
		return err
	}
	return tx.Transfer(ctx, custody, to, amount, signer)
}

func (e *Engine) record(kind model.OperationKind, rec model.PoolRecord, actor common.Address) model.OperationRecord {
	op := model.OperationRecord{
		ID:          uuid.NewString(),
		Kind:        kind,
		Pool:        rec.ID.Hex(),
		TotalShares: rec.TotalShares,
		Timestamp:   e.cfg.Now().UTC().Format(time.RFC3339Nano),
	}
	if actor != (common.Address{}) {
		op.Actor = actor.Hex()
	}
	return op
}

func (e *Engine) finish(kind model.OperationKind, op model.OperationRecord, err error, start time.Time) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ObserveOperation(string(kind), err, time.Since(start))
	}
	if err != nil {
		e.logger.Debug("operation rejected", zap.String("op", string(kind)), zap.Error(err))
		return
	}

	e.logger.Info("operation committed",
		zap.String("op", string(kind)),
		zap.String("pool", op.Pool),
		zap.String("actor", op.Actor),
		zap.Uint64("reserve_a", op.ReserveA),
		zap.Uint64("reserve_b", op.ReserveB),
		zap.Uint64("total_shares", op.TotalShares),
	)
	if e.cfg.Journal == nil {
		return
	}
	if jerr := e.cfg.Journal.PutOperations([]model.OperationRecord{op}); jerr != nil {
		e.logger.Warn("journal write failed", zap.String("op", string(kind)), zap.Error(jerr))
	}
}
