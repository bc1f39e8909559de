package amm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammLedger/internal/authority"
	"ammLedger/internal/model"
	"ammLedger/internal/u128"
)

const (
	ratioScale  = 18
	feeScale    = 6
	impactScale = 2

	// DefaultSlippageBps is the tolerance used when a quote names none.
	DefaultSlippageBps = 100
	bpsDenominator     = 10_000
)

// PoolInfo returns the pool record joined with its live reserves.
func (e *Engine) PoolInfo(ctx context.Context, id common.Address) (model.PoolInfo, error) {
	var info model.PoolInfo
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := openPool(ctx, tx, id)
		if err != nil {
			return err
		}
		info = model.PoolInfo{
			PoolRecord:      p.rec,
			ReserveABalance: p.reserveA,
			ReserveBBalance: p.reserveB,
			PriceRatio:      formatRatio(p.reserveB, p.reserveA, ratioScale),
		}
		return nil
	})
	if err != nil {
		return model.PoolInfo{}, err
	}
	return info, nil
}

// PoolByAssets resolves the pool of the ordered pair and returns its info.
func (e *Engine) PoolByAssets(ctx context.Context, assetA, assetB common.Address) (model.PoolInfo, error) {
	if assetA == assetB {
		return model.PoolInfo{}, fmt.Errorf("%w: %s", ErrDuplicateAssets, assetA.Hex())
	}
	return e.PoolInfo(ctx, authority.DerivePool(assetA, assetB).Pool)
}

// Quote prices a swap on the pool's live reserves without moving funds.
func (e *Engine) Quote(ctx context.Context, id common.Address, amountIn uint64, dir model.Direction, slippageBps uint64) (model.Quote, error) {
	start := time.Now()
	var quote model.Quote
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if !dir.Valid() {
			return fmt.Errorf("%w: unknown swap direction %d", ErrInvalidAmount, dir)
		}
		p, err := openPool(ctx, tx, id)
		if err != nil {
			return err
		}
		side := p.side(dir)
		quote, err = QuoteReserves(side.reserveIn, side.reserveOut, amountIn, slippageBps)
		return err
	})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ObserveOperation("quote", err, time.Since(start))
	}
	if err != nil {
		return model.Quote{}, err
	}
	return quote, nil
}

// QuoteReserves prices amountIn against raw reserves.
func QuoteReserves(reserveIn, reserveOut, amountIn, slippageBps uint64) (model.Quote, error) {
	if amountIn == 0 {
		return model.Quote{}, fmt.Errorf("%w: quote amount must be positive", ErrInvalidAmount)
	}
	if slippageBps > bpsDenominator {
		return model.Quote{}, fmt.Errorf("%w: slippage %d bps exceeds %d", ErrInvalidAmount, slippageBps, bpsDenominator)
	}
	if reserveIn == 0 || reserveOut == 0 {
		return model.Quote{}, fmt.Errorf("%w: pool has no liquidity", ErrInsufficientLiquidity)
	}

	out, err := AmountOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return model.Quote{}, err
	}
	if out == 0 || out >= reserveOut {
		return model.Quote{}, fmt.Errorf("%w: amount out %d against reserve %d", ErrInsufficientLiquidity, out, reserveOut)
	}
	minimum, err := u128.From64(out).MulDiv(u128.From64(bpsDenominator-slippageBps), u128.From64(bpsDenominator))
	if err != nil {
		return model.Quote{}, err
	}
	minOut, err := minimum.Uint64()
	if err != nil {
		return model.Quote{}, err
	}

	fee := new(big.Rat).SetFrac(
		new(big.Int).Mul(new(big.Int).SetUint64(amountIn), big.NewInt(FeeNumerator)),
		big.NewInt(FeeDenominator),
	)
	impact := new(big.Rat).SetFrac(
		new(big.Int).Mul(new(big.Int).SetUint64(amountIn), big.NewInt(100)),
		new(big.Int).SetUint64(reserveIn),
	)
	return model.Quote{
		AmountIn:        amountIn,
		AmountOut:       out,
		ReserveIn:       reserveIn,
		ReserveOut:      reserveOut,
		Fee:             fee.FloatString(feeScale),
		EffectivePrice:  formatRatio(out, amountIn, ratioScale),
		PriceImpact:     impact.FloatString(impactScale),
		SlippageBps:     slippageBps,
		MinimumReceived: minOut,
	}, nil
}

// Balance reads the owner's associated account for asset. A missing account
// holds zero.
func (e *Engine) Balance(ctx context.Context, owner, asset common.Address) (model.Balance, error) {
	bal := model.Balance{Owner: owner, Asset: asset, Account: authority.AssociatedAccount(owner, asset)}
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		amount, err := tx.Balance(ctx, bal.Account)
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		bal.Amount = amount
		return err
	})
	if err != nil {
		return model.Balance{}, err
	}
	return bal, nil
}

// Fund credits amount of asset to the owner out of thin air. It only works on
// stores that implement Faucet.
func (e *Engine) Fund(ctx context.Context, owner, asset common.Address, amount uint64) (model.Balance, error) {
	if amount == 0 {
		return model.Balance{}, fmt.Errorf("%w: fund amount must be positive", ErrInvalidAmount)
	}
	bal := model.Balance{Owner: owner, Asset: asset, Account: authority.AssociatedAccount(owner, asset)}
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		faucet, ok := tx.(Faucet)
		if !ok {
			return ErrUnsupported
		}
		if err := tx.EnsureAccount(ctx, bal.Account, asset, owner); err != nil {
			return err
		}
		if err := faucet.Credit(ctx, bal.Account, amount); err != nil {
			return err
		}
		amount, err := tx.Balance(ctx, bal.Account)
		bal.Amount = amount
		return err
	})
	if err != nil {
		e.logger.Debug("fund rejected", zap.String("owner", owner.Hex()), zap.Error(err))
		return model.Balance{}, err
	}
	e.logger.Info("account funded",
		zap.String("owner", owner.Hex()),
		zap.String("asset", asset.Hex()),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", bal.Amount),
	)
	return bal, nil
}

func formatRatio(num, den uint64, scale int) string {
	if den == 0 {
		return ""
	}
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(num), new(big.Int).SetUint64(den)).FloatString(scale)
}
