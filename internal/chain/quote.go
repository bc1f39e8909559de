package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammLedger/internal/amm"
	"ammLedger/internal/model"
	"ammLedger/internal/u128"
)

// ReserveQuoter prices swaps against the ERC20 balances a pair contract holds,
// using the same fee-adjusted constant-product formula as local pools.
type ReserveQuoter struct {
	client *Client
	tokens *TokenMetaCache
	logger *zap.Logger
}

func NewReserveQuoter(client *Client, tokens *TokenMetaCache, logger *zap.Logger) (*ReserveQuoter, error) {
	if tokens == nil {
		var err error
		if tokens, err = NewTokenMetaCache(0); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReserveQuoter{client: client, tokens: tokens, logger: logger}, nil
}

// Quote reads both reserves at the latest block and prices amountIn.
func (q *ReserveQuoter) Quote(ctx context.Context, pair, tokenIn, tokenOut common.Address, amountIn, slippageBps uint64) (model.OnchainQuote, error) {
	if q.client == nil {
		return model.OnchainQuote{}, fmt.Errorf("chain client is nil")
	}
	if tokenIn == tokenOut {
		return model.OnchainQuote{}, fmt.Errorf("%w: %s", amm.ErrDuplicateAssets, tokenIn.Hex())
	}

	block, err := q.client.LatestBlockNumber(ctx)
	if err != nil {
		return model.OnchainQuote{}, fmt.Errorf("block number: %w", err)
	}
	blockPtr := new(big.Int).SetUint64(block)

	reserveIn, err := q.reserve(ctx, tokenIn, pair, blockPtr)
	if err != nil {
		return model.OnchainQuote{}, fmt.Errorf("reserve in: %w", err)
	}
	reserveOut, err := q.reserve(ctx, tokenOut, pair, blockPtr)
	if err != nil {
		return model.OnchainQuote{}, fmt.Errorf("reserve out: %w", err)
	}

	quote, err := amm.QuoteReserves(reserveIn, reserveOut, amountIn, slippageBps)
	if err != nil {
		return model.OnchainQuote{}, err
	}

	metaIn := q.tokenMeta(ctx, tokenIn)
	metaOut := q.tokenMeta(ctx, tokenOut)
	q.logger.Debug("onchain quote",
		zap.String("pair", pair.Hex()),
		zap.Uint64("block", block),
		zap.Uint64("reserve_in", reserveIn),
		zap.Uint64("reserve_out", reserveOut),
		zap.Uint64("amount_out", quote.AmountOut),
	)
	return model.OnchainQuote{
		Quote:          quote,
		Pair:           pair.Hex(),
		Block:          block,
		TokenIn:        metaIn,
		TokenOut:       metaOut,
		AmountInUnits:  formatTokenAmount(new(big.Int).SetUint64(amountIn), metaIn.Decimals),
		AmountOutUnits: formatTokenAmount(new(big.Int).SetUint64(quote.AmountOut), metaOut.Decimals),
		MinimumUnits:   formatTokenAmount(new(big.Int).SetUint64(quote.MinimumReceived), metaOut.Decimals),
	}, nil
}

// reserve narrows an ERC20 balance to the 64-bit range pools account in.
func (q *ReserveQuoter) reserve(ctx context.Context, token, pair common.Address, block *big.Int) (uint64, error) {
	bal, err := q.client.BalanceOf(ctx, token, pair, block)
	if err != nil {
		return 0, err
	}
	wide, err := u128.FromBig(bal)
	if err != nil {
		return 0, err
	}
	return wide.Uint64()
}

func (q *ReserveQuoter) tokenMeta(ctx context.Context, token common.Address) model.TokenMeta {
	if meta, ok := q.tokens.Get(token); ok {
		return meta
	}
	meta, err := q.client.FetchTokenMeta(ctx, token)
	if err != nil {
		q.logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
	}
	q.tokens.Set(token, meta)
	return meta
}
