package amm_test

import (
	"context"
	"math/big"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammLedger/internal/amm"
	"ammLedger/internal/authority"
	"ammLedger/internal/ledger"
	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fixture struct {
	engine *amm.Engine
	pool   model.PoolRecord
}

func newFixture(t *testing.T, cfg amm.Config) *fixture {
	t.Helper()
	engine := amm.NewEngine(cfg, ledger.New(nil), nil)
	rec, err := engine.Initialize(context.Background(), assetA, assetB)
	require.NoError(t, err)
	return &fixture{engine: engine, pool: rec}
}

func (f *fixture) fund(t *testing.T, owner common.Address, a, b uint64) {
	t.Helper()
	ctx := context.Background()
	if a > 0 {
		_, err := f.engine.Fund(ctx, owner, assetA, a)
		require.NoError(t, err)
	}
	if b > 0 {
		_, err := f.engine.Fund(ctx, owner, assetB, b)
		require.NoError(t, err)
	}
}

func (f *fixture) balance(t *testing.T, owner, asset common.Address) uint64 {
	t.Helper()
	bal, err := f.engine.Balance(context.Background(), owner, asset)
	require.NoError(t, err)
	return bal.Amount
}

func (f *fixture) info(t *testing.T) model.PoolInfo {
	t.Helper()
	info, err := f.engine.PoolInfo(context.Background(), f.pool.ID)
	require.NoError(t, err)
	return info
}

func (f *fixture) deposit(t *testing.T, actor common.Address, a, b uint64) uint64 {
	t.Helper()
	shares, err := f.engine.Deposit(context.Background(), amm.DepositRequest{
		Pool: f.pool.ID, Actor: actor, AmountA: a, AmountB: b,
	})
	require.NoError(t, err)
	return shares
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, amm.Config{})
	keys := authority.DerivePool(assetA, assetB)

	assert.Equal(t, keys.Pool, f.pool.ID)
	assert.Equal(t, keys.ShareMint, f.pool.ShareMint)
	assert.Equal(t, keys.ReserveA, f.pool.ReserveA)
	assert.Equal(t, keys.ReserveB, f.pool.ReserveB)
	assert.Equal(t, keys.Pool, f.pool.Authority)
	assert.Zero(t, f.pool.TotalShares)

	info := f.info(t)
	assert.Zero(t, info.ReserveABalance)
	assert.Zero(t, info.ReserveBBalance)
	assert.Empty(t, info.PriceRatio)

	_, err := f.engine.Initialize(context.Background(), assetA, assetB)
	assert.ErrorIs(t, err, amm.ErrPoolExists)

	_, err = f.engine.Initialize(context.Background(), assetA, assetA)
	assert.ErrorIs(t, err, amm.ErrDuplicateAssets)

	reversed, err := f.engine.Initialize(context.Background(), assetB, assetA)
	require.NoError(t, err)
	assert.NotEqual(t, f.pool.ID, reversed.ID)

	byAssets, err := f.engine.PoolByAssets(context.Background(), assetA, assetB)
	require.NoError(t, err)
	assert.Equal(t, f.pool.ID, byAssets.ID)

	_, err = f.engine.PoolInfo(context.Background(), alice)
	assert.ErrorIs(t, err, amm.ErrPoolNotFound)
}

func TestScenario(t *testing.T) {
	f := newFixture(t, amm.Config{})
	ctx := context.Background()
	f.fund(t, alice, 1000, 1000)
	f.fund(t, bob, 100, 0)

	assert.Equal(t, uint64(1000), f.deposit(t, alice, 1000, 1000))
	info := f.info(t)
	assert.Equal(t, uint64(1000), info.ReserveABalance)
	assert.Equal(t, uint64(1000), info.ReserveBBalance)
	assert.Equal(t, uint64(1000), info.TotalShares)
	assert.Equal(t, "1.000000000000000000", info.PriceRatio)

	out, err := f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 100, Direction: model.AToB})
	require.NoError(t, err)
	assert.Equal(t, uint64(90), out)
	assert.Equal(t, uint64(0), f.balance(t, bob, assetA))
	assert.Equal(t, uint64(90), f.balance(t, bob, assetB))

	res, err := f.engine.Withdraw(ctx, amm.WithdrawRequest{Pool: f.pool.ID, Actor: alice, Shares: 1000})
	require.NoError(t, err)
	assert.Equal(t, amm.WithdrawResult{AmountA: 1100, AmountB: 910}, res)

	info = f.info(t)
	assert.Zero(t, info.TotalShares)
	assert.Zero(t, info.ReserveABalance)
	assert.Zero(t, info.ReserveBBalance)
	assert.Equal(t, uint64(1100), f.balance(t, alice, assetA))
	assert.Equal(t, uint64(910), f.balance(t, alice, assetB))
	assert.Zero(t, f.balance(t, alice, f.pool.ShareMint))
}

func TestFirstDepositBoundaries(t *testing.T) {
	f := newFixture(t, amm.Config{})
	f.fund(t, alice, 10, 10)

	_, err := f.engine.Deposit(context.Background(), amm.DepositRequest{Pool: f.pool.ID, Actor: alice, AmountA: 0, AmountB: 100})
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)

	assert.Equal(t, uint64(1), f.deposit(t, alice, 1, 1))
	assert.Equal(t, uint64(1), f.balance(t, alice, f.pool.ShareMint))
}

func TestDepositRules(t *testing.T) {
	f := newFixture(t, amm.Config{})
	ctx := context.Background()
	f.fund(t, alice, 1_000_000, 1_000_000)
	f.fund(t, bob, 1000, 1000)
	assert.Equal(t, uint64(1_000_000), f.deposit(t, alice, 1_000_000, 1_000_000))

	t.Run("LimitingSideDecides", func(t *testing.T) {
		before := f.info(t)
		shares := f.deposit(t, bob, 100, 200)
		assert.Equal(t, uint64(100), shares)
		after := f.info(t)
		assert.Equal(t, before.ReserveABalance+100, after.ReserveABalance)
		assert.Equal(t, before.ReserveBBalance+200, after.ReserveBBalance)
		assert.Equal(t, before.TotalShares+100, after.TotalShares)
	})

	t.Run("ZeroShareMintRejected", func(t *testing.T) {
		small := newFixture(t, amm.Config{})
		small.fund(t, alice, 2_000_000, 2_000_000)
		small.deposit(t, alice, 1_000_000, 1_000_000)
		_, err := small.engine.Swap(ctx, amm.SwapRequest{Pool: small.pool.ID, Actor: alice, AmountIn: 1_000_000, Direction: model.AToB})
		require.NoError(t, err)
		_, err = small.engine.Deposit(ctx, amm.DepositRequest{Pool: small.pool.ID, Actor: alice, AmountA: 1, AmountB: 1})
		assert.ErrorIs(t, err, amm.ErrInsufficientLiquidity)
	})

	t.Run("ZeroShareMintBelowMinimumIsSlippage", func(t *testing.T) {
		skewed := newFixture(t, amm.Config{})
		skewed.fund(t, alice, 2000, 2000)
		skewed.deposit(t, alice, 1000, 1000)
		_, err := skewed.engine.Swap(ctx, amm.SwapRequest{Pool: skewed.pool.ID, Actor: alice, AmountIn: 100, Direction: model.AToB})
		require.NoError(t, err)
		before := skewed.info(t)
		require.Equal(t, uint64(1100), before.ReserveABalance)
		require.Equal(t, uint64(910), before.ReserveBBalance)

		_, err = skewed.engine.Deposit(ctx, amm.DepositRequest{Pool: skewed.pool.ID, Actor: alice, AmountA: 1, AmountB: 1, MinShares: 5})
		assert.ErrorIs(t, err, amm.ErrSlippageExceeded)
		assert.Equal(t, before, skewed.info(t))
	})

	t.Run("SlippageLeavesStateUnchanged", func(t *testing.T) {
		before := f.info(t)
		balA := f.balance(t, bob, assetA)
		_, err := f.engine.Deposit(ctx, amm.DepositRequest{Pool: f.pool.ID, Actor: bob, AmountA: 10, AmountB: 10, MinShares: 11})
		assert.ErrorIs(t, err, amm.ErrSlippageExceeded)
		assert.Equal(t, before, f.info(t))
		assert.Equal(t, balA, f.balance(t, bob, assetA))
	})

	t.Run("InsufficientFundsLeavesStateUnchanged", func(t *testing.T) {
		before := f.info(t)
		balA := f.balance(t, bob, assetA)
		// asset a moves before asset b fails
		_, err := f.engine.Deposit(ctx, amm.DepositRequest{Pool: f.pool.ID, Actor: bob, AmountA: 10, AmountB: 5000})
		assert.ErrorIs(t, err, amm.ErrInsufficientFunds)
		assert.Equal(t, before, f.info(t))
		assert.Equal(t, balA, f.balance(t, bob, assetA))
	})

	t.Run("UnknownPool", func(t *testing.T) {
		_, err := f.engine.Deposit(ctx, amm.DepositRequest{Pool: bob, Actor: bob, AmountA: 1, AmountB: 1})
		assert.ErrorIs(t, err, amm.ErrPoolNotFound)
	})
}

func TestWithdrawRules(t *testing.T) {
	f := newFixture(t, amm.Config{})
	ctx := context.Background()

	_, err := f.engine.Withdraw(ctx, amm.WithdrawRequest{Pool: f.pool.ID, Actor: alice, Shares: 1})
	assert.ErrorIs(t, err, amm.ErrInsufficientLiquidity)

	f.fund(t, alice, 1000, 1000)
	f.deposit(t, alice, 1000, 1000)

	_, err = f.engine.Withdraw(ctx, amm.WithdrawRequest{Pool: f.pool.ID, Actor: alice, Shares: 0})
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)

	before := f.info(t)
	_, err = f.engine.Withdraw(ctx, amm.WithdrawRequest{Pool: f.pool.ID, Actor: alice, Shares: 500, MinAmountA: 500, MinAmountB: 501})
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded)
	assert.Equal(t, before, f.info(t))

	_, err = f.engine.Withdraw(ctx, amm.WithdrawRequest{Pool: f.pool.ID, Actor: bob, Shares: 10})
	assert.ErrorIs(t, err, amm.ErrInsufficientFunds)
	assert.Equal(t, before, f.info(t))

	res, err := f.engine.Withdraw(ctx, amm.WithdrawRequest{Pool: f.pool.ID, Actor: alice, Shares: 250, MinAmountA: 250, MinAmountB: 250})
	require.NoError(t, err)
	assert.Equal(t, amm.WithdrawResult{AmountA: 250, AmountB: 250}, res)
	assert.Equal(t, uint64(750), f.info(t).TotalShares)
	assert.Equal(t, uint64(750), f.balance(t, alice, f.pool.ShareMint))
}

func TestSwapRules(t *testing.T) {
	f := newFixture(t, amm.Config{})
	ctx := context.Background()
	f.fund(t, alice, 1000, 1000)
	f.fund(t, bob, 10_000, 10_000)

	_, err := f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 10, Direction: model.AToB})
	assert.ErrorIs(t, err, amm.ErrInsufficientLiquidity, "empty pool")

	f.deposit(t, alice, 1, 1)

	_, err = f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 0})
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)

	unknown := f.info(t)
	_, err = f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 1, Direction: model.Direction(7)})
	assert.ErrorIs(t, err, amm.ErrInvalidAmount, "unknown direction")
	assert.Equal(t, unknown, f.info(t))

	_, err = f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 1000, MinAmountOut: 5})
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded, "slippage is checked before liquidity")

	_, err = f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 1000})
	assert.ErrorIs(t, err, amm.ErrInsufficientLiquidity)

	f.deposit(t, alice, 999, 999)
	before := f.info(t)
	_, err = f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 100, MinAmountOut: 91, Direction: model.BToA})
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded)
	assert.Equal(t, before, f.info(t))

	out, err := f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: 100, MinAmountOut: 90, Direction: model.BToA})
	require.NoError(t, err)
	assert.Equal(t, uint64(90), out)
	after := f.info(t)
	assert.Equal(t, uint64(910), after.ReserveABalance)
	assert.Equal(t, uint64(1100), after.ReserveBBalance)
	assert.Equal(t, before.TotalShares, after.TotalShares)
}

func TestConstantProductNeverDecreases(t *testing.T) {
	f := newFixture(t, amm.Config{})
	ctx := context.Background()
	f.fund(t, alice, 5_000_000, 5_000_000)
	f.fund(t, bob, 1_000_000_000, 1_000_000_000)
	f.deposit(t, alice, 5_000_000, 3_000_000)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		before := f.info(t)
		dir := model.Direction(rng.Intn(2))
		in := uint64(rng.Int63n(2_000_000)) + 1
		_, err := f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: bob, AmountIn: in, Direction: dir})
		if err != nil {
			assert.ErrorIs(t, err, amm.ErrInsufficientLiquidity)
			continue
		}
		after := f.info(t)
		kBefore := mulBig(before.ReserveABalance, before.ReserveBBalance)
		kAfter := mulBig(after.ReserveABalance, after.ReserveBBalance)
		require.GreaterOrEqualf(t, kAfter.Cmp(kBefore), 0, "k decreased on swap %d: %s -> %s", i, kBefore, kAfter)
		require.NotZero(t, after.ReserveABalance)
		require.NotZero(t, after.ReserveBBalance)
	}
}

func TestRoundTripNeverGains(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		f := newFixture(t, amm.Config{})
		ra := uint64(rng.Int63n(1_000_000)) + 1
		rb := uint64(rng.Int63n(1_000_000)) + 1
		a := uint64(rng.Int63n(1_000_000)) + 1
		b := uint64(rng.Int63n(1_000_000)) + 1
		f.fund(t, alice, ra, rb)
		f.fund(t, bob, a, b)
		f.deposit(t, alice, ra, rb)

		shares, err := f.engine.Deposit(context.Background(), amm.DepositRequest{Pool: f.pool.ID, Actor: bob, AmountA: a, AmountB: b})
		if err != nil {
			require.ErrorIs(t, err, amm.ErrInsufficientLiquidity)
			continue
		}
		res, err := f.engine.Withdraw(context.Background(), amm.WithdrawRequest{Pool: f.pool.ID, Actor: bob, Shares: shares})
		require.NoError(t, err)
		require.LessOrEqualf(t, res.AmountA, a, "case %d", i)
		require.LessOrEqualf(t, res.AmountB, b, "case %d", i)
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t, amm.Config{})
	ctx := context.Background()
	f.fund(t, alice, 1000, 1000)
	f.deposit(t, alice, 1000, 1000)

	q, err := f.engine.Quote(ctx, f.pool.ID, 100, model.AToB, amm.DefaultSlippageBps)
	require.NoError(t, err)
	assert.Equal(t, model.Quote{
		AmountIn:        100,
		AmountOut:       90,
		ReserveIn:       1000,
		ReserveOut:      1000,
		Fee:             "0.300000",
		EffectivePrice:  "0.900000000000000000",
		PriceImpact:     "10.00",
		SlippageBps:     100,
		MinimumReceived: 89,
	}, q)

	// quoting moves nothing
	info := f.info(t)
	assert.Equal(t, uint64(1000), info.ReserveABalance)
	assert.Equal(t, uint64(1000), info.ReserveBBalance)

	_, err = f.engine.Quote(ctx, f.pool.ID, 100, model.AToB, 10_001)
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)
	_, err = f.engine.Quote(ctx, f.pool.ID, 0, model.AToB, 0)
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)
	_, err = f.engine.Quote(ctx, f.pool.ID, 100, model.Direction(7), 0)
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)

	_, err = amm.QuoteReserves(0, 1000, 10, 0)
	assert.ErrorIs(t, err, amm.ErrInsufficientLiquidity)

	q, err = amm.QuoteReserves(1000, 1000, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), q.MinimumReceived)
	q, err = amm.QuoteReserves(1000, 1000, 100, 10_000)
	require.NoError(t, err)
	assert.Zero(t, q.MinimumReceived)
}

func TestBalanceOfUnknownAccount(t *testing.T) {
	f := newFixture(t, amm.Config{})
	bal, err := f.engine.Balance(context.Background(), bob, assetA)
	require.NoError(t, err)
	assert.Zero(t, bal.Amount)
	assert.Equal(t, authority.AssociatedAccount(bob, assetA), bal.Account)

	_, err = f.engine.Fund(context.Background(), bob, assetA, 0)
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)
}

type recorder struct {
	mu      sync.Mutex
	results map[string][]bool
}

func (r *recorder) ObserveOperation(op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string][]bool)
	}
	r.results[op] = append(r.results[op], err == nil)
}

func TestJournalAndMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	rec := &recorder{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, amm.Config{
		Journal: storage.NewJsonlStorage(path),
		Metrics: rec,
		Now:     func() time.Time { return now },
	})
	ctx := context.Background()
	f.fund(t, alice, 1000, 1100)
	f.deposit(t, alice, 1000, 1000)
	_, err := f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: alice, AmountIn: 100, Direction: model.BToA})
	require.NoError(t, err)
	_, err = f.engine.Swap(ctx, amm.SwapRequest{Pool: f.pool.ID, Actor: alice, AmountIn: 100, MinAmountOut: 1000})
	require.ErrorIs(t, err, amm.ErrSlippageExceeded)

	ops, err := storage.ReadOperations(path)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, model.OpInitialize, ops[0].Kind)
	assert.Len(t, map[string]bool{ops[0].ID: true, ops[1].ID: true, ops[2].ID: true}, 3)
	_, err = uuid.Parse(ops[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, f.pool.ID.Hex(), ops[0].Pool)

	assert.Equal(t, model.OpDeposit, ops[1].Kind)
	assert.Equal(t, alice.Hex(), ops[1].Actor)
	assert.Equal(t, uint64(1000), ops[1].Shares)
	assert.Equal(t, uint64(1000), ops[1].TotalShares)
	assert.Equal(t, "2024-05-01T12:00:00Z", ops[1].Timestamp)

	swap := ops[2]
	assert.Equal(t, model.OpSwap, swap.Kind)
	require.NotNil(t, swap.Direction)
	assert.Equal(t, model.BToA, *swap.Direction)
	assert.Equal(t, uint64(90), swap.AmountOut)
	assert.Equal(t, uint64(910), swap.ReserveA)
	assert.Equal(t, uint64(1100), swap.ReserveB)

	info := f.info(t)
	assert.Equal(t, info.ReserveABalance, swap.ReserveA)
	assert.Equal(t, info.ReserveBBalance, swap.ReserveB)

	assert.Equal(t, []bool{true}, rec.results[string(model.OpInitialize)])
	assert.Equal(t, []bool{true}, rec.results[string(model.OpDeposit)])
	assert.Equal(t, []bool{true, false}, rec.results[string(model.OpSwap)])
}

type readOnlyStore struct{ amm.Store }

type readOnlyTx struct{ amm.Tx }

func (s readOnlyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx amm.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return fn(ctx, readOnlyTx{tx})
	})
}

func TestFundRequiresFaucet(t *testing.T) {
	engine := amm.NewEngine(amm.Config{}, readOnlyStore{ledger.New(nil)}, nil)
	_, err := engine.Fund(context.Background(), alice, assetA, 10)
	assert.ErrorIs(t, err, amm.ErrUnsupported)
}

func mulBig(a, b uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
}
