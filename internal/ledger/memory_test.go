package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"ammLedger/internal/amm"
	"ammLedger/internal/authority"
	"ammLedger/internal/model"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func seedPool(t *testing.T, l *Ledger) authority.PoolKeys {
	t.Helper()
	keys := authority.DerivePool(assetA, assetB)
	err := l.InTx(context.Background(), func(ctx context.Context, tx amm.Tx) error {
		if err := tx.CreatePool(ctx, model.PoolRecord{ID: keys.Pool, AssetA: assetA, AssetB: assetB}); err != nil {
			return err
		}
		if err := tx.CreateMint(ctx, keys.ShareMint, keys.Pool); err != nil {
			return err
		}
		if err := tx.OpenCustody(ctx, keys.ReserveA, assetA, keys.Pool); err != nil {
			return err
		}
		if err := tx.EnsureAccount(ctx, authority.AssociatedAccount(alice, assetA), assetA, alice); err != nil {
			return err
		}
		return tx.(amm.Faucet).Credit(ctx, authority.AssociatedAccount(alice, assetA), 500)
	})
	if err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	return keys
}

func balanceOf(t *testing.T, l *Ledger, addr common.Address) uint64 {
	t.Helper()
	var got uint64
	err := l.InTx(context.Background(), func(ctx context.Context, tx amm.Tx) error {
		var err error
		got, err = tx.Balance(ctx, addr)
		return err
	})
	if err != nil {
		t.Fatalf("balance %s: %v", addr.Hex(), err)
	}
	return got
}

func TestInTxRollsBackOnError(t *testing.T) {
	l := New(nil)
	keys := seedPool(t, l)
	aliceA := authority.AssociatedAccount(alice, assetA)

	boom := errors.New("boom")
	err := l.InTx(context.Background(), func(ctx context.Context, tx amm.Tx) error {
		if err := tx.Transfer(ctx, aliceA, keys.ReserveA, 200, authority.Actor(alice)); err != nil {
			return err
		}
		if err := tx.SetTotalShares(ctx, keys.Pool, 42); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := balanceOf(t, l, aliceA); got != 500 {
		t.Fatalf("alice balance changed to %d", got)
	}
	if got := balanceOf(t, l, keys.ReserveA); got != 0 {
		t.Fatalf("reserve balance changed to %d", got)
	}
	_ = l.InTx(context.Background(), func(ctx context.Context, tx amm.Tx) error {
		rec, err := tx.LoadPool(ctx, keys.Pool)
		if err != nil {
			t.Fatalf("load pool: %v", err)
		}
		if rec.TotalShares != 0 {
			t.Fatalf("total shares changed to %d", rec.TotalShares)
		}
		return nil
	})
}

func TestTransferRules(t *testing.T) {
	l := New(nil)
	keys := seedPool(t, l)
	aliceA := authority.AssociatedAccount(alice, assetA)
	ctx := context.Background()

	err := l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.Transfer(ctx, aliceA, keys.ReserveA, 300, authority.Actor(alice))
	})
	if err != nil {
		t.Fatalf("deposit transfer: %v", err)
	}

	cases := []struct {
		name   string
		from   common.Address
		to     common.Address
		amount uint64
		signer authority.Signer
		want   error
	}{
		{"actor cannot drain custody", keys.ReserveA, aliceA, 1, authority.Actor(keys.Pool), amm.ErrUnauthorized},
		{"stranger cannot debit holder", aliceA, keys.ReserveA, 1, authority.Actor(bob), amm.ErrUnauthorized},
		{"overdraw", aliceA, keys.ReserveA, 201, authority.Actor(alice), amm.ErrInsufficientFunds},
		{"missing destination", aliceA, authority.AssociatedAccount(bob, assetA), 1, authority.Actor(alice), amm.ErrAccountNotFound},
	}
	for _, tc := range cases {
		err := l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
			return tx.Transfer(ctx, tc.from, tc.to, tc.amount, tc.signer)
		})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if got := balanceOf(t, l, aliceA); got != 200 {
		t.Fatalf("alice balance = %d, want 200", got)
	}
}

func TestMintAndBurn(t *testing.T) {
	l := New(nil)
	engine := amm.NewEngine(amm.Config{}, l, nil)
	ctx := context.Background()

	rec, err := engine.Initialize(ctx, assetA, assetB)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, asset := range []common.Address{assetA, assetB} {
		if _, err := engine.Fund(ctx, alice, asset, 10); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	shares, err := engine.Deposit(ctx, amm.DepositRequest{Pool: rec.ID, Actor: alice, AmountA: 10, AmountB: 10})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares != 10 {
		t.Fatalf("shares = %d, want 10", shares)
	}
	holder := authority.AssociatedAccount(alice, rec.ShareMint)

	for name, signer := range map[string]authority.Signer{
		"holder":       authority.Actor(alice),
		"pool address": authority.Actor(rec.ID),
	} {
		err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
			return tx.Mint(ctx, rec.ShareMint, holder, 10, signer)
		})
		if !errors.Is(err, amm.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized mint, got %v", name, err)
		}
	}
	err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.Transfer(ctx, rec.ReserveA, authority.AssociatedAccount(alice, assetA), 1, authority.Actor(rec.ID))
	})
	if !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized custody debit, got %v", err)
	}

	err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.Burn(ctx, rec.ShareMint, holder, 11, authority.Actor(alice))
	})
	if !errors.Is(err, amm.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.Burn(ctx, rec.ShareMint, holder, 4, authority.Actor(bob))
	})
	if !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized burn, got %v", err)
	}
	err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.Burn(ctx, rec.ShareMint, holder, 4, authority.Actor(alice))
	})
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := balanceOf(t, l, holder); got != 6 {
		t.Fatalf("holder balance = %d, want 6", got)
	}

	l.mu.Lock()
	supply := l.state.Mints[rec.ShareMint].Supply
	l.mu.Unlock()
	if supply != 6 {
		t.Fatalf("supply = %d, want 6", supply)
	}

	// The pool pays custody out only through its own withdraw path.
	res, err := engine.Withdraw(ctx, amm.WithdrawRequest{Pool: rec.ID, Actor: alice, Shares: 6})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.AmountA != 6 || res.AmountB != 6 {
		t.Fatalf("withdraw paid %+v, want 6/6", res)
	}
	if got := balanceOf(t, l, rec.ReserveA); got != 4 {
		t.Fatalf("reserve a = %d, want 4", got)
	}
}

func TestCreditRejectsCustody(t *testing.T) {
	l := New(nil)
	keys := seedPool(t, l)
	err := l.InTx(context.Background(), func(ctx context.Context, tx amm.Tx) error {
		return tx.(amm.Faucet).Credit(ctx, keys.ReserveA, 1)
	})
	if !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestDuplicateRecords(t *testing.T) {
	l := New(nil)
	keys := seedPool(t, l)
	ctx := context.Background()

	err := l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.CreatePool(ctx, model.PoolRecord{ID: keys.Pool})
	})
	if !errors.Is(err, amm.ErrPoolExists) {
		t.Fatalf("expected pool exists, got %v", err)
	}
	err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.OpenCustody(ctx, keys.ReserveA, assetA, keys.Pool)
	})
	if !errors.Is(err, amm.ErrAccountExists) {
		t.Fatalf("expected account exists, got %v", err)
	}
	err = l.InTx(ctx, func(ctx context.Context, tx amm.Tx) error {
		return tx.EnsureAccount(ctx, keys.ReserveA, assetA, alice)
	})
	if !errors.Is(err, amm.ErrAccountExists) {
		t.Fatalf("expected holder account over custody to fail, got %v", err)
	}
}

func TestSnapshotPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.json")

	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	keys := seedPool(t, l)

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := balanceOf(t, reopened, authority.AssociatedAccount(alice, assetA)); got != 500 {
		t.Fatalf("alice balance after reopen = %d, want 500", got)
	}
	err = reopened.InTx(context.Background(), func(ctx context.Context, tx amm.Tx) error {
		rec, err := tx.LoadPool(ctx, keys.Pool)
		if err != nil {
			return err
		}
		if rec.AssetA != assetA || rec.AssetB != assetB {
			t.Fatalf("pool assets not restored: %+v", rec)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load pool after reopen: %v", err)
	}
}

func TestOpenRejectsDirectory(t *testing.T) {
	if _, err := Open(t.TempDir(), nil); err == nil {
		t.Fatalf("expected error for directory snapshot path")
	}
}

func TestInTxHonoursCancelledContext(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := l.InTx(ctx, func(context.Context, amm.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancelled unit to be skipped, err=%v called=%v", err, called)
	}
}
