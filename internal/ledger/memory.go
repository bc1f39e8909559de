// Package ledger is an in-memory implementation of the balance ledger, share
// control and pool registry the amm core consumes, with optional persistence
// to a JSON snapshot file.
package ledger

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammLedger/internal/amm"
	"ammLedger/internal/authority"
	"ammLedger/internal/model"
)

// Ledger serializes all units behind one mutex. Each unit works on a copy of
// the state that replaces the live state only if the unit succeeds and, when
// persistence is enabled, the snapshot has been written.
type Ledger struct {
	mu       sync.Mutex
	state    State
	snapshot *SnapshotStore
	logger   *zap.Logger
}

var (
	_ amm.Store  = (*Ledger)(nil)
	_ amm.Tx     = (*memTx)(nil)
	_ amm.Faucet = (*memTx)(nil)
)

// New returns an empty, non-persistent ledger.
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{state: newState(), logger: logger}
}

// Open loads the ledger from path, starting empty if the file does not exist.
// Every committed unit is written back to path.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	l := New(logger)
	l.snapshot = NewSnapshotStore(path)
	state, ok, err := l.snapshot.Load()
	if err != nil {
		return nil, err
	}
	l.state = state
	l.logger.Info("ledger opened",
		zap.String("path", path),
		zap.Bool("existing", ok),
		zap.Int("pools", len(state.Pools)),
		zap.Int("accounts", len(state.Accounts)),
	)
	return l, nil
}

func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, tx amm.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{state: l.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if l.snapshot != nil {
		if err := l.snapshot.Save(tx.state); err != nil {
			return fmt.Errorf("persist ledger: %w", err)
		}
	}
	l.state = tx.state
	return nil
}

type memTx struct {
	state State
	dirty bool
}

func (t *memTx) account(addr common.Address) (Account, error) {
	acct, ok := t.state.Accounts[addr]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", amm.ErrAccountNotFound, addr.Hex())
	}
	return acct, nil
}

func (t *memTx) put(acct Account) {
	t.state.Accounts[acct.Address] = acct
	t.dirty = true
}

func (t *memTx) Balance(_ context.Context, addr common.Address) (uint64, error) {
	acct, err := t.account(addr)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (t *memTx) Transfer(_ context.Context, from, to common.Address, amount uint64, signer authority.Signer) error {
	src, err := t.account(from)
	if err != nil {
		return err
	}
	dst, err := t.account(to)
	if err != nil {
		return err
	}
	if src.Asset != dst.Asset {
		return fmt.Errorf("%w: %s -> %s", amm.ErrAssetMismatch, src.Asset.Hex(), dst.Asset.Hex())
	}
	if err := amm.Authorize(signer, src.Owner, src.Custody); err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", amm.ErrInsufficientFunds, from.Hex(), src.Balance, amount)
	}
	if from == to {
		return nil
	}
	credited, err := add64(dst.Balance, amount)
	if err != nil {
		return err
	}
	src.Balance -= amount
	dst.Balance = credited
	t.put(src)
	t.put(dst)
	return nil
}

func (t *memTx) EnsureAccount(_ context.Context, addr, asset, owner common.Address) error {
	if acct, ok := t.state.Accounts[addr]; ok {
		if acct.Asset != asset {
			return fmt.Errorf("%w: account %s holds %s", amm.ErrAssetMismatch, addr.Hex(), acct.Asset.Hex())
		}
		if acct.Owner != owner || acct.Custody {
			return fmt.Errorf("%w: %s", amm.ErrAccountExists, addr.Hex())
		}
		return nil
	}
	t.put(Account{Address: addr, Asset: asset, Owner: owner})
	return nil
}

func (t *memTx) OpenCustody(_ context.Context, addr, asset, pool common.Address) error {
	if _, ok := t.state.Accounts[addr]; ok {
		return fmt.Errorf("%w: %s", amm.ErrAccountExists, addr.Hex())
	}
	t.put(Account{Address: addr, Asset: asset, Owner: pool, Custody: true})
	return nil
}

func (t *memTx) CreateMint(_ context.Context, mint, mintAuthority common.Address) error {
	if _, ok := t.state.Mints[mint]; ok {
		return fmt.Errorf("%w: mint %s", amm.ErrAccountExists, mint.Hex())
	}
	t.state.Mints[mint] = Mint{Address: mint, Authority: mintAuthority}
	t.dirty = true
	return nil
}

func (t *memTx) mint(addr common.Address) (Mint, error) {
	m, ok := t.state.Mints[addr]
	if !ok {
		return Mint{}, fmt.Errorf("%w: mint %s", amm.ErrAccountNotFound, addr.Hex())
	}
	return m, nil
}

func (t *memTx) Mint(_ context.Context, mint, to common.Address, amount uint64, signer authority.Signer) error {
	m, err := t.mint(mint)
	if err != nil {
		return err
	}
	if err := amm.Authorize(signer, m.Authority, true); err != nil {
		return err
	}
	dst, err := t.account(to)
	if err != nil {
		return err
	}
	if dst.Asset != mint {
		return fmt.Errorf("%w: account %s holds %s", amm.ErrAssetMismatch, to.Hex(), dst.Asset.Hex())
	}
	supply, err := add64(m.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := add64(dst.Balance, amount)
	if err != nil {
		return err
	}
	m.Supply = supply
	dst.Balance = balance
	t.state.Mints[mint] = m
	t.put(dst)
	return nil
}

func (t *memTx) Burn(_ context.Context, mint, from common.Address, amount uint64, signer authority.Signer) error {
	m, err := t.mint(mint)
	if err != nil {
		return err
	}
	src, err := t.account(from)
	if err != nil {
		return fmt.Errorf("%w: no shares held", amm.ErrInsufficientFunds)
	}
	if src.Asset != mint {
		return fmt.Errorf("%w: account %s holds %s", amm.ErrAssetMismatch, from.Hex(), src.Asset.Hex())
	}
	if err := amm.Authorize(signer, src.Owner, src.Custody); err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s holds %d shares, needs %d", amm.ErrInsufficientFunds, from.Hex(), src.Balance, amount)
	}
	if m.Supply < amount {
		return fmt.Errorf("%w: mint supply below burn", amm.ErrArithmeticUnderflow)
	}
	m.Supply -= amount
	src.Balance -= amount
	t.state.Mints[mint] = m
	t.put(src)
	return nil
}

func (t *memTx) LoadPool(_ context.Context, id common.Address) (model.PoolRecord, error) {
	rec, ok := t.state.Pools[id]
	if !ok {
		return model.PoolRecord{}, fmt.Errorf("%w: %s", amm.ErrPoolNotFound, id.Hex())
	}
	return rec, nil
}

func (t *memTx) CreatePool(_ context.Context, rec model.PoolRecord) error {
	if _, ok := t.state.Pools[rec.ID]; ok {
		return fmt.Errorf("%w: %s", amm.ErrPoolExists, rec.ID.Hex())
	}
	t.state.Pools[rec.ID] = rec
	t.dirty = true
	return nil
}

func (t *memTx) SetTotalShares(_ context.Context, id common.Address, total uint64) error {
	rec, ok := t.state.Pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", amm.ErrPoolNotFound, id.Hex())
	}
	rec.TotalShares = total
	t.state.Pools[id] = rec
	t.dirty = true
	return nil
}

func (t *memTx) Credit(_ context.Context, addr common.Address, amount uint64) error {
	acct, err := t.account(addr)
	if err != nil {
		return err
	}
	if acct.Custody {
		return fmt.Errorf("%w: cannot credit custody account %s", amm.ErrUnauthorized, addr.Hex())
	}
	balance, err := add64(acct.Balance, amount)
	if err != nil {
		return err
	}
	acct.Balance = balance
	t.put(acct)
	return nil
}

func add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, amm.ErrArithmeticOverflow
	}
	return sum, nil
}
