package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ammLedger/internal/model"
)

// Snapshot is the on-disk form of a ledger.
type Snapshot struct {
	Accounts  []Account          `json:"accounts"`
	Mints     []Mint             `json:"mints"`
	Pools     []model.PoolRecord `json:"pools"`
	UpdatedAt string             `json:"updated_at"`
}

// SnapshotStore persists ledger state to a JSON file.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (c *SnapshotStore) Load() (State, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), false, nil
		}
		return State{}, false, fmt.Errorf("stat snapshot: %w", err)
	}
	if stat.IsDir() {
		return State{}, false, fmt.Errorf("snapshot path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return State{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return State{}, false, fmt.Errorf("parse snapshot: %w", err)
	}

	state := newState()
	for _, a := range snap.Accounts {
		state.Accounts[a.Address] = a
	}
	for _, m := range snap.Mints {
		state.Mints[m.Address] = m
	}
	for _, p := range snap.Pools {
		state.Pools[p.ID] = p
	}
	return state, true, nil
}

func (c *SnapshotStore) Save(state State) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	snap := Snapshot{
		Accounts:  make([]Account, 0, len(state.Accounts)),
		Mints:     make([]Mint, 0, len(state.Mints)),
		Pools:     make([]model.PoolRecord, 0, len(state.Pools)),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, a := range state.Accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	for _, m := range state.Mints {
		snap.Mints = append(snap.Mints, m)
	}
	for _, p := range state.Pools {
		snap.Pools = append(snap.Pools, p)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return less(snap.Accounts[i].Address, snap.Accounts[j].Address) })
	sort.Slice(snap.Mints, func(i, j int) bool { return less(snap.Mints[i].Address, snap.Mints[j].Address) })
	sort.Slice(snap.Pools, func(i, j int) bool { return less(snap.Pools[i].ID, snap.Pools[j].ID) })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func less(a, b common.Address) bool {
	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}
