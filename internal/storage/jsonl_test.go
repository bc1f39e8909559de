package storage

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"ammLedger/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ops.jsonl")
	s := NewJsonlStorage(path)

	dir := model.BToA
	first := []model.OperationRecord{
		{Kind: model.OpInitialize, Pool: "0x01", Timestamp: "2024-01-01T00:00:00Z"},
		{Kind: model.OpDeposit, Pool: "0x01", Actor: "0x02", AmountA: 1000, AmountB: 1000, Shares: 1000, ReserveA: 1000, ReserveB: 1000, TotalShares: 1000},
	}
	second := []model.OperationRecord{
		{Kind: model.OpSwap, Pool: "0x01", Actor: "0x02", Direction: &dir, AmountIn: 100, AmountOut: 90, ReserveA: 910, ReserveB: 1100, TotalShares: 1000},
	}
	if err := s.PutOperations(first); err != nil {
		t.Fatalf("put first batch: %v", err)
	}
	if err := s.PutOperations(nil); err != nil {
		t.Fatalf("put empty batch: %v", err)
	}
	if err := s.PutOperations(second); err != nil {
		t.Fatalf("put second batch: %v", err)
	}

	got, err := ReadOperations(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := append(append([]model.OperationRecord{}, first...), second...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("records mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestReadOperationsMissingFile(t *testing.T) {
	got, err := ReadOperations(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

type failingJournal struct{ calls int }

func (f *failingJournal) PutOperations([]model.OperationRecord) error {
	f.calls++
	return errors.New("boom")
}

func TestMultiStopsAtFirstError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	failing := &failingJournal{}
	after := &failingJournal{}
	m := Multi{NewJsonlStorage(path), nil, failing, after}

	if err := m.PutOperations([]model.OperationRecord{{Kind: model.OpInitialize}}); err == nil {
		t.Fatalf("expected error")
	}
	if failing.calls != 1 || after.calls != 0 {
		t.Fatalf("unexpected calls: failing=%d after=%d", failing.calls, after.calls)
	}
	got, err := ReadOperations(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected first journal to be written, got %d records", len(got))
	}
}
