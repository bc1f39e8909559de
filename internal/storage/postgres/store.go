// Package postgres implements the amm ledger collaborators on Postgres with
// serializable transactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ammLedger/internal/amm"
	"ammLedger/internal/model"
)

// Options tunes conflict handling.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Store provides Postgres persistence for pools, accounts, mints and the
// operation journal.
type Store struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

var _ amm.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string, opts Options, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, opts: opts, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InTx runs fn inside a serializable transaction. Serialization failures
// re-run fn from scratch with fresh reads.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx amm.Tx) error) error {
	attempt := 0
	return withRetry(ctx, s.opts.MaxRetries, s.opts.RetryBackoff, isRetryable, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.logger.Debug("retrying transaction", zap.Int("attempt", attempt))
		}
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx amm.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PutOperations appends committed operations to amm_operations.
func (s *Store) PutOperations(ops []model.OperationRecord) error {
	if len(ops) == 0 {
		return nil
	}
	ctx := context.Background()
	batch := &pgx.Batch{}
	for _, op := range ops {
		var direction *string
		if op.Direction != nil {
			d := op.Direction.String()
			direction = &d
		}
		batch.Queue(`
			INSERT INTO amm_operations (
				op_id, kind, pool, actor, direction, amount_a, amount_b, amount_in, amount_out,
				shares, reserve_a, reserve_b, total_shares, recorded_at
			) VALUES (
				$1::text::uuid, $2, $3, NULLIF($4, ''), $5,
				$6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric,
				$10::text::numeric, $11::text::numeric, $12::text::numeric, $13::text::numeric, $14
			)
			ON CONFLICT (op_id) DO NOTHING
		`,
			opID(op.ID),
			string(op.Kind),
			op.Pool,
			op.Actor,
			direction,
			num(op.AmountA),
			num(op.AmountB),
			num(op.AmountIn),
			num(op.AmountOut),
			num(op.Shares),
			num(op.ReserveA),
			num(op.ReserveB),
			num(op.TotalShares),
			op.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ops {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
	}
	return nil
}

// Operations returns the journal of one pool in commit order.
func (s *Store) Operations(ctx context.Context, pool string) ([]model.OperationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT op_id::text, kind, pool, COALESCE(actor, ''), COALESCE(direction, ''),
			COALESCE(amount_a, 0)::text, COALESCE(amount_b, 0)::text,
			COALESCE(amount_in, 0)::text, COALESCE(amount_out, 0)::text,
			COALESCE(shares, 0)::text, reserve_a::text, reserve_b::text, total_shares::text, recorded_at
		FROM amm_operations WHERE pool = $1 ORDER BY id
	`, pool)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []model.OperationRecord
	for rows.Next() {
		var (
			op        model.OperationRecord
			kind, dir string
			amounts   [8]string
		)
		if err := rows.Scan(&op.ID, &kind, &op.Pool, &op.Actor, &dir,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3],
			&amounts[4], &amounts[5], &amounts[6], &amounts[7], &op.Timestamp); err != nil {
			return nil, err
		}
		op.Kind = model.OperationKind(kind)
		if dir != "" {
			d, err := model.ParseDirection(dir)
			if err != nil {
				return nil, err
			}
			op.Direction = &d
		}
		targets := []*uint64{&op.AmountA, &op.AmountB, &op.AmountIn, &op.AmountOut, &op.Shares, &op.ReserveA, &op.ReserveB, &op.TotalShares}
		for i, text := range amounts {
			v, err := parseNum(text)
			if err != nil {
				return nil, err
			}
			*targets[i] = v
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// opID keeps records written without an id insertable.
func opID(id string) string {
	if _, err := uuid.Parse(id); err != nil {
		return uuid.NewString()
	}
	return id
}

func num(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseNum(text string) (uint64, error) {
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, amm.ErrArithmeticOverflow
		}
		return 0, fmt.Errorf("parse numeric %q: %w", text, err)
	}
	return v, nil
}
