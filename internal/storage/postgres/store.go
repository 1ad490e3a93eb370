package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapCore/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_events (
	id          BIGSERIAL PRIMARY KEY,
	saga_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	stage       TEXT NOT NULL,
	asset       TEXT,
	account     TEXT,
	amount      NUMERIC(39, 0),
	memo        TEXT,
	receipt_id  TEXT,
	emitted_by  TEXT,
	emitted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS saga_events_saga_id_idx ON saga_events (saga_id, id);
`

// Store persists the saga journal in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the journal table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutEvents inserts a batch of saga events.
func (s *Store) PutEvents(ctx context.Context, events []model.SagaEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		var amount *string
		if e.Amount != nil {
			v := e.Amount.String()
			amount = &v
		}
		emittedAt := time.Now().UTC()
		if e.EmittedAt != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, e.EmittedAt); err == nil {
				emittedAt = parsed
			}
		}
		batch.Queue(`
			INSERT INTO saga_events (
				saga_id, kind, stage, asset, account, amount, memo, receipt_id, emitted_by, emitted_at
			) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6::text::numeric, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)
		`,
			e.SagaID,
			string(e.Kind),
			string(e.Stage),
			string(e.Asset),
			string(e.Account),
			amount,
			e.Memo,
			e.ReceiptID,
			string(e.EmittedBy),
			emittedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// EventsBySaga returns the journal of one saga in insertion order.
func (s *Store) EventsBySaga(ctx context.Context, sagaID string) ([]model.SagaEvent, error) {
	if sagaID == "" {
		return nil, fmt.Errorf("saga id required")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT saga_id, kind, stage, COALESCE(asset, ''), COALESCE(account, ''), amount::text,
			COALESCE(memo, ''), COALESCE(receipt_id, ''), COALESCE(emitted_by, ''), emitted_at
		FROM saga_events
		WHERE saga_id = $1
		ORDER BY id
	`, sagaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SagaEvent
	for rows.Next() {
		var (
			e                                      model.SagaEvent
			kind, stage, asset, account, emittedBy string
			amount                                 *string
			emittedAt                              time.Time
		)
		if err := rows.Scan(&e.SagaID, &kind, &stage, &asset, &account, &amount, &e.Memo, &e.ReceiptID, &emittedBy, &emittedAt); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)
		e.Stage = model.Stage(stage)
		e.Asset = model.AccountID(asset)
		e.Account = model.AccountID(account)
		e.EmittedBy = model.AccountID(emittedBy)
		e.EmittedAt = emittedAt.UTC().Format(time.RFC3339Nano)
		if amount != nil {
			parsed, err := model.ParseAmount(*amount)
			if err != nil {
				return nil, fmt.Errorf("decode amount of saga %s: %w", sagaID, err)
			}
			e.Amount = &parsed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
