package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/health-ledger/internal/ledger"
	"github.com/jwalitptl/health-ledger/internal/model"
)

// journalLockID serialises appenders across processes sharing the database.
const journalLockID = 0x6c656467

const Schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	seq          BIGINT PRIMARY KEY,
	op           TEXT NOT NULL,
	caller       TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	contact      TEXT NOT NULL DEFAULT '',
	is_provider  BOOLEAN NOT NULL DEFAULT FALSE,
	patient      TEXT NOT NULL DEFAULT '',
	provider     TEXT NOT NULL DEFAULT '',
	content_ref  TEXT NOT NULL DEFAULT '',
	record_type  TEXT NOT NULL DEFAULT '',
	record_id    BIGINT NOT NULL DEFAULT 0,
	granted      BOOLEAN NOT NULL DEFAULT FALSE,
	prev_hash    TEXT NOT NULL DEFAULT '',
	hash         TEXT NOT NULL UNIQUE
);
`

const selectColumns = `seq, op, caller, timestamp, name, contact, is_provider, patient,
	provider, content_ref, record_type, record_id, granted, prev_hash, hash`

type tip struct {
	Seq  uint64 `db:"seq"`
	Hash string `db:"hash"`
}

// Journal stores ledger transactions in the ledger_transactions table.
type Journal struct {
	BaseRepository
}

var _ ledger.Journal = (*Journal)(nil)

func NewJournal(base BaseRepository) *Journal {
	return &Journal{base}
}

// Migrate creates the journal table if it does not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate journal: %w", err)
	}
	return nil
}

func (j *Journal) Append(ctx context.Context, tx *model.Transaction) error {
	err := j.WithTx(ctx, func(dbtx *sqlx.Tx) error {
		if _, err := dbtx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, journalLockID); err != nil {
			return fmt.Errorf("failed to lock journal: %w", err)
		}

		var last tip
		var seq uint64
		prev := ""
		err := dbtx.GetContext(ctx, &last, `SELECT seq, hash FROM ledger_transactions ORDER BY seq DESC LIMIT 1`)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read journal tip: %w", err)
		default:
			seq = last.Seq + 1
			prev = last.Hash
		}

		tx.Seq = seq
		if err := ledger.Seal(tx, prev); err != nil {
			return err
		}

		query := `
			INSERT INTO ledger_transactions (
				seq, op, caller, timestamp, name, contact, is_provider, patient,
				provider, content_ref, record_type, record_id, granted, prev_hash, hash
			) VALUES (
				:seq, :op, :caller, :timestamp, :name, :contact, :is_provider, :patient,
				:provider, :content_ref, :record_type, :record_id, :granted, :prev_hash, :hash
			)
		`
		if _, err := dbtx.NamedExecContext(ctx, query, tx); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		tx.Hash, tx.PrevHash = "", ""
		return err
	}
	return nil
}

func (j *Journal) ReadFrom(ctx context.Context, seq uint64, limit int) ([]*model.Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_transactions WHERE seq >= $1 ORDER BY seq ASC`
	args := []interface{}{seq}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var txs []*model.Transaction
	if err := j.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	for _, tx := range txs {
		tx.Timestamp = tx.Timestamp.UTC()
	}
	return txs, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
