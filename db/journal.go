package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

// Journal is an append-only record of every command sent to the controller.
type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Record(ctx context.Context, rec model.CommandRecord) error {
	var args []byte
	if len(rec.Args) > 0 {
		var err error
		if args, err = json.Marshal(rec.Args); err != nil {
			return fmt.Errorf("marshal args: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO command_journal (id, issued_at, op, target, args, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IssuedAt.UTC().UnixMilli(), rec.Op, rec.Target, nullString(string(args)),
		rec.Duration.Milliseconds(), nullString(rec.Error))
	if err != nil {
		return fmt.Errorf("insert command %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit commands, newest first. A non-empty target filters to it.
func (j *Journal) Recent(ctx context.Context, target string, limit int) ([]model.CommandRecord, error) {
	query := `SELECT id, issued_at, op, target, args, duration_ms, error FROM command_journal`
	var params []any
	if target != "" {
		query += ` WHERE target = ?`
		params = append(params, target)
	}
	query += ` ORDER BY issued_at DESC LIMIT ?`
	params = append(params, limit)

	rows, err := j.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []model.CommandRecord
	for rows.Next() {
		var (
			rec        model.CommandRecord
			issuedAt   int64
			durationMS int64
			args, errS sql.NullString
		)
		if err := rows.Scan(&rec.ID, &issuedAt, &rec.Op, &rec.Target, &args, &durationMS, &errS); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		rec.IssuedAt = time.UnixMilli(issuedAt).UTC()
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errS.String
		if args.Valid && args.String != "" {
			if err := json.Unmarshal([]byte(args.String), &rec.Args); err != nil {
				return nil, fmt.Errorf("decode args for %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes entries issued before the cutoff and reports how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := StartTransaction(j.db)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM command_journal WHERE issued_at < ?`, before.UTC().UnixMilli())
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	if err := CommitTransaction(tx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
