package store

import (
	"context"
	"fmt"

	"github.com/roach88/kinrule/internal/ir"
)

// WriteDispatch stores a dispatch with its derivations and updates in one
// transaction. Uses ON CONFLICT(id) DO NOTHING for idempotency: rewriting a
// known dispatch id leaves the stored rows untouched and returns nil.
func (s *Store) WriteDispatch(ctx context.Context, rec ir.DispatchRecord) error {
	if err := validateDispatch(rec); err != nil {
		return fmt.Errorf("write dispatch: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write dispatch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO dispatches
		(id, seq, event, app_id, record_id, record_number, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		rec.Event,
		rec.AppID,
		rec.RecordID,
		rec.RecordNumber,
		rec.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("write dispatch %s: %w", rec.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write dispatch %s: rows affected: %w", rec.ID, err)
	}
	if rows == 0 {
		return tx.Commit()
	}

	for i, d := range rec.Derivations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO derivations
			(dispatch_id, ordinal, rule, field, before, after, changed, skip)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, i, d.Rule, d.Field, d.Before, d.After, boolToInt(d.Changed), d.Skip)
		if err != nil {
			return fmt.Errorf("write dispatch %s: derivation %d: %w", rec.ID, i, err)
		}
	}

	for i, u := range rec.Updates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO updates
			(dispatch_id, ordinal, key, rule, app_id, record_id, fields, status, revision, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, i, u.Key, u.Rule, u.AppID, u.RecordID, u.Fields, u.Status, u.Revision, u.Error)
		if err != nil {
			return fmt.Errorf("write dispatch %s: update %d: %w", rec.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write dispatch %s: commit: %w", rec.ID, err)
	}
	return nil
}
