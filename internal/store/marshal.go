package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kinrule/internal/ir"
)

// validateDispatch rejects records the schema would accept but the log
// cannot order or address.
func validateDispatch(rec ir.DispatchRecord) error {
	switch {
	case rec.ID == "":
		return errors.New("dispatch id is required")
	case rec.Seq <= 0:
		return fmt.Errorf("dispatch %s: seq must be positive, got %d", rec.ID, rec.Seq)
	case rec.Event == "":
		return fmt.Errorf("dispatch %s: event is required", rec.ID)
	}
	for i, u := range rec.Updates {
		if u.Key == "" {
			return fmt.Errorf("dispatch %s: update %d: key is required", rec.ID, i)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispatch(row rowScanner) (ir.DispatchRecord, error) {
	var rec ir.DispatchRecord
	err := row.Scan(
		&rec.ID,
		&rec.Seq,
		&rec.Event,
		&rec.AppID,
		&rec.RecordID,
		&rec.RecordNumber,
		&rec.EngineVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.DispatchRecord{}, err
		}
		return ir.DispatchRecord{}, fmt.Errorf("scan dispatch: %w", err)
	}
	return rec, nil
}

func scanDerivation(row rowScanner) (ir.DerivationRecord, error) {
	var (
		d       ir.DerivationRecord
		changed int
	)
	if err := row.Scan(&d.Rule, &d.Field, &d.Before, &d.After, &changed, &d.Skip); err != nil {
		return ir.DerivationRecord{}, fmt.Errorf("scan derivation: %w", err)
	}
	d.Changed = changed != 0
	return d, nil
}

func scanUpdate(row rowScanner) (ir.UpdateRecord, error) {
	var u ir.UpdateRecord
	err := row.Scan(&u.Key, &u.Rule, &u.AppID, &u.RecordID, &u.Fields, &u.Status, &u.Revision, &u.Error)
	if err != nil {
		return ir.UpdateRecord{}, fmt.Errorf("scan update: %w", err)
	}
	return u, nil
}
