package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/kinrule/internal/ir"
)

// Filter narrows ReadDispatches. Zero fields match everything.
type Filter struct {
	AppID    string
	RecordID string
	// FailedOnly keeps dispatches with at least one failed update.
	FailedOnly bool
	// Limit keeps the most recent N dispatches (still returned in seq order).
	Limit int
}

// FailedUpdate is a failed remote write with the dispatch that issued it.
type FailedUpdate struct {
	DispatchID string
	Seq        int64
	Event      string
	ir.UpdateRecord
}

const dispatchColumns = `id, seq, event, app_id, record_id, record_number, engine_version`

// ReadDispatches returns dispatches matching f with their derivations and
// updates, ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadDispatches(ctx context.Context, f Filter) ([]ir.DispatchRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.AppID != "" {
		where = append(where, "app_id = ?")
		args = append(args, f.AppID)
	}
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.FailedOnly {
		where = append(where, "EXISTS (SELECT 1 FROM updates u WHERE u.dispatch_id = dispatches.id AND u.error <> '')")
	}

	query := "SELECT " + dispatchColumns + " FROM dispatches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		query = "SELECT * FROM (" + query + " ORDER BY seq DESC, id COLLATE BINARY DESC LIMIT ?)"
		args = append(args, f.Limit)
	}
	query += " ORDER BY seq ASC, id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}

	dispatches := []ir.DispatchRecord{}
	for rows.Next() {
		rec, err := scanDispatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		dispatches = append(dispatches, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	// Close before loading children: the pool holds a single connection.
	rows.Close()

	for i := range dispatches {
		if err := s.loadChildren(ctx, &dispatches[i]); err != nil {
			return nil, err
		}
	}
	return dispatches, nil
}

// ReadDispatch retrieves a single dispatch by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadDispatch(ctx context.Context, id string) (ir.DispatchRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+dispatchColumns+" FROM dispatches WHERE id = ?", id)
	rec, err := scanDispatch(row)
	if err != nil {
		return ir.DispatchRecord{}, err
	}
	if err := s.loadChildren(ctx, &rec); err != nil {
		return ir.DispatchRecord{}, err
	}
	return rec, nil
}

// FailedUpdates returns every failed remote write, oldest first.
func (s *Store) FailedUpdates(ctx context.Context) ([]FailedUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.seq, d.event,
		       u.key, u.rule, u.app_id, u.record_id, u.fields, u.status, u.revision, u.error
		FROM updates u
		JOIN dispatches d ON u.dispatch_id = d.id
		WHERE u.error <> ''
		ORDER BY d.seq ASC, d.id COLLATE BINARY ASC, u.ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed updates: %w", err)
	}
	defer rows.Close()

	failed := []FailedUpdate{}
	for rows.Next() {
		var f FailedUpdate
		err := rows.Scan(
			&f.DispatchID, &f.Seq, &f.Event,
			&f.Key, &f.Rule, &f.AppID, &f.RecordID, &f.Fields, &f.Status, &f.Revision, &f.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed update: %w", err)
		}
		failed = append(failed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed updates: %w", err)
	}
	return failed, nil
}

func (s *Store) loadChildren(ctx context.Context, rec *ir.DispatchRecord) error {
	derivations, err := s.readDerivations(ctx, rec.ID)
	if err != nil {
		return err
	}
	updates, err := s.readUpdates(ctx, rec.ID)
	if err != nil {
		return err
	}
	rec.Derivations = derivations
	rec.Updates = updates
	return nil
}

func (s *Store) readDerivations(ctx context.Context, dispatchID string) ([]ir.DerivationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, field, before, after, changed, skip
		FROM derivations
		WHERE dispatch_id = ?
		ORDER BY ordinal ASC
	`, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("query derivations: %w", err)
	}
	defer rows.Close()

	var out []ir.DerivationRecord
	for rows.Next() {
		d, err := scanDerivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derivations: %w", err)
	}
	return out, nil
}

func (s *Store) readUpdates(ctx context.Context, dispatchID string) ([]ir.UpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, rule, app_id, record_id, fields, status, revision, error
		FROM updates
		WHERE dispatch_id = ?
		ORDER BY ordinal ASC
	`, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	var out []ir.UpdateRecord
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return out, nil
}
