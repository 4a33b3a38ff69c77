package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/kinrule/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDispatch creates a dispatch with one derivation and one
// successful update.
func createTestDispatch(id string, seq int64, appID, recordID string) ir.DispatchRecord {
	return ir.DispatchRecord{
		ID:            id,
		Seq:           seq,
		Event:         "app.record.create.submit.success",
		AppID:         appID,
		RecordID:      recordID,
		RecordNumber:  42,
		EngineVersion: ir.EngineVersion,
		Derivations: []ir.DerivationRecord{
			{Rule: "customer_id", Field: "purchaser_id", Before: `""`, After: `"C-0000042"`, Changed: true},
		},
		Updates: []ir.UpdateRecord{
			{
				Key:      "key-" + id,
				Rule:     "customer_id",
				AppID:    appID,
				RecordID: recordID,
				Fields:   `{"purchaser_id":"C-0000042"}`,
				Status:   200,
				Revision: "2",
			},
		},
	}
}

// failed marks the dispatch's first update as failed.
func failed(rec ir.DispatchRecord, msg string) ir.DispatchRecord {
	rec.Updates[0].Status = 500
	rec.Updates[0].Revision = ""
	rec.Updates[0].Error = msg
	return rec
}
