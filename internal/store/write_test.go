package store

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/kinrule/internal/ir"
)

func TestWriteDispatch_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestDispatch("d1", 1, "12", "42")
	want.Derivations = append(want.Derivations, ir.DerivationRecord{
		Rule: "one_student", Field: "type", Skip: "target_absent",
	})

	if err := s.WriteDispatch(ctx, want); err != nil {
		t.Fatalf("WriteDispatch() failed: %v", err)
	}

	got, err := s.ReadDispatch(ctx, "d1")
	if err != nil {
		t.Fatalf("ReadDispatch() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadDispatch() mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDispatch_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestDispatch("d1", 1, "12", "42")
	if err := s.WriteDispatch(ctx, first); err != nil {
		t.Fatalf("first WriteDispatch() failed: %v", err)
	}

	second := failed(createTestDispatch("d1", 9, "12", "42"), "boom")
	if err := s.WriteDispatch(ctx, second); err != nil {
		t.Fatalf("duplicate WriteDispatch() should be silently ignored, got: %v", err)
	}

	got, err := s.ReadDispatch(ctx, "d1")
	if err != nil {
		t.Fatalf("ReadDispatch() failed: %v", err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("duplicate write changed the stored dispatch (-want +got):\n%s", diff)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM updates").Scan(&count); err != nil {
		t.Fatalf("count updates: %v", err)
	}
	if count != 1 {
		t.Errorf("updates row count = %d, want 1", count)
	}
}

func TestWriteDispatch_NoChildren(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := ir.DispatchRecord{
		ID:            "d1",
		Seq:           1,
		Event:         "app.record.edit.show",
		AppID:         "12",
		EngineVersion: ir.EngineVersion,
	}
	if err := s.WriteDispatch(ctx, rec); err != nil {
		t.Fatalf("WriteDispatch() failed: %v", err)
	}

	got, err := s.ReadDispatch(ctx, "d1")
	if err != nil {
		t.Fatalf("ReadDispatch() failed: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDispatch_Invalid(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*ir.DispatchRecord)
		wantErr string
	}{
		{"missing id", func(r *ir.DispatchRecord) { r.ID = "" }, "dispatch id is required"},
		{"zero seq", func(r *ir.DispatchRecord) { r.Seq = 0 }, "seq must be positive"},
		{"missing event", func(r *ir.DispatchRecord) { r.Event = "" }, "event is required"},
		{"update without key", func(r *ir.DispatchRecord) { r.Updates[0].Key = "" }, "key is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := createTestDispatch("d1", 1, "12", "42")
			tt.mutate(&rec)
			err := s.WriteDispatch(ctx, rec)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("WriteDispatch() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if seq, _ := s.LastSeq(ctx); seq != 0 {
		t.Errorf("invalid writes must not be stored, LastSeq() = %d", seq)
	}
}

func TestWriteDispatch_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.WriteDispatch(ctx, createTestDispatch("d1", 1, "12", "42")); err == nil {
		t.Fatal("WriteDispatch() with cancelled context should fail")
	}
}
