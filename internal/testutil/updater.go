package testutil

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/roach88/kinrule/internal/ir"
)

// FakeUpdater records remote updates instead of sending them.
//
// Updates for a record listed with FailRecord fail with the given status;
// every other update succeeds with revision "<n>" where n counts successful
// writes. Implements engine.Updater.
type FakeUpdater struct {
	mu      sync.Mutex
	calls   []ir.RemoteUpdate
	fail    map[string]int // "app/id" -> status
	written int
}

// NewFakeUpdater creates an updater that accepts every update.
func NewFakeUpdater() *FakeUpdater {
	return &FakeUpdater{fail: make(map[string]int)}
}

// FailRecord makes updates of one record fail with status.
func (f *FakeUpdater) FailRecord(appID, recordID string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[appID+"/"+recordID] = status
}

// UpdateRecord implements engine.Updater.
func (f *FakeUpdater) UpdateRecord(ctx context.Context, upd ir.RemoteUpdate) ir.UpdateResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, ir.RemoteUpdate{AppID: upd.AppID, RecordID: upd.RecordID, Fields: upd.Fields.Clone()})
	if err := ctx.Err(); err != nil {
		return ir.Failed(0, err)
	}
	if status, ok := f.fail[upd.AppID+"/"+upd.RecordID]; ok {
		return ir.Failed(status, fmt.Errorf("fake: %s", http.StatusText(status)))
	}
	f.written++
	return ir.Succeeded(strconv.Itoa(f.written), http.StatusOK)
}

// Calls returns every update received, in order.
func (f *FakeUpdater) Calls() []ir.RemoteUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ir.RemoteUpdate, len(f.calls))
	copy(out, f.calls)
	return out
}
