package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinrule/internal/rules"
	"github.com/roach88/kinrule/internal/store"
	"github.com/roach88/kinrule/internal/webhook"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func keepDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestServeInvalidRules(t *testing.T) {
	keepDefaultLogger(t)

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{rulesDir("rules_invalid"), "--addr", freeAddr(t)})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load rules")
}

func TestServeAddrInUse(t *testing.T) {
	keepDefaultLogger(t)
	t.Setenv(EnvBaseURL, "")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{rulesDir("rules"), "--addr", l.Addr().String()})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "http:")
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not fail on a busy address")
	}
}

func TestServeEndToEnd(t *testing.T) {
	keepDefaultLogger(t)
	t.Setenv(EnvBaseURL, "")

	addr := freeAddr(t)
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	out := &bytes.Buffer{}

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{rulesDir("rules"), "--addr", addr, "--db", dbPath, "--webhook-token", "s3cret"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// Without the shared secret nothing is dispatched.
	resp, err := http.Post(base+"/events", "application/json", strings.NewReader(createSuccessEnvelope))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/events", strings.NewReader(editSubmitEnvelope))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderToken, "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Seq    int64                      `json:"seq"`
		Event  string                     `json:"event"`
		Record map[string]json.RawMessage `json:"record"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(1), body.Seq)
	assert.Equal(t, "app.record.edit.submit", body.Event)
	assert.JSONEq(t, `{"value":"ONE生徒"}`, string(body.Record["student_class"]))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
	assert.Contains(t, out.String(), "kinrule serving 4 rule(s) on "+addr)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	recs, err := st.ReadDispatches(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "app.record.edit.submit", recs[0].Event)
}

type fakeReloader struct {
	sets chan []rules.Rule
}

func (f *fakeReloader) Reload(set []rules.Rule) bool {
	f.sets <- set
	return true
}

const watchedRules = `package kinrule

rule: customer_id: {
	kind:   "identifier"
	target: "purchaser_id"
}
`

const watchedRulesGrown = `package kinrule

rule: customer_id: {
	kind:   "identifier"
	target: "purchaser_id"
}

rule: referrer: {
	kind:    "priority_fallback"
	target:  "referrer"
	sources: ["referrer_manual", "referrer_form"]
}
`

// writeUntilReload rewrites the file until the watcher reports a set of
// wantLen rules. The first writes may land before the watcher is registered,
// and late reloads of an earlier content are skipped.
func writeUntilReload(t *testing.T, path, content string, r *fakeReloader, wantLen int) []rules.Rule {
	t.Helper()
	for n := 0; n < 20; n++ {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		timeout := time.After(500 * time.Millisecond)
	wait:
		for {
			select {
			case set := <-r.sets:
				if len(set) == wantLen {
					return set
				}
			case <-timeout:
				break wait
			}
		}
	}
	t.Fatal("rules were never reloaded")
	return nil
}

func TestWatchRulesReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(watchedRules), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReloader{sets: make(chan []rules.Rule, 64)}
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { done <- watchRules(ctx, logger, dir, r, 20*time.Millisecond) }()

	set := writeUntilReload(t, path, watchedRulesGrown, r, 2)
	require.Len(t, set, 2)
	assert.Equal(t, "customer_id", set[0].Name())
	assert.Equal(t, "referrer", set[1].Name())

	// A broken edit never reaches the engine; the next good one does.
	require.NoError(t, os.WriteFile(path, []byte("package kinrule\n\nrule: broken: {target: \"x\"}\n"), 0o644))
	set = writeUntilReload(t, path, watchedRules, r, 1)
	require.Len(t, set, 1)
	assert.Equal(t, "customer_id", set[0].Name())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatchRulesMissingDir(t *testing.T) {
	r := &fakeReloader{sets: make(chan []rules.Rule, 1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := watchRules(context.Background(), logger, filepath.Join(t.TempDir(), "missing"), r, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch")
}
