package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testdataDir(name string) string {
	return filepath.Join("..", "..", "testdata", name)
}

func loadCode(t *testing.T, err error) string {
	t.Helper()
	var lerr *LoadError
	require.True(t, errors.As(err, &lerr), "expected *LoadError, got %T", err)
	return lerr.Code
}

func TestLoadRules(t *testing.T) {
	result, errs := LoadRules(testdataDir("rules"), LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Rules, 4)

	names := make(map[string]bool)
	for _, r := range result.Rules {
		names[r.Name] = true
	}
	assert.Equal(t, map[string]bool{"customer_id": true, "one_student": true, "referrer": true, "channel": true}, names)
}

func TestLoadRuleSet(t *testing.T) {
	set, err := LoadRuleSet(testdataDir("rules"))
	require.NoError(t, err)
	assert.Len(t, set, 4)
}

func TestLoadRulesInvalidCollectAll(t *testing.T) {
	_, errs := LoadRules(testdataDir("rules_invalid"), LoadModeCollectAll)
	require.Len(t, errs, 3)

	got := make(map[string]bool)
	for _, err := range errs {
		got[loadCode(t, err)] = true
	}
	assert.True(t, got[ErrMissingKind])
	assert.True(t, got[ErrInvalidSources])
	assert.True(t, got[ErrDuplicateTarget])
}

func TestLoadRulesInvalidFailFast(t *testing.T) {
	_, errs := LoadRules(testdataDir("rules_invalid"), LoadModeFailFast)
	require.Len(t, errs, 1)

	_, err := LoadRuleSet(testdataDir("rules_invalid"))
	require.Error(t, err)
}

func TestLoadRulesNotFound(t *testing.T) {
	result, errs := LoadRules("/nonexistent/rules", LoadModeFailFast)
	assert.Nil(t, result)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNotFound, loadCode(t, errs[0]))
}

func TestLoadRulesNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(file, []byte("rule: {}\n"), 0o644))

	_, errs := LoadRules(file, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNotFound, loadCode(t, errs[0]))
}

func TestLoadRulesNoFiles(t *testing.T) {
	_, errs := LoadRules(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNoFiles, loadCode(t, errs[0]))
}

func TestLoadRulesIgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	rule := "package kinrule\n\nrule: r: {kind: \"priority_fallback\", target: \"a\", sources: [\"b\"]}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "rules.cue"), []byte(rule), 0o644))

	_, errs := LoadRules(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNoFiles, loadCode(t, errs[0]))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(rule), 0o644))
	result, errs := LoadRules(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 1, result.FileCount)
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.cue"), 0o755))
	for _, name := range []string{"b.cue", "a.cue", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.cue"), filepath.Join(dir, "b.cue")}, files)
}

func TestLoadRulesSyntaxError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte("rule: r: {\n"), 0o644))

	_, errs := LoadRules(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeLoadFailed, loadCode(t, errs[0]))
}

func TestCompileRulesNoRules(t *testing.T) {
	v := cuecontext.New().CompileString(`other: 1`)
	_, errs := CompileRules(v, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeGeneric, loadCode(t, errs[0]))
}

func TestCompileRulesPositions(t *testing.T) {
	v := cuecontext.New().CompileString("rule: a: {\n\tkind: \"identifier\"\n\ttarget: \"x\"\n}\nrule: b: {\n\tkind: \"identifier\"\n\ttarget: \"x\"\n}\n")
	_, errs := CompileRules(v, LoadModeCollectAll)
	require.Len(t, errs, 1)

	var lerr *LoadError
	require.ErrorAs(t, errs[0], &lerr)
	assert.Equal(t, ErrDuplicateTarget, lerr.Code)
	assert.Contains(t, lerr.Message, "rule.b.target")
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrMissingKind, MapFieldToErrorCode("kind"))
	assert.Equal(t, ErrInvalidKeyword, MapFieldToErrorCode("column"))
	assert.Equal(t, ErrInvalidPadding, MapFieldToErrorCode("padding"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("cue"))
}
