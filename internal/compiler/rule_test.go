package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinrule/internal/rules"
)

func compileOne(t *testing.T, src, path string) (*rules.Config, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileRule(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileRuleIdentifier(t *testing.T) {
	cfg, err := compileOne(t, `
		rule: customer_id: {
			kind:    "identifier"
			target:  "purchaser_id"
			prefix:  "C-"
			padding: 7
			apps:    ["12", "13"]
		}
	`, "rule.customer_id")
	require.NoError(t, err)

	assert.Equal(t, "customer_id", cfg.Name)
	assert.Equal(t, rules.KindIdentifier, cfg.Kind)
	assert.Equal(t, "purchaser_id", cfg.TargetField)
	assert.Equal(t, "C-", cfg.IDPrefix)
	assert.Equal(t, 7, cfg.PaddingWidth)
	assert.Equal(t, []string{"12", "13"}, cfg.Apps)
}

func TestCompileRuleIdentifierDefaults(t *testing.T) {
	cfg, err := compileOne(t, `
		rule: id: {
			kind:   "identifier"
			target: "code"
		}
	`, "rule.id")
	require.NoError(t, err)

	assert.Equal(t, rules.DefaultIDPrefix, cfg.IDPrefix)
	assert.Equal(t, 0, cfg.PaddingWidth) // rules applies DefaultPaddingWidth

	cfg, err = compileOne(t, `rule: id: { kind: "identifier", target: "code", prefix: "" }`, "rule.id")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.IDPrefix)
}

func TestCompileRuleKeywordTable(t *testing.T) {
	cfg, err := compileOne(t, `
		rule: one_student: {
			kind:           "keyword_table"
			target:         "student_class"
			table:          "courses"
			column:         "type"
			keyword:        "バックエンド"
			label:          "ONE生徒"
			retain_on_miss: true
		}
	`, "rule.one_student")
	require.NoError(t, err)

	assert.Equal(t, rules.KindKeywordTable, cfg.Kind)
	assert.Equal(t, "courses", cfg.TableField)
	assert.Equal(t, "type", cfg.SubField)
	assert.Equal(t, "バックエンド", cfg.Keyword)
	assert.Equal(t, "ONE生徒", cfg.Label)
	assert.True(t, cfg.RetainOnMiss)
}

func TestCompileRulePriorityFallbackKeepsOrder(t *testing.T) {
	cfg, err := compileOne(t, `
		rule: referrer: {
			kind:    "priority_fallback"
			target:  "referrer"
			sources: ["c", "a", "b"]
		}
	`, "rule.referrer")
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, cfg.SourceFields)
}

func TestCompileRuleQuotedName(t *testing.T) {
	cfg, err := compileOne(t, `
		rule: "referrer-2": {
			kind:    "priority_fallback"
			target:  "referrer"
			sources: ["a"]
		}
	`, `rule."referrer-2"`)
	require.NoError(t, err)
	assert.Equal(t, "referrer-2", cfg.Name)
}

func TestCompileRuleErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing kind", `rule: r: { target: "t" }`, "kind"},
		{"kind not string", `rule: r: { kind: 1, target: "t" }`, "kind"},
		{"unknown field", `rule: r: { kind: "identifier", target: "t", colour: "red" }`, "colour"},
		{"target not string", `rule: r: { kind: "identifier", target: ["t"] }`, "target"},
		{"padding float", `rule: r: { kind: "identifier", target: "t", padding: 7.5 }`, "padding"},
		{"sources not list", `rule: r: { kind: "priority_fallback", target: "t", sources: "a" }`, "sources"},
		{"sources not strings", `rule: r: { kind: "priority_fallback", target: "t", sources: ["a", 2] }`, "sources"},
		{"retain not bool", `rule: r: { kind: "keyword_table", target: "t", retain_on_miss: "yes" }`, "retain_on_miss"},
		{"apps not list", `rule: r: { kind: "identifier", target: "t", apps: "12" }`, "apps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, tt.src, "rule.r")
			require.Error(t, err)

			var cerr *CompileError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "kind", Message: "kind is required"}
	assert.Equal(t, "kind: kind is required", err.Error())

	_, cerr := compileOne(t, "rule: r: {\n\ttarget: \"t\"\n}\n", "rule.r")
	require.Error(t, cerr)
	assert.Contains(t, cerr.Error(), "kind is required")
}
