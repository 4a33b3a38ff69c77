package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinrule/internal/ir"
)

func newTestClassifier(t *testing.T, retain bool) *KeywordTableClassifier {
	t.Helper()
	c, err := NewKeywordTableClassifier(Config{
		Name:         "one_student",
		TargetField:  "student_class",
		TableField:   "courses",
		SubField:     "type",
		Keyword:      "バックエンド",
		Label:        "ONE生徒",
		RetainOnMiss: retain,
	})
	require.NoError(t, err)
	return c
}

func courses(types ...string) ir.Table {
	table := make(ir.Table, 0, len(types))
	for _, typ := range types {
		table = append(table, ir.Row{Fields: ir.Record{"type": ir.Scalar(typ)}})
	}
	return table
}

func TestKeywordTableClassifier_Found(t *testing.T) {
	c := newTestClassifier(t, false)

	rec := ir.Record{
		"student_class": ir.Scalar(""),
		"courses":       courses("フロントエンド", "バックエンド基礎"),
	}
	got, ok := c.Classify(rec)
	require.True(t, ok)
	assert.Equal(t, ir.Scalar("ONE生徒"), got)
}

func TestKeywordTableClassifier_NotFoundClears(t *testing.T) {
	c := newTestClassifier(t, false)

	rec := ir.Record{
		"student_class": ir.Scalar("ONE生徒"),
		"courses":       courses("フロントエンド", "デザイン"),
	}
	got, ok := c.Classify(rec)
	require.True(t, ok)
	assert.Equal(t, ir.Scalar(""), got)
}

func TestKeywordTableClassifier_ReEvaluationIsTotal(t *testing.T) {
	c := newTestClassifier(t, false)

	rec := ir.Record{
		"student_class": ir.Scalar(""),
		"courses":       courses("バックエンド基礎"),
	}
	eff := c.Evaluate(ir.Envelope{Event: ir.On(ir.EditShow), Record: rec})
	require.True(t, eff.Derived)
	assert.Equal(t, ir.Scalar("ONE生徒"), eff.Value)

	// User removes the matching row.
	edited := rec.Clone()
	edited.Set("student_class", eff.Value)
	edited.Set("courses", courses("フロントエンド"))

	eff = c.Evaluate(ir.Envelope{Event: ir.OnChange(ir.EditChange, "courses"), Record: edited})
	require.True(t, eff.Derived)
	assert.Equal(t, "student_class", eff.Field)
	assert.Equal(t, ir.Scalar(""), eff.Value)
}

func TestKeywordTableClassifier_RetainOnMiss(t *testing.T) {
	c := newTestClassifier(t, true)

	rec := ir.Record{
		"student_class": ir.Scalar("ONE生徒"),
		"courses":       courses("フロントエンド"),
	}
	_, ok := c.Classify(rec)
	assert.False(t, ok)
	assert.Equal(t, SkipRetainedOnNoMatch, c.Evaluate(ir.Envelope{Record: rec}).Skip)

	rec.Set("courses", courses("バックエンド"))
	got, ok := c.Classify(rec)
	require.True(t, ok)
	assert.Equal(t, ir.Scalar("ONE生徒"), got)
}

func TestKeywordTableClassifier_MalformedRows(t *testing.T) {
	c := newTestClassifier(t, false)

	table := ir.Table{
		{ID: "1", Fields: ir.Record{}},
		{ID: "2", Fields: ir.Record{"type": ir.Scalar("")}},
		{ID: "3", Fields: ir.Record{"type": ir.Opaque(`["バックエンド"]`)}},
		{ID: "4", Fields: nil},
	}
	got, ok := c.Classify(ir.Record{"student_class": ir.Scalar("x"), "courses": table})
	require.True(t, ok)
	assert.Equal(t, ir.Scalar(""), got)
}

func TestKeywordTableClassifier_TableMissingOrWrongShape(t *testing.T) {
	c := newTestClassifier(t, false)

	for name, rec := range map[string]ir.Record{
		"missing": {"student_class": ir.Scalar("ONE生徒")},
		"scalar":  {"student_class": ir.Scalar("ONE生徒"), "courses": ir.Scalar("バックエンド")},
		"empty":   {"student_class": ir.Scalar("ONE生徒"), "courses": ir.Table{}},
	} {
		t.Run(name, func(t *testing.T) {
			got, ok := c.Classify(rec)
			require.True(t, ok)
			assert.Equal(t, ir.Scalar(""), got)
		})
	}
}

func TestKeywordTableClassifier_NormalizesKeyword(t *testing.T) {
	// Keyword in decomposed form, row text precomposed.
	c, err := NewKeywordTableClassifier(Config{
		Name: "k", TargetField: "t", TableField: "tbl", SubField: "col",
		Keyword: "\u30cf\u3099", Label: "yes",
	})
	require.NoError(t, err)

	rec := ir.Record{"t": ir.Scalar(""), "tbl": ir.Table{{Fields: ir.Record{"col": ir.Scalar("\u30d0\u30b9")}}}}
	got, ok := c.Classify(rec)
	require.True(t, ok)
	assert.Equal(t, ir.Scalar("yes"), got)
}

func TestKeywordTableClassifier_TargetAbsent(t *testing.T) {
	c := newTestClassifier(t, false)

	rec := ir.Record{"courses": courses("バックエンド")}
	before := rec.Clone()

	_, ok := c.Classify(rec)
	assert.False(t, ok)

	eff := c.Evaluate(ir.Envelope{Record: rec})
	assert.True(t, eff.None())
	assert.Equal(t, SkipTargetAbsent, eff.Skip)
	assert.Empty(t, cmp.Diff(before, rec))
}

func TestKeywordTableClassifier_Triggers(t *testing.T) {
	c := newTestClassifier(t, false)

	want := []ir.Event{
		ir.On(ir.CreateShow),
		ir.On(ir.EditShow),
		ir.OnChange(ir.CreateChange, "courses"),
		ir.OnChange(ir.EditChange, "courses"),
		ir.On(ir.CreateSubmit),
		ir.On(ir.EditSubmit),
	}
	assert.Empty(t, cmp.Diff(want, c.Triggers()))
}
