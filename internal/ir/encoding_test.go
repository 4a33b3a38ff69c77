package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostRecordJSON = `{
  "$id": {"type": "__ID__", "value": "42"},
  "record_number": {"type": "RECORD_NUMBER", "value": "42"},
  "purchaser_id": {"type": "SINGLE_LINE_TEXT", "value": ""},
  "amount": {"type": "NUMBER", "value": 1200},
  "memo": {"type": "MULTI_LINE_TEXT", "value": null},
  "tags": {"type": "CHECK_BOX", "value": ["a", "b"]},
  "empty_table": {"type": "SUBTABLE", "value": []},
  "courses": {
    "type": "SUBTABLE",
    "value": [
      {"id": 1001, "value": {"type": {"type": "DROP_DOWN", "value": "フロントエンド"}}},
      {"id": "1002", "value": {"type": {"type": "DROP_DOWN", "value": "バックエンド基礎"}}}
    ]
  }
}`

func TestRecordUnmarshalHostShape(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(hostRecordJSON), &rec))

	assert.Equal(t, Scalar("42"), rec["$id"])
	assert.Equal(t, Scalar(""), rec["purchaser_id"])
	assert.Equal(t, Scalar("1200"), rec["amount"])
	assert.Equal(t, Scalar(""), rec["memo"])
	assert.Equal(t, Opaque(`["a", "b"]`), rec["tags"])
	assert.Equal(t, Table{}, rec["empty_table"])

	courses, ok := rec["courses"].(Table)
	require.True(t, ok)
	require.Len(t, courses, 2)
	assert.Equal(t, "1001", courses[0].ID)
	assert.Equal(t, "1002", courses[1].ID)
	assert.Equal(t, Scalar("バックエンド基礎"), courses[1].Fields["type"])
}

func TestRecordUnmarshalDetectsUntypedTable(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"rows": {"value": [{"value": {"x": {"value": "y"}}}]}}`), &rec))

	rows, ok := rec["rows"].(Table)
	require.True(t, ok)
	assert.Equal(t, Scalar("y"), rows[0].Fields["x"])
}

func TestRecordUnmarshalRejectsMalformed(t *testing.T) {
	var rec Record
	assert.Error(t, json.Unmarshal([]byte(`{"f": "not an object"}`), &rec))
	assert.Error(t, json.Unmarshal([]byte(`{"t": {"type": "SUBTABLE", "value": [1]}}`), &rec))
}

func TestRecordMarshalUpdateShape(t *testing.T) {
	rec := Record{
		"purchaser_id": Scalar("C-0000042"),
		"tags":         Opaque(`["a"]`),
		"courses": Table{
			{ID: "1001", Fields: Record{"type": Scalar("x")}},
			{Fields: Record{"type": Scalar("y")}},
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"purchaser_id": {"value": "C-0000042"},
		"tags": {"value": ["a"]},
		"courses": {"value": [
			{"id": "1001", "value": {"type": {"value": "x"}}},
			{"value": {"type": {"value": "y"}}}
		]}
	}`, string(data))
}

func TestRecordRoundTrip(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(hostRecordJSON), &rec))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var again Record
	require.NoError(t, json.Unmarshal(data, &again))
	for code, v := range rec {
		if _, isTable := v.(Table); isTable && v.IsEmpty() {
			// An empty table loses its SUBTABLE type on the way out
			assert.True(t, again[code].IsEmpty(), code)
			continue
		}
		assert.True(t, Equal(v, again[code]), code)
	}
}

func TestFlexStringAndInt(t *testing.T) {
	s, err := FlexString(json.RawMessage(`"12"`))
	require.NoError(t, err)
	assert.Equal(t, "12", s)

	s, err = FlexString(json.RawMessage(`12`))
	require.NoError(t, err)
	assert.Equal(t, "12", s)

	s, err = FlexString(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = FlexString(json.RawMessage(`{}`))
	assert.Error(t, err)

	n, err := FlexInt(json.RawMessage(`"42"`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = FlexInt(json.RawMessage(`"4.2"`))
	assert.Error(t, err)
}
