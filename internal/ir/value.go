package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Value is a sealed interface over the shapes a field value can take.
// Only Scalar, Table and Opaque implement it.
type Value interface {
	fieldValue() // Sealed

	// IsEmpty reports whether the value counts as "no value" for the rules.
	IsEmpty() bool
}

// Scalar is a single text value. Numbers are kept as their literal text.
type Scalar string

func (Scalar) fieldValue() {}

// IsEmpty reports whether the scalar is the empty string.
func (s Scalar) IsEmpty() bool { return s == "" }

// String returns the scalar text.
func (s Scalar) String() string { return string(s) }

// Row is one entry of a table field.
type Row struct {
	ID     string
	Fields Record
}

// Table is an ordered sequence of rows. Order is display order.
type Table []Row

func (Table) fieldValue() {}

// IsEmpty reports whether the table has no rows.
func (t Table) IsEmpty() bool { return len(t) == 0 }

// Opaque holds any other JSON value (checkbox arrays, user lists, files)
// unchanged so it can be written back verbatim.
type Opaque json.RawMessage

func (Opaque) fieldValue() {}

// IsEmpty treats null, "", [] and {} as empty.
func (o Opaque) IsEmpty() bool {
	var buf bytes.Buffer
	if err := json.Compact(&buf, o); err != nil {
		return len(bytes.TrimSpace(o)) == 0
	}
	switch buf.String() {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

// Record maps field codes to values.
type Record map[string]Value

// Has reports whether the field code exists in the record, empty or not.
func (r Record) Has(code string) bool {
	_, ok := r[code]
	return ok
}

// Get returns the value for a field code.
func (r Record) Get(code string) (Value, bool) {
	v, ok := r[code]
	return v, ok
}

// Text returns the field's text if the field exists and is a Scalar.
func (r Record) Text(code string) (string, bool) {
	v, ok := r[code]
	if !ok {
		return "", false
	}
	s, ok := v.(Scalar)
	if !ok {
		return "", false
	}
	return string(s), true
}

// Set stores a value under a field code.
func (r Record) Set(code string, v Value) {
	r[code] = v
}

// Codes returns the field codes in canonical (RFC 8785) order.
func (r Record) Codes() []string {
	codes := make([]string, 0, len(r))
	for code := range r {
		codes = append(codes, code)
	}
	slices.SortFunc(codes, compareKeysRFC8785)
	return codes
}

// Clone returns a deep copy. Tables and their rows are copied; Opaque bytes
// are shared because they are never mutated in place.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for code, v := range r {
		out[code] = CloneValue(v)
	}
	return out
}

// CloneValue returns a deep copy of tables; other values are immutable and
// returned as is.
func CloneValue(v Value) Value {
	t, ok := v.(Table)
	if !ok {
		return v
	}
	rows := make(Table, len(t))
	for i, row := range t {
		rows[i] = Row{ID: row.ID, Fields: row.Fields.Clone()}
	}
	return rows
}

// Equal reports whether two values have the same shape and content.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Scalar:
		bv, ok := b.(Scalar)
		return ok && av == bv
	case Opaque:
		bv, ok := b.(Opaque)
		if !ok {
			return false
		}
		var ab, bb bytes.Buffer
		if json.Compact(&ab, av) != nil || json.Compact(&bb, bv) != nil {
			return bytes.Equal(av, bv)
		}
		return bytes.Equal(ab.Bytes(), bb.Bytes())
	case Table:
		bv, ok := b.(Table)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].ID != bv[i].ID || len(av[i].Fields) != len(bv[i].Fields) {
				return false
			}
			for code, v := range av[i].Fields {
				w, ok := bv[i].Fields[code]
				if !ok || !Equal(v, w) {
					return false
				}
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

// FromPlain builds a record from loosely typed data such as decoded YAML.
//
// Strings, numbers and booleans become Scalar, nil becomes an empty Scalar,
// a map with a single "table" key holding a list of maps becomes a Table, and
// anything else is kept as Opaque JSON. Rows may carry their id under "$id".
func FromPlain(m map[string]any) (Record, error) {
	rec := make(Record, len(m))
	for code, raw := range m {
		v, err := plainValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", code, err)
		}
		rec[code] = v
	}
	return rec, nil
}

func plainValue(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Scalar(""), nil
	case string:
		return Scalar(val), nil
	case int, int64, uint64, float64, bool:
		return Scalar(fmt.Sprint(val)), nil
	case map[string]any:
		if rows, ok := val["table"]; ok && len(val) == 1 {
			return plainTable(rows)
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", raw, err)
	}
	return Opaque(data), nil
}

func plainTable(raw any) (Table, error) {
	if raw == nil {
		return Table{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("table must be a list of rows, got %T", raw)
	}
	table := make(Table, 0, len(list))
	for i, item := range list {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %d: must be a map, got %T", i, item)
		}
		var id string
		if rawID, ok := fields["$id"]; ok {
			id = fmt.Sprint(rawID)
			fields = withoutKey(fields, "$id")
		}
		rec, err := FromPlain(fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		table = append(table, Row{ID: id, Fields: rec})
	}
	return table, nil
}

func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
