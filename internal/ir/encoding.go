package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Host field type for table fields. Other type names are carried through
// decoding but not interpreted.
const FieldTypeSubtable = "SUBTABLE"

// fieldEnvelope is the host's per-field wire shape: {"type": "...", "value": ...}.
type fieldEnvelope struct {
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value"`
}

type rowEnvelope struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Value Record          `json:"value"`
}

// UnmarshalJSON decodes the host record shape {"code": {"type": "...", "value": ...}}.
// The type key is optional.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = make(Record, len(raw))
	for code, fieldRaw := range raw {
		var env fieldEnvelope
		if err := json.Unmarshal(fieldRaw, &env); err != nil {
			return fmt.Errorf("field %q: %w", code, err)
		}
		v, err := decodeValue(env.Type, env.Value)
		if err != nil {
			return fmt.Errorf("field %q: %w", code, err)
		}
		(*r)[code] = v
	}
	return nil
}

// MarshalJSON encodes the record in the host update shape {"code": {"value": ...}}.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, code := range r.Codes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(code)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", code, err)
		}
		buf.Write(keyBytes)
		buf.WriteString(`:{"value":`)
		valBytes, err := MarshalValue(r[code])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", code, err)
		}
		buf.Write(valBytes)
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a single value in host wire form.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Scalar:
		return json.Marshal(string(val))
	case Opaque:
		if len(bytes.TrimSpace(val)) == 0 {
			return []byte("null"), nil
		}
		return []byte(val), nil
	case Table:
		rows := make([]rowEnvelope, len(val))
		for i, row := range val {
			rows[i].Value = row.Fields
			if row.Fields == nil {
				rows[i].Value = Record{}
			}
			if row.ID != "" {
				id, err := json.Marshal(row.ID)
				if err != nil {
					return nil, err
				}
				rows[i].ID = id
			}
		}
		return json.Marshal(rows)
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// decodeValue decodes one field value. Strings, numbers, booleans and null
// become Scalar; arrays of {"value": {...}} objects (or any array declared as
// SUBTABLE) become Table; everything else is kept as Opaque.
func decodeValue(fieldType string, data json.RawMessage) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Scalar(""), nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return Scalar(s), nil
	case 'n':
		return Scalar(""), nil
	case '[':
		if fieldType == FieldTypeSubtable || looksLikeTable(data) {
			return decodeTable(data)
		}
	case '{':
	default:
		// Number or boolean literal
		return Scalar(string(data)), nil
	}

	out := make([]byte, len(data))
	copy(out, data)
	return Opaque(out), nil
}

// looksLikeTable reports whether a JSON array is a non-empty list of
// objects that all carry an object "value" key.
func looksLikeTable(data []byte) bool {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return false
	}
	for _, item := range items {
		v, ok := item["value"]
		if !ok {
			return false
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '{' {
			return false
		}
	}
	return true
}

func decodeTable(data []byte) (Table, error) {
	var rows []rowEnvelope
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	table := make(Table, len(rows))
	for i, row := range rows {
		id, err := FlexString(row.ID)
		if err != nil {
			return nil, fmt.Errorf("table row %d id: %w", i, err)
		}
		fields := row.Value
		if fields == nil {
			fields = Record{}
		}
		table[i] = Row{ID: id, Fields: fields}
	}
	return table, nil
}

// FlexString decodes a JSON string, number or null into its text form.
// The host sends ids as strings in some payloads and numbers in others.
func FlexString(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", string(data))
	}
	return n.String(), nil
}

// FlexInt decodes a JSON string or number holding an integer.
func FlexInt(data json.RawMessage) (int64, error) {
	s, err := FlexString(data)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %q", s)
	}
	return n, nil
}
