package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/kinrule/internal/ir"
)

// Host webhook types.
const (
	TypeAddRecord    = "ADD_RECORD"
	TypeUpdateRecord = "UPDATE_RECORD"
)

const (
	fieldRecordID      = "$id"
	fieldTypeRecordNum = "RECORD_NUMBER"
	fieldTypeRecordID  = "__ID__"
	fieldTypeRevision  = "__REVISION__"
)

// hostPayload is the body of a host webhook notification.
type hostPayload struct {
	Type string `json:"type"`
	App  struct {
		ID json.RawMessage `json:"id"`
	} `json:"app"`
	Record json.RawMessage `json:"record"`
}

// typedField is the part of a record field needed to find system fields.
type typedField struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

var webhookEvents = map[string]ir.EventKind{
	TypeAddRecord:    ir.CreateSubmitSuccess,
	TypeUpdateRecord: ir.EditSubmitSuccess,
}

// envelopeFromWebhook maps a host webhook payload onto an envelope.
// ok is false for notification types the engine does not handle.
func envelopeFromWebhook(p hostPayload) (env ir.Envelope, ok bool, err error) {
	kind, known := webhookEvents[p.Type]
	if !known {
		return ir.Envelope{}, false, nil
	}

	appID, err := ir.FlexString(p.App.ID)
	if err != nil {
		return ir.Envelope{}, true, fmt.Errorf("app.id: %w", err)
	}
	if len(p.Record) == 0 {
		return ir.Envelope{}, true, fmt.Errorf("record is required")
	}

	var typed map[string]typedField
	if err := json.Unmarshal(p.Record, &typed); err != nil {
		return ir.Envelope{}, true, fmt.Errorf("record: %w", err)
	}
	var rec ir.Record
	if err := json.Unmarshal(p.Record, &rec); err != nil {
		return ir.Envelope{}, true, fmt.Errorf("record: %w", err)
	}

	recordID, err := systemField(typed, fieldRecordID, fieldTypeRecordID)
	if err != nil {
		return ir.Envelope{}, true, err
	}
	numberText, err := systemField(typed, "", fieldTypeRecordNum)
	if err != nil {
		return ir.Envelope{}, true, err
	}
	if numberText == "" {
		numberText = recordID
	}
	number, err := parseRecordNumber(numberText)
	if err != nil {
		return ir.Envelope{}, true, err
	}

	// System fields are not form fields.
	for code, f := range typed {
		if code == fieldRecordID || f.Type == fieldTypeRecordID || f.Type == fieldTypeRevision {
			delete(rec, code)
		}
	}

	return ir.Envelope{
		Event:        ir.On(kind),
		AppID:        appID,
		RecordID:     recordID,
		RecordNumber: number,
		Record:       rec,
	}, true, nil
}

// systemField returns the value of the field named code, or of the first
// field with type fieldType when code is empty or absent.
func systemField(fields map[string]typedField, code, fieldType string) (string, error) {
	if code != "" {
		if f, ok := fields[code]; ok {
			return flexField(code, f)
		}
	}
	for name, f := range fields {
		if f.Type == fieldType {
			return flexField(name, f)
		}
	}
	return "", nil
}

func flexField(code string, f typedField) (string, error) {
	s, err := ir.FlexString(f.Value)
	if err != nil {
		return "", fmt.Errorf("record field %q: %w", code, err)
	}
	return s, nil
}

// parseRecordNumber accepts "42" and app-code prefixed numbers like "SALES-42".
func parseRecordNumber(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record number %q: %w", s, err)
	}
	return n, nil
}
