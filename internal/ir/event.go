package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventKind enumerates the host lifecycle events the rules react to.
type EventKind int

const (
	// EventUnknown is the zero value and never dispatched.
	EventUnknown EventKind = iota
	// CreateShow fires when the create form is displayed.
	CreateShow
	// EditShow fires when the edit form is displayed.
	EditShow
	// DetailShow fires when a record detail page is displayed.
	DetailShow
	// CreateChange fires when a field changes on the create form.
	CreateChange
	// EditChange fires when a field changes on the edit form.
	EditChange
	// CreateSubmit fires immediately before a new record is saved.
	CreateSubmit
	// EditSubmit fires immediately before an edited record is saved.
	EditSubmit
	// CreateSubmitSuccess fires after a new record was saved.
	CreateSubmitSuccess
	// EditSubmitSuccess fires after an edited record was saved.
	EditSubmitSuccess
)

var kindNames = map[EventKind]string{
	CreateShow:          "app.record.create.show",
	EditShow:            "app.record.edit.show",
	DetailShow:          "app.record.detail.show",
	CreateChange:        "app.record.create.change",
	EditChange:          "app.record.edit.change",
	CreateSubmit:        "app.record.create.submit",
	EditSubmit:          "app.record.edit.submit",
	CreateSubmitSuccess: "app.record.create.submit.success",
	EditSubmitSuccess:   "app.record.edit.submit.success",
}

// String returns the host event name for the kind (without a field suffix).
func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsChange reports whether events of this kind carry a field code.
func (k EventKind) IsChange() bool {
	return k == CreateChange || k == EditChange
}

// Event identifies one lifecycle event. Field is set only for change events.
type Event struct {
	Kind  EventKind
	Field string
}

// On returns the event for a kind without a field.
func On(kind EventKind) Event {
	return Event{Kind: kind}
}

// OnChange returns the change event of kind for a field code.
func OnChange(kind EventKind, field string) Event {
	return Event{Kind: kind, Field: field}
}

// String renders the host event name, e.g. "app.record.edit.change.courses".
func (e Event) String() string {
	if e.Kind.IsChange() {
		return e.Kind.String() + "." + e.Field
	}
	return e.Kind.String()
}

// Valid reports whether the event is dispatchable.
func (e Event) Valid() bool {
	if _, ok := kindNames[e.Kind]; !ok {
		return false
	}
	if e.Kind.IsChange() {
		return e.Field != ""
	}
	return e.Field == ""
}

// ParseEvent parses a host event name.
func ParseEvent(name string) (Event, error) {
	for kind, kindName := range kindNames {
		if kind.IsChange() {
			if field, ok := strings.CutPrefix(name, kindName+"."); ok {
				if field == "" {
					return Event{}, fmt.Errorf("event %q: missing field code", name)
				}
				return OnChange(kind, field), nil
			}
			continue
		}
		if name == kindName {
			return On(kind), nil
		}
	}
	return Event{}, fmt.Errorf("unknown event %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (e Event) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid event %+v", e)
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Event) UnmarshalText(text []byte) error {
	parsed, err := ParseEvent(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Envelope is one inbound lifecycle event with the record snapshot it carries.
type Envelope struct {
	Event        Event  `json:"type"`
	AppID        string `json:"appId"`
	RecordID     string `json:"recordId,omitempty"`
	RecordNumber int64  `json:"recordNumber,omitempty"`
	Record       Record `json:"record"`
}

// UnmarshalJSON accepts ids as strings or numbers.
func (env *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         string          `json:"type"`
		AppID        json.RawMessage `json:"appId"`
		RecordID     json.RawMessage `json:"recordId"`
		RecordNumber json.RawMessage `json:"recordNumber"`
		Record       Record          `json:"record"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ev, err := ParseEvent(raw.Type)
	if err != nil {
		return err
	}
	appID, err := FlexString(raw.AppID)
	if err != nil {
		return fmt.Errorf("appId: %w", err)
	}
	recordID, err := FlexString(raw.RecordID)
	if err != nil {
		return fmt.Errorf("recordId: %w", err)
	}
	number, err := FlexInt(raw.RecordNumber)
	if err != nil {
		return fmt.Errorf("recordNumber: %w", err)
	}

	*env = Envelope{
		Event:        ev,
		AppID:        appID,
		RecordID:     recordID,
		RecordNumber: number,
		Record:       raw.Record,
	}
	env.DefaultRecordNumber()
	return nil
}

// DefaultRecordNumber sets RecordNumber from a numeric RecordID when the
// envelope carries no number. The host numbers records by id unless the app
// has a custom record number field.
func (env *Envelope) DefaultRecordNumber() {
	if env.RecordNumber != 0 || env.RecordID == "" {
		return
	}
	if n, err := strconv.ParseInt(env.RecordID, 10, 64); err == nil && n > 0 {
		env.RecordNumber = n
	}
}
