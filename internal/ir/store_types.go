package ir

// NOTE: These are audit-log types shared by the engine and the store. They
// carry field values as canonical JSON text so the store never needs to know
// the Value union.

// DispatchRecord is the audit view of one processed lifecycle event.
type DispatchRecord struct {
	ID            string `json:"id"`  // UUIDv7 dispatch id
	Seq           int64  `json:"seq"` // Logical clock
	Event         string `json:"event"`
	AppID         string `json:"app_id"`
	RecordID      string `json:"record_id,omitempty"`
	RecordNumber  int64  `json:"record_number,omitempty"`
	EngineVersion string `json:"engine_version"`

	Derivations []DerivationRecord `json:"derivations,omitempty"`
	Updates     []UpdateRecord     `json:"updates,omitempty"`
}

// DerivationRecord is one rule evaluation within a dispatch.
type DerivationRecord struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Before  string `json:"before,omitempty"` // Canonical JSON, empty if the field was absent
	After   string `json:"after,omitempty"`  // Canonical JSON, empty if nothing was derived
	Changed bool   `json:"changed"`
	Skip    string `json:"skip,omitempty"` // Why the rule did nothing
}

// UpdateRecord is the outcome of one remote write within a dispatch.
type UpdateRecord struct {
	Key      string `json:"key"` // RemoteUpdate.Key()
	Rule     string `json:"rule"`
	AppID    string `json:"app_id"`
	RecordID string `json:"record_id"`
	Fields   string `json:"fields"` // Canonical JSON of the update's fields
	Status   int    `json:"status,omitempty"`
	Revision string `json:"revision,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the write succeeded.
func (u UpdateRecord) OK() bool {
	return u.Error == ""
}
