package ir

// Version constants for the record model and engine.
const (
	// SchemaVersion is the version of the audit record encoding.
	SchemaVersion = "1"

	// EngineVersion is the kinrule engine version.
	EngineVersion = "0.1.0"
)
