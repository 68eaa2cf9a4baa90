package canon

// Version constants for the schema and engine.
const (
	// SchemaVersion is the canonical data model version.
	SchemaVersion = "1"

	// EngineVersion is the canonry engine version.
	EngineVersion = "0.1.0"
)
