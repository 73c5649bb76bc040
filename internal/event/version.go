package event

// Version constants for the log schema and the tool.
const (
	// SchemaVersion is the on-disk schema version (PRAGMA user_version).
	SchemaVersion = 1

	// ToolVersion is the btdebug release version.
	ToolVersion = "0.3.0"
)
