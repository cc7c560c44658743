package ir

// Version constants for the data model and the chain engine.
const (
	// IRVersion is the step record schema version.
	IRVersion = "1"

	// EngineVersion is the prepchain engine version.
	EngineVersion = "0.1.0"
)
