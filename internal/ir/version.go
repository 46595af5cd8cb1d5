package ir

// Version constants for the value model and the reconciler.
const (
	// IRVersion is the value model version.
	IRVersion = "1"

	// EngineVersion is the watchpatch version.
	EngineVersion = "0.1.0"
)
