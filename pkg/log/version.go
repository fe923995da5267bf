package log

// Version of the log module. 1.1 added Logger.With and the field helpers
// used by the activity runtime.
const (
	Version              = "1.1.0"
	MinCompatibleVersion = "1.1.0"
)
