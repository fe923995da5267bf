package lifecycle

// Version of the activity lifecycle module. Nodes and masters built
// against a lower MinCompatibleVersion disagree on the state names.
const (
	Version              = "2.0.0"
	MinCompatibleVersion = "2.0.0"
)
