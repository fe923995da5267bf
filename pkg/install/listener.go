package install

// Listener is told about completed installs and removals.
type Listener interface {
	OnActivityInstall(uuid string)
	OnActivityRemove(uuid string)
}

// EventKind distinguishes installation events.
type EventKind int

const (
	EventInstalled EventKind = iota
	EventRemoved
)

func (k EventKind) String() string {
	if k == EventRemoved {
		return "REMOVED"
	}
	return "INSTALLED"
}

// Event is one installation change.
type Event struct {
	UUID string
	Kind EventKind
}

// ListenerFunc adapts a single callback to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnActivityInstall(uuid string) { f(Event{UUID: uuid, Kind: EventInstalled}) }

func (f ListenerFunc) OnActivityRemove(uuid string) { f(Event{UUID: uuid, Kind: EventRemoved}) }
