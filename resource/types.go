package resource

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Resource is the base interface every table entry implements. Concrete
// kinds expose extra behavior through the capability interfaces below,
// checked at the point of use.
type Resource interface {
	// Kind returns a short human-readable resource kind for introspection,
	// e.g. "fsFile" or "tcpStream".
	Kind() string
}

// Reader is the readable capability.
type Reader interface {
	Resource
	Read(p []byte) (int, error)
}

// Writer is the writable capability.
type Writer interface {
	Resource
	Write(p []byte) (int, error)
}

// Closer is the closeable capability. It is optional: resources without it
// are finalized by dropping the table entry alone.
type Closer interface {
	Close() error
}

// Shutdowner is the shutdown capability for stream-like resources that
// support half-close independent of finalization.
type Shutdowner interface {
	Resource
	Shutdown() error
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	// EventInserted fires when a resource enters the table.
	EventInserted EventType = iota
	// EventClosed fires when a handle is invalidated. The underlying
	// resource may still be held alive by outstanding task references.
	EventClosed
	// EventFinalized fires when the underlying resource is released and the
	// slot becomes eligible for reuse.
	EventFinalized
)

// Event represents a resource lifecycle event.
type Event struct {
	Kind   string
	Handle Handle
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
// Callbacks run outside the table lock but on the mutating goroutine; they
// must be quick and must not call back into the table.
type Observer interface {
	OnResourceEvent(Event)
}
