package patterns

import "time"

// EventKind enumerates telemetry events emitted during evaluation and
// registry maintenance.
type EventKind string

const (
	EventMatch        EventKind = "match"
	EventBlock        EventKind = "block"
	EventTimeout      EventKind = "timeout"
	EventError        EventKind = "error"
	EventImport       EventKind = "import"
	EventImportReject EventKind = "import_reject"
)

// Event is one telemetry record about a pattern.
type Event struct {
	Kind      EventKind
	PatternID string
	Category  Category
	UserID    string
	Elapsed   time.Duration
	Detail    string
}

// Observer receives pattern telemetry. Observer failures never affect
// evaluation; panics are swallowed at the emission site.
type Observer interface {
	OnPatternEvent(evt Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(evt Event)

func (f ObserverFunc) OnPatternEvent(evt Event) { f(evt) }
