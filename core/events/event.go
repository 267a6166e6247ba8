package events

// Event is a ledger change published after its transaction commits.
type Event interface {
	EventType() string
}

// Emitter receives committed ledger events. Implementations must not block
// for long; they run on the caller's goroutine.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

