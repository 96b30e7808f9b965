// Package emit delivers graph execution events to observers: loggers,
// tracers, in-memory buffers for tests.
package emit

// Emitter receives execution events. Implementations must be safe for
// concurrent use because fan-out branches emit from their own goroutines.
// Emit must not block for long; it runs on the execution path.
type Emitter interface {
	Emit(event Event)
}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
