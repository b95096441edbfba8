// Package emit carries workflow lifecycle events to observability backends.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: distinct instances run on
// their own goroutines and share one emitter. Emit must not block the step
// loop for long and must never panic.
type Emitter interface {
	// Emit delivers one event to the backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to a fixed list of emitters, in order.
//
// Example:
//
//	emitter := emit.NewMultiEmitter(
//	    emit.NewLogEmitter(logger),
//	    emit.NewOTelEmitter(otel.Tracer("invoicegraph")),
//	)
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter builds a MultiEmitter. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &MultiEmitter{emitters: kept}
}

// Emit forwards the event to every configured emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
