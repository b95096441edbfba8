package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by instance.
//
// It backs the event history returned by the HTTP API and is the
// emitter of choice in tests. Memory grows with the number of events;
// call Clear when an instance is evicted.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // instanceID -> events
}

// HistoryFilter narrows the events returned by HistoryWithFilter.
// Zero-valued fields do not filter.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit records the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.InstanceID] = append(b.events[event.InstanceID], event)
}

// History returns a copy of all events for one instance in emission order.
func (b *BufferedEmitter) History(instanceID string) []Event {
	return b.HistoryWithFilter(instanceID, HistoryFilter{})
}

// HistoryWithFilter returns the events for one instance that match filter.
func (b *BufferedEmitter) HistoryWithFilter(instanceID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[instanceID]))
	for _, event := range b.events[instanceID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Clear drops the events of one instance, or of all instances when
// instanceID is empty.
func (b *BufferedEmitter) Clear(instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if instanceID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, instanceID)
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}
