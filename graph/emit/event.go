package emit

// Event messages emitted by the engine.
const (
	MsgInstanceStarted = "instance_started"
	MsgNodeStart       = "node_start"
	MsgNodeEnd         = "node_end"
	MsgNodeError       = "node_error"
	MsgPaused          = "paused"
	MsgResumed         = "resumed"
	MsgCompleted       = "completed"
	MsgEvicted         = "evicted"
)

// Event is one observability record from a workflow instance.
type Event struct {
	// InstanceID identifies the workflow instance that produced the event.
	InstanceID string

	// Step is the checkpoint step the event belongs to. Zero for
	// instance-level events emitted before the first stage runs.
	Step int

	// NodeID is the stage involved, empty for instance-level events.
	NodeID string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries event-specific fields such as "next", "latency_ms"
	// or "error".
	Meta map[string]interface{}
}

// IsError reports whether the event carries an error description.
func (e Event) IsError() bool {
	_, ok := e.Meta["error"]
	return ok
}
