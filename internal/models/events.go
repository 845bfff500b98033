package models

// Stream event types emitted to clients, in the order they may appear for a
// single model: start, then chunks and keepalives interleaved, then done.
// A single complete event terminates the whole response.
const (
	EventStart     = "start"
	EventChunk     = "chunk"
	EventKeepalive = "keepalive"
	EventDone      = "done"
	EventComplete  = "complete"
	EventError     = "error"
)

// ChunkEvent is one wire event. Fields beyond Type are populated per the
// event type: model-scoped events carry Model, chunk carries Content, done
// carries Error, complete carries Metadata.
type ChunkEvent struct {
	Type     string         `json:"type"`
	Model    string         `json:"model,omitempty"`
	Content  string         `json:"content,omitempty"`
	Error    *bool          `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata *EventMetadata `json:"metadata,omitempty"`
}

// EventMetadata is the aggregate summary carried by the complete event.
type EventMetadata struct {
	InputLength      int    `json:"input_length"`
	ModelsRequested  int    `json:"models_requested"`
	ModelsSuccessful int    `json:"models_successful"`
	ModelsFailed     int    `json:"models_failed"`
	Timestamp        string `json:"timestamp"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	CreditsUsed      int    `json:"credits_used"`
	CreditsRemaining int    `json:"credits_remaining"`
	Note             string `json:"note,omitempty"`
}

// StartEvent builds a start event for a model.
func StartEvent(model string) ChunkEvent {
	return ChunkEvent{Type: EventStart, Model: model}
}

// ChunkEventFor builds a content chunk event for a model.
func ChunkEventFor(model, content string) ChunkEvent {
	return ChunkEvent{Type: EventChunk, Model: model, Content: content}
}

// KeepaliveEvent builds a keepalive heartbeat for a model.
func KeepaliveEvent(model string) ChunkEvent {
	return ChunkEvent{Type: EventKeepalive, Model: model}
}

// DoneEvent builds the terminal per-model event.
func DoneEvent(model string, errored bool) ChunkEvent {
	return ChunkEvent{Type: EventDone, Model: model, Error: &errored}
}

// CompleteEvent builds the request-scoped terminal event.
func CompleteEvent(meta EventMetadata) ChunkEvent {
	return ChunkEvent{Type: EventComplete, Metadata: &meta}
}
