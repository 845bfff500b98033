package client

// CompareRequest is the payload for one comparison.
type CompareRequest struct {
	ReqID       string    `json:"req_id,omitempty"`
	Input       string    `json:"input_data"`
	Models      []string  `json:"models"`
	History     []Message `json:"conversation_history,omitempty"`
	Fingerprint string    `json:"browser_fingerprint,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	WebSearch   bool      `json:"web_search,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	ModelID string `json:"model_id,omitempty"`
}

// Event is one server-sent stream event.
type Event struct {
	Type     string    `json:"type"`
	Model    string    `json:"model,omitempty"`
	Content  string    `json:"content,omitempty"`
	Error    *bool     `json:"error,omitempty"`
	Message  string    `json:"message,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata is the aggregate summary on the terminal complete event.
type Metadata struct {
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

// CreditsStatus is the response of the credits endpoint.
type CreditsStatus struct {
	Remaining int    `json:"remaining"`
	Allocated int    `json:"allocated"`
	Tier      string `json:"tier"`
}

// ModelInfo describes one comparable model.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
}
