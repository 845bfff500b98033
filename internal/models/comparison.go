package models

import "time"

// Role of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of conversation history. Assistant turns carry
// the model that produced them so history can be filtered per model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	ModelID string `json:"model_id,omitempty"`
}

// ComparisonRequest is one inbound comparison. Immutable once admitted.
type ComparisonRequest struct {
	ReqID       string    `json:"req_id,omitempty"`
	Input       string    `json:"input_data"`
	Models      []string  `json:"models"`
	History     []Message `json:"conversation_history,omitempty"`
	Fingerprint string    `json:"browser_fingerprint,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	WebSearch   bool      `json:"web_search,omitempty"`
}

// UsageResult is the token accounting a provider reports for one model call.
type UsageResult struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	EffectiveTokens int `json:"effective_tokens"`
}

// ModelOutcome is the terminal result of one model's stream.
type ModelOutcome struct {
	Model   string       `json:"model"`
	Content string       `json:"content"`
	Error   bool         `json:"error"`
	Usage   *UsageResult `json:"usage,omitempty"`
}

// TaskState tracks a model stream task through its lifecycle. Transitions
// are monotonic; exactly one terminal state is reached per task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskTimedOut
	TaskDone
	TaskErrored
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskTimedOut:
		return "timed_out"
	case TaskDone:
		return "done"
	case TaskErrored:
		return "errored"
	}
	return "unknown"
}

// Terminal reports whether the state is one of the three end states.
func (s TaskState) Terminal() bool {
	return s == TaskTimedOut || s == TaskDone || s == TaskErrored
}

// UsageRecord is persisted once per completed comparison.
type UsageRecord struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"ts"`
	ReqID            string    `json:"req_id"`
	IdentityKey      string    `json:"identity_key"`
	InputLength      int       `json:"input_length"`
	ModelsRequested  int       `json:"models_requested"`
	ModelsSuccessful int       `json:"models_successful"`
	ModelsFailed     int       `json:"models_failed"`
	TokensIn         int       `json:"tokens_in"`
	TokensOut        int       `json:"tokens_out"`
	EffectiveTokens  int       `json:"effective_tokens"`
	CreditsCharged   int       `json:"credits_charged"`
	DurationMs       int64     `json:"dur_ms"`
}

// TranscriptRecord is the persisted per-model output of a comparison.
type TranscriptRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	ReqID     string    `json:"req_id"`
	Model     string    `json:"model"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Error     bool      `json:"error"`
}
