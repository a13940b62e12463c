package domain

import "time"

// LogType classifies execution log rows.
type LogType string

const (
	LogInfo    LogType = "info"
	LogSuccess LogType = "success"
	LogError   LogType = "error"
	LogWarning LogType = "warning"
)

// Log is an append-only execution record of a stream.
type Log struct {
	ID        string            `json:"id"`
	StreamID  string            `json:"stream_id"`
	Type      LogType           `json:"type"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// LLMOutput records an LLM call producing a user-visible artifact.
// A nil BacktestID marks a live output.
type LLMOutput struct {
	ID         string    `json:"id"`
	ContentID  string    `json:"content_id"`
	StreamID   string    `json:"stream_id"`
	Model      string    `json:"model,omitempty"`
	PromptText string    `json:"prompt_text"`
	RawOutput  string    `json:"raw_output"`
	BacktestID *string   `json:"backtest_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LLMOutputFilter narrows LLM output queries. LiveOnly and BacktestID are exclusive.
type LLMOutputFilter struct {
	StreamID   string
	LiveOnly   bool
	BacktestID string
}

// Message is a rendered notification handed to a channel.
type Message struct {
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CompletionOptions tune a single LLM completion.
type CompletionOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
}
