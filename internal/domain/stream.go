package domain

import "time"

// StreamStatus gates whether the poller fans out jobs for a stream.
type StreamStatus string

const (
	StreamActive StreamStatus = "active"
	StreamPaused StreamStatus = "paused"
)

// AggregationDigest marks a stream as digest-type.
const AggregationDigest = "digest"

// Stream binds a source to a trigger/notification prompt pair and a delivery channel.
type Stream struct {
	ID                 string             `json:"id"`
	SourceID           string             `json:"source_id"`
	Name               string             `json:"name"`
	Status             StreamStatus       `json:"status"`
	PromptTemplate     PromptTemplate     `json:"prompt_template"`
	NotificationConfig NotificationConfig `json:"notification_config"`
	LLMConfig          LLMConfig          `json:"llm_config"`
	AggregationConfig  AggregationConfig  `json:"aggregation_config"`
	CreatedAt          time.Time          `json:"created_at"`
}

// PromptTemplate holds the two prompts driving the processor.
type PromptTemplate struct {
	TriggerPrompt      string `json:"trigger_prompt,omitempty"`
	NotificationPrompt string `json:"notification_prompt,omitempty"`
}

// NotificationConfig selects the delivery channel and recipient.
type NotificationConfig struct {
	Channel   string            `json:"channel,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// LLMConfig picks the provider and sampling parameters.
type LLMConfig struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// AggregationConfig carries the digest schedule and its watermarks.
type AggregationConfig struct {
	Type     string     `json:"type,omitempty"`
	Schedule string     `json:"schedule,omitempty"`
	Prompt   string     `json:"prompt,omitempty"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// IsDigest reports whether the stream is aggregated on a schedule.
func (s Stream) IsDigest() bool {
	return s.AggregationConfig.Type == AggregationDigest
}

// Active reports whether the stream accepts new work.
func (s Stream) Active() bool {
	return s.Status == StreamActive
}
