package domain

import "time"

// BacktestStatus is a forward-only state: PENDING -> RUNNING -> COMPLETED | FAILED.
type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "PENDING"
	BacktestRunning   BacktestStatus = "RUNNING"
	BacktestCompleted BacktestStatus = "COMPLETED"
	BacktestFailed    BacktestStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s BacktestStatus) Terminal() bool {
	return s == BacktestCompleted || s == BacktestFailed
}

// Backtest replays a stream over a historical content range.
type Backtest struct {
	ID             string            `json:"id"`
	StreamID       string            `json:"stream_id"`
	RangeStart     time.Time         `json:"range_start"`
	RangeEnd       time.Time         `json:"range_end"`
	Config         map[string]string `json:"config,omitempty"`
	Status         BacktestStatus    `json:"status"`
	TotalItems     int               `json:"total_items"`
	ProcessedItems int               `json:"processed_items"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// BacktestResultStatus is the per-item outcome.
type BacktestResultStatus string

const (
	ResultSuccess BacktestResultStatus = "SUCCESS"
	ResultFailure BacktestResultStatus = "FAILURE"
)

// BacktestResult is one row per (backtest, content) pair.
type BacktestResult struct {
	ID              string               `json:"id"`
	BacktestID      string               `json:"backtest_id"`
	ContentID       string               `json:"content_id"`
	Status          BacktestResultStatus `json:"status"`
	Output          string               `json:"output,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	ExecutionTimeMS int64                `json:"execution_time_ms"`
	CreatedAt       time.Time            `json:"created_at"`
}
