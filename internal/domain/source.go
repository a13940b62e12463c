package domain

import "time"

// Source is a configured external feed polled for content.
type Source struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Identifier   string            `json:"identifier"`
	Config       map[string]string `json:"config,omitempty"`
	LastPolledAt *time.Time        `json:"last_polled_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// IsStale reports whether the source should be polled at now given the threshold.
func (s Source) IsStale(now time.Time, staleAfter time.Duration) bool {
	if s.LastPolledAt == nil {
		return true
	}
	return !s.LastPolledAt.After(now.Add(-staleAfter))
}

// Content is one normalized item fetched from a source.
// (SourceID, ExternalID) is unique; rows are never updated.
type Content struct {
	ID         string            `json:"id"`
	SourceID   string            `json:"source_id"`
	ExternalID string            `json:"external_id"`
	RawText    string            `json:"raw_text"`
	PostedAt   time.Time         `json:"posted_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// FetchedItem is what an adapter returns before persistence.
type FetchedItem struct {
	ExternalID string
	RawText    string
	PostedAt   time.Time
	Metadata   map[string]string
}

// Well-known metadata keys filled by adapters.
const (
	MetaTitle  = "title"
	MetaURL    = "url"
	MetaSource = "source"
	MetaAuthor = "author"
)

// ProcessJob is the payload carried by the work queue.
type ProcessJob struct {
	StreamID  string `json:"stream_id"`
	ContentID string `json:"content_id"`
	Attempt   int    `json:"attempt"`
}
