package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/ports"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	seq       int64
	sources   map[string]domain.Source
	contents  map[string]domain.Content
	contentBy map[string]string
	order     map[string]int64
	streams   map[string]domain.Stream
	logs      []domain.Log
	outputs   []domain.LLMOutput
	backtests map[string]domain.Backtest
	results   []domain.BacktestResult
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		sources:   map[string]domain.Source{},
		contents:  map[string]domain.Content{},
		contentBy: map[string]string{},
		order:     map[string]int64{},
		streams:   map[string]domain.Stream{},
		backtests: map[string]domain.Backtest{},
	}
}

// WithClock overrides the timestamp source; used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return m.now().UTC()
	}
	return t.UTC()
}

func contentKey(sourceID, externalID string) string {
	return sourceID + "\x00" + externalID
}

// CreateSource stores src, assigning an id when empty.
func (m *MemoryStore) CreateSource(_ context.Context, src *domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.CreatedAt = m.stamp(src.CreatedAt)
	m.sources[src.ID] = cloneSource(*src)
	return nil
}

// GetSource returns a source or domain.ErrNotFound.
func (m *MemoryStore) GetSource(_ context.Context, id string) (domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return domain.Source{}, domain.ErrNotFound
	}
	return cloneSource(src), nil
}

// ListSources returns every source ordered by creation.
func (m *MemoryStore) ListSources(_ context.Context) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Source, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, cloneSource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListStaleSources returns sources never polled or polled at or before olderThan.
func (m *MemoryStore) ListStaleSources(ctx context.Context, olderThan time.Time) ([]domain.Source, error) {
	all, _ := m.ListSources(ctx)
	out := make([]domain.Source, 0, len(all))
	for _, src := range all {
		if src.LastPolledAt == nil || !src.LastPolledAt.After(olderThan) {
			out = append(out, src)
		}
	}
	return out, nil
}

// TouchPolled advances last_polled_at; it never moves it backwards.
func (m *MemoryStore) TouchPolled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return domain.ErrNotFound
	}
	at = at.UTC()
	if src.LastPolledAt == nil || at.After(*src.LastPolledAt) {
		src.LastPolledAt = &at
		m.sources[id] = src
	}
	return nil
}

// DeleteSource removes a source with its streams and content.
func (m *MemoryStore) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.sources, id)
	for cid, c := range m.contents {
		if c.SourceID == id {
			delete(m.contents, cid)
			delete(m.contentBy, contentKey(c.SourceID, c.ExternalID))
		}
	}
	for sid, s := range m.streams {
		if s.SourceID == id {
			delete(m.streams, sid)
		}
	}
	return nil
}

// ContentExists checks the (source, external id) key.
func (m *MemoryStore) ContentExists(_ context.Context, sourceID, externalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contentBy[contentKey(sourceID, externalID)]
	return ok, nil
}

// CreateContent inserts c unless its key exists.
func (m *MemoryStore) CreateContent(_ context.Context, c *domain.Content) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := contentKey(c.SourceID, c.ExternalID)
	if _, ok := m.contentBy[key]; ok {
		return false, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = m.stamp(c.CreatedAt)
	c.PostedAt = c.PostedAt.UTC()
	m.seq++
	m.order[c.ID] = m.seq
	m.contents[c.ID] = cloneContent(*c)
	m.contentBy[key] = c.ID
	return true, nil
}

// GetContent returns content or domain.ErrNotFound.
func (m *MemoryStore) GetContent(_ context.Context, id string) (domain.Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[id]
	if !ok {
		return domain.Content{}, domain.ErrNotFound
	}
	return cloneContent(c), nil
}

// ListContentCreatedAfter returns content created strictly after the given time.
func (m *MemoryStore) ListContentCreatedAfter(_ context.Context, sourceID string, after time.Time) ([]domain.Content, error) {
	return m.filterContent(func(c domain.Content) bool {
		return c.SourceID == sourceID && c.CreatedAt.After(after)
	}), nil
}

// ListContentInRange returns content posted in [start, end) in creation order.
func (m *MemoryStore) ListContentInRange(_ context.Context, sourceID string, start, end time.Time) ([]domain.Content, error) {
	return m.filterContent(func(c domain.Content) bool {
		return c.SourceID == sourceID && !c.PostedAt.Before(start) && c.PostedAt.Before(end)
	}), nil
}

// CountContentInRange counts content posted in [start, end).
func (m *MemoryStore) CountContentInRange(ctx context.Context, sourceID string, start, end time.Time) (int, error) {
	items, err := m.ListContentInRange(ctx, sourceID, start, end)
	return len(items), err
}

func (m *MemoryStore) filterContent(keep func(domain.Content) bool) []domain.Content {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Content
	for _, c := range m.contents {
		if keep(c) {
			out = append(out, cloneContent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out
}

// CreateStream stores s, assigning an id when empty.
func (m *MemoryStore) CreateStream(_ context.Context, s *domain.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[s.SourceID]; !ok {
		return domain.ErrNotFound
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = domain.StreamActive
	}
	s.CreatedAt = m.stamp(s.CreatedAt)
	m.streams[s.ID] = *s
	return nil
}

// GetStream returns a stream or domain.ErrNotFound.
func (m *MemoryStore) GetStream(_ context.Context, id string) (domain.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	if !ok {
		return domain.Stream{}, domain.ErrNotFound
	}
	return s, nil
}

// ListStreams returns all streams ordered by creation.
func (m *MemoryStore) ListStreams(_ context.Context) ([]domain.Stream, error) {
	return m.filterStreams(func(domain.Stream) bool { return true }), nil
}

// ListActiveStreamsBySource returns active streams bound to sourceID.
func (m *MemoryStore) ListActiveStreamsBySource(_ context.Context, sourceID string) ([]domain.Stream, error) {
	return m.filterStreams(func(s domain.Stream) bool { return s.SourceID == sourceID && s.Active() }), nil
}

// ListActiveStreams returns every active stream.
func (m *MemoryStore) ListActiveStreams(_ context.Context) ([]domain.Stream, error) {
	return m.filterStreams(domain.Stream.Active), nil
}

func (m *MemoryStore) filterStreams(keep func(domain.Stream) bool) []domain.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Stream
	for _, s := range m.streams {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateStreamStatus changes the stream status.
func (m *MemoryStore) UpdateStreamStatus(_ context.Context, id string, status domain.StreamStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	m.streams[id] = s
	return nil
}

// UpdateAggregation persists digest schedule state.
func (m *MemoryStore) UpdateAggregation(_ context.Context, id string, cfg domain.AggregationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.AggregationConfig = cfg
	m.streams[id] = s
	return nil
}

// AppendLog appends an execution record.
func (m *MemoryStore) AppendLog(_ context.Context, entry domain.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = m.stamp(entry.CreatedAt)
	m.logs = append(m.logs, entry)
	return nil
}

// ListLogs returns the newest logs of a stream first.
func (m *MemoryStore) ListLogs(_ context.Context, streamID string, limit int) ([]domain.Log, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Log
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].StreamID != streamID {
			continue
		}
		out = append(out, m.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SaveLLMOutput appends an LLM artifact.
func (m *MemoryStore) SaveLLMOutput(_ context.Context, out domain.LLMOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.CreatedAt = m.stamp(out.CreatedAt)
	m.outputs = append(m.outputs, out)
	return nil
}

// ListLLMOutputs filters artifacts; live and backtest rows never mix.
func (m *MemoryStore) ListLLMOutputs(_ context.Context, filter domain.LLMOutputFilter) ([]domain.LLMOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LLMOutput
	for _, o := range m.outputs {
		if filter.StreamID != "" && o.StreamID != filter.StreamID {
			continue
		}
		switch {
		case filter.BacktestID != "":
			if o.BacktestID == nil || *o.BacktestID != filter.BacktestID {
				continue
			}
		case filter.LiveOnly:
			if o.BacktestID != nil {
				continue
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// CreateBacktest stores bt, assigning an id when empty.
func (m *MemoryStore) CreateBacktest(_ context.Context, bt *domain.Backtest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bt.ID == "" {
		bt.ID = uuid.NewString()
	}
	bt.CreatedAt = m.stamp(bt.CreatedAt)
	bt.UpdatedAt = bt.CreatedAt
	m.backtests[bt.ID] = *bt
	return nil
}

// GetBacktest returns a backtest or domain.ErrNotFound.
func (m *MemoryStore) GetBacktest(_ context.Context, id string) (domain.Backtest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bt, ok := m.backtests[id]
	if !ok {
		return domain.Backtest{}, domain.ErrNotFound
	}
	return bt, nil
}

// TransitionBacktest applies a status change only from the expected status.
func (m *MemoryStore) TransitionBacktest(_ context.Context, id string, from, to domain.BacktestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bt, ok := m.backtests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if bt.Status != from {
		return domain.ErrConflict
	}
	bt.Status = to
	bt.UpdatedAt = m.now().UTC()
	m.backtests[id] = bt
	return nil
}

// UpdateBacktestProgress records processed items of a running backtest.
func (m *MemoryStore) UpdateBacktestProgress(_ context.Context, id string, processed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bt, ok := m.backtests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if bt.Status != domain.BacktestRunning {
		return domain.ErrConflict
	}
	bt.ProcessedItems = processed
	bt.UpdatedAt = m.now().UTC()
	m.backtests[id] = bt
	return nil
}

// FinishBacktest moves a running backtest to a terminal status.
func (m *MemoryStore) FinishBacktest(_ context.Context, id string, status domain.BacktestStatus, processed int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bt, ok := m.backtests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if bt.Status != domain.BacktestRunning {
		return domain.ErrConflict
	}
	bt.Status = status
	bt.ProcessedItems = processed
	bt.Error = errMsg
	bt.UpdatedAt = m.now().UTC()
	m.backtests[id] = bt
	return nil
}

// AppendBacktestResult appends one per-item outcome.
func (m *MemoryStore) AppendBacktestResult(_ context.Context, res domain.BacktestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.CreatedAt = m.stamp(res.CreatedAt)
	m.results = append(m.results, res)
	return nil
}

// ListBacktestResults returns results in processing order.
func (m *MemoryStore) ListBacktestResults(_ context.Context, backtestID string) ([]domain.BacktestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BacktestResult
	for _, r := range m.results {
		if r.BacktestID == backtestID {
			out = append(out, r)
		}
	}
	return out, nil
}

func cloneSource(s domain.Source) domain.Source {
	s.Config = cloneMap(s.Config)
	if s.LastPolledAt != nil {
		t := *s.LastPolledAt
		s.LastPolledAt = &t
	}
	return s
}

func cloneContent(c domain.Content) domain.Content {
	c.Metadata = cloneMap(c.Metadata)
	return c
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
