package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/ports"
)

// SQLStore persists the pipeline state into Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	qb      sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.Store = (*SQLStore)(nil)

// NewSQLStore wires a sql.DB implementation for the given dialect.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		qb:      sq.StatementBuilder.PlaceholderFormat(dialect.placeholder()),
		now:     time.Now,
	}
}

// DB exposes the underlying handle for health checks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return dbTime(t)
}

// dbTime normalises to UTC at the precision both backends keep.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *SQLStore) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *SQLStore) query(ctx context.Context, b sq.Sqlizer, scan func(*sql.Rows) error) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		if err := scan(rows); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan: %w", err)
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return fmt.Errorf("close rows: %w", closeErr)
	}
	return nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(raw), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Sources.

var sourceColumns = []string{"id", "type", "identifier", "config", "last_polled_at", "created_at"}

func scanSource(row interface{ Scan(...any) error }) (domain.Source, error) {
	var (
		src    domain.Source
		cfg    string
		polled sql.NullTime
	)
	if err := row.Scan(&src.ID, &src.Type, &src.Identifier, &cfg, &polled, &src.CreatedAt); err != nil {
		return domain.Source{}, err
	}
	if err := decodeJSON(cfg, &src.Config); err != nil {
		return domain.Source{}, err
	}
	if polled.Valid {
		t := polled.Time.UTC()
		src.LastPolledAt = &t
	}
	src.CreatedAt = src.CreatedAt.UTC()
	return src, nil
}

// CreateSource inserts src, assigning an id when empty.
func (s *SQLStore) CreateSource(ctx context.Context, src *domain.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.CreatedAt = s.stamp(src.CreatedAt)
	cfg, err := encodeJSON(src.Config)
	if err != nil {
		return err
	}
	var polled any
	if src.LastPolledAt != nil {
		polled = dbTime(*src.LastPolledAt)
	}
	_, err = s.exec(ctx, s.qb.Insert("sources").
		Columns(sourceColumns...).
		Values(src.ID, src.Type, src.Identifier, cfg, polled, src.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource returns a source or domain.ErrNotFound.
func (s *SQLStore) GetSource(ctx context.Context, id string) (domain.Source, error) {
	var (
		found bool
		src   domain.Source
	)
	err := s.query(ctx, s.qb.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}), func(rows *sql.Rows) error {
		var err error
		src, err = scanSource(rows)
		found = true
		return err
	})
	if err != nil {
		return domain.Source{}, fmt.Errorf("get source: %w", err)
	}
	if !found {
		return domain.Source{}, domain.ErrNotFound
	}
	return src, nil
}

func (s *SQLStore) listSources(ctx context.Context, b sq.SelectBuilder) ([]domain.Source, error) {
	var out []domain.Source
	err := s.query(ctx, b.OrderBy("created_at", "id"), func(rows *sql.Rows) error {
		src, err := scanSource(rows)
		if err != nil {
			return err
		}
		out = append(out, src)
		return nil
	})
	return out, err
}

// ListSources returns every source ordered by creation.
func (s *SQLStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	out, err := s.listSources(ctx, s.qb.Select(sourceColumns...).From("sources"))
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// ListStaleSources returns sources never polled or polled at or before olderThan.
func (s *SQLStore) ListStaleSources(ctx context.Context, olderThan time.Time) ([]domain.Source, error) {
	out, err := s.listSources(ctx, s.qb.Select(sourceColumns...).From("sources").Where(sq.Or{
		sq.Eq{"last_polled_at": nil},
		sq.LtOrEq{"last_polled_at": dbTime(olderThan)},
	}))
	if err != nil {
		return nil, fmt.Errorf("list stale sources: %w", err)
	}
	return out, nil
}

// TouchPolled advances last_polled_at; an older timestamp leaves the row untouched.
func (s *SQLStore) TouchPolled(ctx context.Context, id string, at time.Time) error {
	at = dbTime(at)
	res, err := s.exec(ctx, s.qb.Update("sources").
		Set("last_polled_at", at).
		Where(sq.Eq{"id": id}).
		Where(sq.Or{sq.Eq{"last_polled_at": nil}, sq.Lt{"last_polled_at": at}}))
	if err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	if ok, err := affectedOne(res); err != nil || ok {
		return err
	}
	if _, err := s.GetSource(ctx, id); err != nil {
		return err
	}
	return nil
}

// DeleteSource removes a source; streams and content cascade.
func (s *SQLStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.exec(ctx, s.qb.Delete("sources").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// Contents.

var contentColumns = []string{"id", "source_id", "external_id", "raw_text", "posted_at", "metadata", "created_at"}

func scanContent(row interface{ Scan(...any) error }) (domain.Content, error) {
	var (
		c    domain.Content
		meta string
	)
	if err := row.Scan(&c.ID, &c.SourceID, &c.ExternalID, &c.RawText, &c.PostedAt, &meta, &c.CreatedAt); err != nil {
		return domain.Content{}, err
	}
	if err := decodeJSON(meta, &c.Metadata); err != nil {
		return domain.Content{}, err
	}
	c.PostedAt = c.PostedAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// ContentExists checks the (source, external id) key.
func (s *SQLStore) ContentExists(ctx context.Context, sourceID, externalID string) (bool, error) {
	var count int
	err := s.query(ctx, s.qb.Select("COUNT(*)").From("contents").
		Where(sq.Eq{"source_id": sourceID, "external_id": externalID}), func(rows *sql.Rows) error {
		return rows.Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("content exists: %w", err)
	}
	return count > 0, nil
}

// CreateContent inserts c; a duplicate key reports false without error.
func (s *SQLStore) CreateContent(ctx context.Context, c *domain.Content) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.stamp(c.CreatedAt)
	c.PostedAt = dbTime(c.PostedAt)
	meta, err := encodeJSON(c.Metadata)
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, s.qb.Insert("contents").
		Columns(contentColumns...).
		Values(c.ID, c.SourceID, c.ExternalID, c.RawText, c.PostedAt, meta, c.CreatedAt).
		Suffix("ON CONFLICT (source_id, external_id) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert content: %w", err)
	}
	return affectedOne(res)
}

// GetContent returns content or domain.ErrNotFound.
func (s *SQLStore) GetContent(ctx context.Context, id string) (domain.Content, error) {
	items, err := s.listContent(ctx, s.qb.Select(contentColumns...).From("contents").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Content{}, fmt.Errorf("get content: %w", err)
	}
	if len(items) == 0 {
		return domain.Content{}, domain.ErrNotFound
	}
	return items[0], nil
}

func (s *SQLStore) listContent(ctx context.Context, b sq.SelectBuilder) ([]domain.Content, error) {
	var out []domain.Content
	err := s.query(ctx, b.OrderBy("created_at", "seq"), func(rows *sql.Rows) error {
		c, err := scanContent(rows)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// ListContentCreatedAfter returns content created strictly after the given time.
func (s *SQLStore) ListContentCreatedAfter(ctx context.Context, sourceID string, after time.Time) ([]domain.Content, error) {
	out, err := s.listContent(ctx, s.qb.Select(contentColumns...).From("contents").
		Where(sq.Eq{"source_id": sourceID}).
		Where(sq.Gt{"created_at": dbTime(after)}))
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return out, nil
}

func rangeFilter(sourceID string, start, end time.Time) sq.And {
	return sq.And{
		sq.Eq{"source_id": sourceID},
		sq.GtOrEq{"posted_at": dbTime(start)},
		sq.Lt{"posted_at": dbTime(end)},
	}
}

// ListContentInRange returns content posted in [start, end) in creation order.
func (s *SQLStore) ListContentInRange(ctx context.Context, sourceID string, start, end time.Time) ([]domain.Content, error) {
	out, err := s.listContent(ctx, s.qb.Select(contentColumns...).From("contents").Where(rangeFilter(sourceID, start, end)))
	if err != nil {
		return nil, fmt.Errorf("list content range: %w", err)
	}
	return out, nil
}

// CountContentInRange counts content posted in [start, end).
func (s *SQLStore) CountContentInRange(ctx context.Context, sourceID string, start, end time.Time) (int, error) {
	var count int
	err := s.query(ctx, s.qb.Select("COUNT(*)").From("contents").Where(rangeFilter(sourceID, start, end)), func(rows *sql.Rows) error {
		return rows.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count content range: %w", err)
	}
	return count, nil
}

// Streams.

var streamColumns = []string{
	"id", "source_id", "name", "status",
	"prompt_template", "notification_config", "llm_config", "aggregation_config", "created_at",
}

func scanStream(row interface{ Scan(...any) error }) (domain.Stream, error) {
	var (
		st                        domain.Stream
		prompt, notify, llm, aggr string
	)
	if err := row.Scan(&st.ID, &st.SourceID, &st.Name, &st.Status, &prompt, &notify, &llm, &aggr, &st.CreatedAt); err != nil {
		return domain.Stream{}, err
	}
	for raw, target := range map[*string]any{
		&prompt: &st.PromptTemplate,
		&notify: &st.NotificationConfig,
		&llm:    &st.LLMConfig,
		&aggr:   &st.AggregationConfig,
	} {
		if err := decodeJSON(*raw, target); err != nil {
			return domain.Stream{}, err
		}
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return st, nil
}

// CreateStream inserts st, assigning an id when empty.
func (s *SQLStore) CreateStream(ctx context.Context, st *domain.Stream) error {
	if _, err := s.GetSource(ctx, st.SourceID); err != nil {
		return err
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Status == "" {
		st.Status = domain.StreamActive
	}
	st.CreatedAt = s.stamp(st.CreatedAt)

	encoded := make([]string, 0, 4)
	for _, v := range []any{st.PromptTemplate, st.NotificationConfig, st.LLMConfig, st.AggregationConfig} {
		raw, err := encodeJSON(v)
		if err != nil {
			return err
		}
		encoded = append(encoded, raw)
	}
	_, err := s.exec(ctx, s.qb.Insert("streams").
		Columns(streamColumns...).
		Values(st.ID, st.SourceID, st.Name, string(st.Status), encoded[0], encoded[1], encoded[2], encoded[3], st.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

func (s *SQLStore) listStreams(ctx context.Context, where sq.Sqlizer) ([]domain.Stream, error) {
	b := s.qb.Select(streamColumns...).From("streams").OrderBy("created_at", "id")
	if where != nil {
		b = b.Where(where)
	}
	var out []domain.Stream
	err := s.query(ctx, b, func(rows *sql.Rows) error {
		st, err := scanStream(rows)
		if err != nil {
			return err
		}
		out = append(out, st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return out, nil
}

// GetStream returns a stream or domain.ErrNotFound.
func (s *SQLStore) GetStream(ctx context.Context, id string) (domain.Stream, error) {
	out, err := s.listStreams(ctx, sq.Eq{"id": id})
	if err != nil {
		return domain.Stream{}, err
	}
	if len(out) == 0 {
		return domain.Stream{}, domain.ErrNotFound
	}
	return out[0], nil
}

// ListStreams returns all streams ordered by creation.
func (s *SQLStore) ListStreams(ctx context.Context) ([]domain.Stream, error) {
	return s.listStreams(ctx, nil)
}

// ListActiveStreamsBySource returns active streams bound to sourceID.
func (s *SQLStore) ListActiveStreamsBySource(ctx context.Context, sourceID string) ([]domain.Stream, error) {
	return s.listStreams(ctx, sq.Eq{"source_id": sourceID, "status": string(domain.StreamActive)})
}

// ListActiveStreams returns every active stream.
func (s *SQLStore) ListActiveStreams(ctx context.Context) ([]domain.Stream, error) {
	return s.listStreams(ctx, sq.Eq{"status": string(domain.StreamActive)})
}

func (s *SQLStore) updateStream(ctx context.Context, id, column string, value any) error {
	res, err := s.exec(ctx, s.qb.Update("streams").Set(column, value).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update stream %s: %w", column, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStreamStatus changes the stream status.
func (s *SQLStore) UpdateStreamStatus(ctx context.Context, id string, status domain.StreamStatus) error {
	return s.updateStream(ctx, id, "status", string(status))
}

// UpdateAggregation persists digest schedule state.
func (s *SQLStore) UpdateAggregation(ctx context.Context, id string, cfg domain.AggregationConfig) error {
	raw, err := encodeJSON(cfg)
	if err != nil {
		return err
	}
	return s.updateStream(ctx, id, "aggregation_config", raw)
}

// Logs and LLM outputs.

// AppendLog appends an execution record.
func (s *SQLStore) AppendLog(ctx context.Context, entry domain.Log) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	meta, err := encodeJSON(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.qb.Insert("logs").
		Columns("id", "stream_id", "type", "message", "metadata", "created_at").
		Values(entry.ID, entry.StreamID, string(entry.Type), entry.Message, meta, s.stamp(entry.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns the newest logs of a stream first.
func (s *SQLStore) ListLogs(ctx context.Context, streamID string, limit int) ([]domain.Log, error) {
	b := s.qb.Select("id", "stream_id", "type", "message", "metadata", "created_at").
		From("logs").
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("seq DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	var out []domain.Log
	err := s.query(ctx, b, func(rows *sql.Rows) error {
		var (
			entry domain.Log
			meta  string
		)
		if err := rows.Scan(&entry.ID, &entry.StreamID, &entry.Type, &entry.Message, &meta, &entry.CreatedAt); err != nil {
			return err
		}
		if err := decodeJSON(meta, &entry.Metadata); err != nil {
			return err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

// SaveLLMOutput appends an LLM artifact.
func (s *SQLStore) SaveLLMOutput(ctx context.Context, out domain.LLMOutput) error {
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	var backtestID any
	if out.BacktestID != nil {
		backtestID = *out.BacktestID
	}
	_, err := s.exec(ctx, s.qb.Insert("llm_outputs").
		Columns("id", "content_id", "stream_id", "model", "prompt_text", "raw_output", "backtest_id", "created_at").
		Values(out.ID, out.ContentID, out.StreamID, out.Model, out.PromptText, out.RawOutput, backtestID, s.stamp(out.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert llm output: %w", err)
	}
	return nil
}

// ListLLMOutputs filters artifacts; live and backtest rows never mix.
func (s *SQLStore) ListLLMOutputs(ctx context.Context, filter domain.LLMOutputFilter) ([]domain.LLMOutput, error) {
	b := s.qb.Select("id", "content_id", "stream_id", "model", "prompt_text", "raw_output", "backtest_id", "created_at").
		From("llm_outputs").
		OrderBy("seq")
	if filter.StreamID != "" {
		b = b.Where(sq.Eq{"stream_id": filter.StreamID})
	}
	switch {
	case filter.BacktestID != "":
		b = b.Where(sq.Eq{"backtest_id": filter.BacktestID})
	case filter.LiveOnly:
		b = b.Where(sq.Eq{"backtest_id": nil})
	}

	var out []domain.LLMOutput
	err := s.query(ctx, b, func(rows *sql.Rows) error {
		var (
			o          domain.LLMOutput
			backtestID sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.ContentID, &o.StreamID, &o.Model, &o.PromptText, &o.RawOutput, &backtestID, &o.CreatedAt); err != nil {
			return err
		}
		if backtestID.Valid {
			id := backtestID.String
			o.BacktestID = &id
		}
		o.CreatedAt = o.CreatedAt.UTC()
		out = append(out, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list llm outputs: %w", err)
	}
	return out, nil
}

// Backtests.

var backtestColumns = []string{
	"id", "stream_id", "range_start", "range_end", "config", "status",
	"total_items", "processed_items", "error", "created_at", "updated_at",
}

// CreateBacktest inserts bt, assigning an id when empty.
func (s *SQLStore) CreateBacktest(ctx context.Context, bt *domain.Backtest) error {
	if bt.ID == "" {
		bt.ID = uuid.NewString()
	}
	bt.CreatedAt = s.stamp(bt.CreatedAt)
	bt.UpdatedAt = bt.CreatedAt
	bt.RangeStart = dbTime(bt.RangeStart)
	bt.RangeEnd = dbTime(bt.RangeEnd)
	cfg, err := encodeJSON(bt.Config)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.qb.Insert("backtests").
		Columns(backtestColumns...).
		Values(bt.ID, bt.StreamID, bt.RangeStart, bt.RangeEnd, cfg, string(bt.Status),
			bt.TotalItems, bt.ProcessedItems, bt.Error, bt.CreatedAt, bt.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert backtest: %w", err)
	}
	return nil
}

// GetBacktest returns a backtest or domain.ErrNotFound.
func (s *SQLStore) GetBacktest(ctx context.Context, id string) (domain.Backtest, error) {
	var (
		bt    domain.Backtest
		found bool
	)
	err := s.query(ctx, s.qb.Select(backtestColumns...).From("backtests").Where(sq.Eq{"id": id}), func(rows *sql.Rows) error {
		var cfg string
		if err := rows.Scan(&bt.ID, &bt.StreamID, &bt.RangeStart, &bt.RangeEnd, &cfg, &bt.Status,
			&bt.TotalItems, &bt.ProcessedItems, &bt.Error, &bt.CreatedAt, &bt.UpdatedAt); err != nil {
			return err
		}
		found = true
		return decodeJSON(cfg, &bt.Config)
	})
	if err != nil {
		return domain.Backtest{}, fmt.Errorf("get backtest: %w", err)
	}
	if !found {
		return domain.Backtest{}, domain.ErrNotFound
	}
	bt.RangeStart = bt.RangeStart.UTC()
	bt.RangeEnd = bt.RangeEnd.UTC()
	bt.CreatedAt = bt.CreatedAt.UTC()
	bt.UpdatedAt = bt.UpdatedAt.UTC()
	return bt, nil
}

// updateBacktestWhen applies set only while the row has status from.
func (s *SQLStore) updateBacktestWhen(ctx context.Context, id string, from domain.BacktestStatus, set map[string]any) error {
	set["updated_at"] = dbTime(s.now())
	res, err := s.exec(ctx, s.qb.Update("backtests").
		SetMap(set).
		Where(sq.Eq{"id": id, "status": string(from)}))
	if err != nil {
		return fmt.Errorf("update backtest: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.GetBacktest(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

// TransitionBacktest applies a status change only from the expected status.
func (s *SQLStore) TransitionBacktest(ctx context.Context, id string, from, to domain.BacktestStatus) error {
	return s.updateBacktestWhen(ctx, id, from, map[string]any{"status": string(to)})
}

// UpdateBacktestProgress records processed items of a running backtest.
func (s *SQLStore) UpdateBacktestProgress(ctx context.Context, id string, processed int) error {
	return s.updateBacktestWhen(ctx, id, domain.BacktestRunning, map[string]any{"processed_items": processed})
}

// FinishBacktest moves a running backtest to a terminal status.
func (s *SQLStore) FinishBacktest(ctx context.Context, id string, status domain.BacktestStatus, processed int, errMsg string) error {
	if !status.Terminal() {
		return errors.New("finish backtest: status must be terminal")
	}
	return s.updateBacktestWhen(ctx, id, domain.BacktestRunning, map[string]any{
		"status":          string(status),
		"processed_items": processed,
		"error":           errMsg,
	})
}

// AppendBacktestResult appends one per-item outcome.
func (s *SQLStore) AppendBacktestResult(ctx context.Context, res domain.BacktestResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, s.qb.Insert("backtest_results").
		Columns("id", "backtest_id", "content_id", "status", "output", "error_message", "execution_time_ms", "created_at").
		Values(res.ID, res.BacktestID, res.ContentID, string(res.Status), res.Output, res.ErrorMessage, res.ExecutionTimeMS, s.stamp(res.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert backtest result: %w", err)
	}
	return nil
}

// ListBacktestResults returns results in processing order.
func (s *SQLStore) ListBacktestResults(ctx context.Context, backtestID string) ([]domain.BacktestResult, error) {
	var out []domain.BacktestResult
	err := s.query(ctx, s.qb.Select("id", "backtest_id", "content_id", "status", "output", "error_message", "execution_time_ms", "created_at").
		From("backtest_results").
		Where(sq.Eq{"backtest_id": backtestID}).
		OrderBy("seq"), func(rows *sql.Rows) error {
		var r domain.BacktestResult
		if err := rows.Scan(&r.ID, &r.BacktestID, &r.ContentID, &r.Status, &r.Output, &r.ErrorMessage, &r.ExecutionTimeMS, &r.CreatedAt); err != nil {
			return err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list backtest results: %w", err)
	}
	return out, nil
}
