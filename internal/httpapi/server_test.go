package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/events"
	"FeedSentry/internal/infrastructure/storage"
	"FeedSentry/internal/logging"
	"FeedSentry/internal/usecase"
	"FeedSentry/internal/worker"
)

type fakeValidator struct{}

func (fakeValidator) Types() []string { return []string{"rss", "webpage"} }

func (fakeValidator) Validate(sourceType, identifier string, _ map[string]string) error {
	if sourceType != "rss" && sourceType != "webpage" {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSourceType, sourceType)
	}
	if !strings.HasPrefix(identifier, "http") {
		return fmt.Errorf("%w: identifier must be an http url", domain.ErrInvalidConfig)
	}
	return nil
}

type fakeSweeper struct {
	report usecase.SweepReport
	err    error
}

func (f fakeSweeper) Sweep(context.Context) (usecase.SweepReport, error) { return f.report, f.err }

type fakeTicker struct {
	report usecase.DigestReport
	err    error
}

func (f fakeTicker) Tick(context.Context) (usecase.DigestReport, error) { return f.report, f.err }

type echoProcessor struct{}

func (echoProcessor) ProcessForBacktest(_ context.Context, _ domain.Stream, c domain.Content, _ string) (usecase.ProcessResult, error) {
	return usecase.ProcessResult{Triggered: true, Analysis: "TRUE", Notification: c.RawText}, nil
}

type apiFixture struct {
	store *storage.MemoryStore
	hub   *events.Hub
	e     *echo.Echo
}

func newAPIFixture(t *testing.T, sweeper Sweeper, ticker DigestTicker) *apiFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	hub := events.NewHub(8)
	pool := worker.NewPool(1, logging.Discard())
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	runner := usecase.NewBacktestRunner(usecase.BacktestDeps{
		Backtests: store,
		Streams:   store,
		Contents:  store,
		Processor: echoProcessor{},
		Spawner:   pool,
		Logger:    logging.Discard(),
	})

	e := NewServer(Deps{
		Store:     store,
		Sources:   fakeValidator{},
		Poller:    sweeper,
		Digest:    ticker,
		Backtests: runner,
		Events:    hub,
		Logger:    logging.Discard(),
		Heartbeat: 20 * time.Millisecond,
	})
	return &apiFixture{store: store, hub: hub, e: e}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind domain.ErrorKind) errorBody {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[errorBody](t, rec)
	assert.Equal(t, kind, body.Error.Kind)
	return body
}

func (f *apiFixture) seedSource(t *testing.T) domain.Source {
	t.Helper()
	src := domain.Source{Type: "rss", Identifier: "https://example.com/feed"}
	require.NoError(t, f.store.CreateSource(context.Background(), &src))
	return src
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = f.do(t, http.MethodGet, "/api/nope", "")
	assertError(t, rec, http.StatusNotFound, domain.KindNotFound)
}

func TestSources_CRUD(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})

	rec := f.do(t, http.MethodGet, "/api/source-types", "")
	assert.JSONEq(t, `{"types":["rss","webpage"]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/sources", `{"type":"rss","identifier":"https://blog.golang.org/feed.atom","config":{"limit":"5"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Source](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "5", created.Config["limit"])

	rec = f.do(t, http.MethodGet, "/api/sources/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[domain.Source](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/sources", "")
	assert.Len(t, decode[[]domain.Source](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/sources/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sources/"+created.ID, "")
	assertError(t, rec, http.StatusNotFound, domain.KindNotFound)

	rec = f.do(t, http.MethodGet, "/api/sources", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSources_Validation(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})

	rec := f.do(t, http.MethodPost, "/api/sources", `{"type":"rss"}`)
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = f.do(t, http.MethodPost, "/api/sources", `{"type":"fax","identifier":"https://x"}`)
	body := assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)
	assert.Contains(t, body.Error.Message, "unknown source type")

	rec = f.do(t, http.MethodPost, "/api/sources", `{"type":"rss","identifier":"ftp://x"}`)
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = f.do(t, http.MethodPost, "/api/sources", `{"type":`)
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)
}

func TestStreams_CreateAndStatus(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})
	src := f.seedSource(t)

	payload := fmt.Sprintf(`{
		"source_id": %q,
		"name": "go releases",
		"prompt_template": {"trigger_prompt": "Is {{title}} a release?", "notification_prompt": "Summarize {{content}}"},
		"notification_config": {"channel": "slack", "recipient": "#go"}
	}`, src.ID)
	rec := f.do(t, http.MethodPost, "/api/streams", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stream := decode[domain.Stream](t, rec)
	assert.Equal(t, domain.StreamActive, stream.Status)
	assert.Equal(t, "#go", stream.NotificationConfig.Recipient)

	rec = f.do(t, http.MethodPatch, "/api/streams/"+stream.ID+"/status", `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StreamPaused, decode[domain.Stream](t, rec).Status)

	rec = f.do(t, http.MethodPatch, "/api/streams/"+stream.ID+"/status", `{"status":"archived"}`)
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = f.do(t, http.MethodPatch, "/api/streams/missing/status", `{"status":"active"}`)
	assertError(t, rec, http.StatusNotFound, domain.KindNotFound)

	rec = f.do(t, http.MethodGet, "/api/streams", "")
	assert.Len(t, decode[[]domain.Stream](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/streams/"+stream.ID, "")
	assert.Equal(t, "go releases", decode[domain.Stream](t, rec).Name)
}

func TestStreams_CreateValidation(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})
	src := f.seedSource(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   domain.ErrorKind
	}{
		{"missing name", fmt.Sprintf(`{"source_id":%q}`, src.ID), http.StatusBadRequest, domain.KindInvalid},
		{"bad status", fmt.Sprintf(`{"source_id":%q,"name":"x","status":"gone"}`, src.ID), http.StatusBadRequest, domain.KindInvalid},
		{"bad schedule", fmt.Sprintf(`{"source_id":%q,"name":"x","aggregation_config":{"type":"digest","schedule":"every day"}}`, src.ID), http.StatusBadRequest, domain.KindInvalid},
		{"unknown aggregation", fmt.Sprintf(`{"source_id":%q,"name":"x","aggregation_config":{"type":"weekly"}}`, src.ID), http.StatusBadRequest, domain.KindInvalid},
		{"missing source", `{"source_id":"nope","name":"x"}`, http.StatusNotFound, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, f.do(t, http.MethodPost, "/api/streams", tt.body), tt.status, tt.kind)
		})
	}

	rec := f.do(t, http.MethodPost, "/api/streams", fmt.Sprintf(
		`{"source_id":%q,"name":"daily","aggregation_config":{"type":"digest","schedule":"0 9 * * *","next_run":"2020-01-01T00:00:00Z"}}`, src.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stream := decode[domain.Stream](t, rec)
	assert.True(t, stream.IsDigest())
	assert.Nil(t, stream.AggregationConfig.NextRun)
}

func TestStreams_LogsAndOutputs(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})
	ctx := context.Background()
	src := f.seedSource(t)
	stream := domain.Stream{SourceID: src.ID, Name: "s"}
	require.NoError(t, f.store.CreateStream(ctx, &stream))

	for i := range 3 {
		require.NoError(t, f.store.AppendLog(ctx, domain.Log{StreamID: stream.ID, Type: domain.LogInfo, Message: fmt.Sprintf("log %d", i)}))
	}
	btID := "bt-1"
	require.NoError(t, f.store.SaveLLMOutput(ctx, domain.LLMOutput{StreamID: stream.ID, ContentID: "c1", RawOutput: "live"}))
	require.NoError(t, f.store.SaveLLMOutput(ctx, domain.LLMOutput{StreamID: stream.ID, ContentID: "c1", RawOutput: "replayed", BacktestID: &btID}))

	rec := f.do(t, http.MethodGet, "/api/streams/"+stream.ID+"/logs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Log](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/streams/"+stream.ID+"/logs?limit=zero", "")
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = f.do(t, http.MethodGet, "/api/streams/missing/logs", "")
	assertError(t, rec, http.StatusNotFound, domain.KindNotFound)

	rec = f.do(t, http.MethodGet, "/api/streams/"+stream.ID+"/outputs", "")
	live := decode[[]domain.LLMOutput](t, rec)
	require.Len(t, live, 1)
	assert.Equal(t, "live", live[0].RawOutput)

	rec = f.do(t, http.MethodGet, "/api/streams/"+stream.ID+"/outputs?backtest_id=bt-1", "")
	replayed := decode[[]domain.LLMOutput](t, rec)
	require.Len(t, replayed, 1)
	assert.Equal(t, "replayed", replayed[0].RawOutput)
}

func TestPollAndDigest(t *testing.T) {
	f := newAPIFixture(t,
		fakeSweeper{report: usecase.SweepReport{Sources: 2, Created: 3, Enqueued: 4}},
		fakeTicker{report: usecase.DigestReport{Streams: 1, Sent: 1}})

	rec := f.do(t, http.MethodPost, "/api/poll", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.SweepReport{Sources: 2, Created: 3, Enqueued: 4}, decode[usecase.SweepReport](t, rec))

	rec = f.do(t, http.MethodPost, "/api/digest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[usecase.DigestReport](t, rec).Sent)
}

func TestPollAndDigest_Errors(t *testing.T) {
	f := newAPIFixture(t,
		fakeSweeper{err: usecase.ErrSweepInProgress},
		fakeTicker{err: errors.New("connection refused")})

	rec := f.do(t, http.MethodPost, "/api/poll", "")
	assertError(t, rec, http.StatusConflict, domain.KindConflict)

	rec = f.do(t, http.MethodPost, "/api/digest", "")
	body := assertError(t, rec, http.StatusInternalServerError, domain.KindInternal)
	assert.Equal(t, "internal error", body.Error.Message)
}

func TestBacktests_Lifecycle(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})
	ctx := context.Background()
	src := f.seedSource(t)
	stream := domain.Stream{SourceID: src.ID, Name: "s"}
	require.NoError(t, f.store.CreateStream(ctx, &stream))

	posted := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		c := domain.Content{SourceID: src.ID, ExternalID: fmt.Sprint(i), RawText: fmt.Sprintf("item %d", i), PostedAt: posted.Add(time.Duration(i) * time.Hour)}
		_, err := f.store.CreateContent(ctx, &c)
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodPost, "/api/backtests", fmt.Sprintf(
		`{"stream_id":%q,"range_start":"2025-02-11T00:00:00Z","range_end":"2025-02-10T00:00:00Z"}`, stream.ID))
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = f.do(t, http.MethodPost, "/api/backtests", fmt.Sprintf(
		`{"stream_id":%q,"range_start":"2024-01-01T00:00:00Z","range_end":"2024-02-01T00:00:00Z"}`, stream.ID))
	assertError(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = f.do(t, http.MethodPost, "/api/backtests", fmt.Sprintf(
		`{"stream_id":%q,"range_start":"2025-02-01T00:00:00Z","range_end":"2025-03-01T00:00:00Z"}`, stream.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bt := decode[domain.Backtest](t, rec)
	assert.Equal(t, domain.BacktestPending, bt.Status)
	assert.Equal(t, 3, bt.TotalItems)

	rec = f.do(t, http.MethodPost, "/api/backtests/"+bt.ID+"/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotEqual(t, domain.BacktestPending, decode[domain.Backtest](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/api/backtests/"+bt.ID+"/run", "")
	assertError(t, rec, http.StatusConflict, domain.KindConflict)

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/backtests/"+bt.ID, "")
		return decode[domain.Backtest](t, rec).Status == domain.BacktestCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/backtests/"+bt.ID+"/results", "")
	results := decode[[]domain.BacktestResult](t, rec)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, domain.ResultSuccess, r.Status)
	}

	rec = f.do(t, http.MethodGet, "/api/backtests/missing", "")
	assertError(t, rec, http.StatusNotFound, domain.KindNotFound)
	rec = f.do(t, http.MethodGet, "/api/backtests/missing/results", "")
	assertError(t, rec, http.StatusNotFound, domain.KindNotFound)
}

func TestEvents_StreamsHubEvents(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	f.hub.Emit("notification_sent", map[string]string{"stream_id": "s1"})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && eventLine != "":
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "notification_sent", eventLine)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, "notification_sent", ev.Name)
	assert.Equal(t, map[string]any{"stream_id": "s1"}, ev.Payload)

	cancel()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestErrorHandler_EchoErrorsKeepStatus(t *testing.T) {
	f := newAPIFixture(t, fakeSweeper{}, fakeTicker{})

	rec := f.do(t, http.MethodPut, "/api/poll", "")
	assertError(t, rec, http.StatusMethodNotAllowed, domain.KindNotFound)

	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(domain.KindUnavailable))
	assert.Equal(t, domain.KindInvalid, kindForStatus(http.StatusUnprocessableEntity))
	assert.Equal(t, domain.KindInternal, kindForStatus(http.StatusBadGateway))
}
