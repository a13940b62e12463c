package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/usecase"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listSourceTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"types": h.sources.Types()})
}

type createSourceRequest struct {
	Type       string            `json:"type"`
	Identifier string            `json:"identifier"`
	Config     map[string]string `json:"config"`
}

func (h *Handler) createSource(c echo.Context) error {
	var req createSourceRequest
	if err := c.Bind(&req); err != nil {
		return invalid("malformed request body")
	}
	req.Type = strings.TrimSpace(req.Type)
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Type == "" || req.Identifier == "" {
		return invalid("type and identifier are required")
	}
	if err := h.sources.Validate(req.Type, req.Identifier, req.Config); err != nil {
		return err
	}

	src := domain.Source{Type: req.Type, Identifier: req.Identifier, Config: req.Config}
	if err := h.store.CreateSource(c.Request().Context(), &src); err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	h.logger.Info("source created", "source_id", src.ID, "type", src.Type)
	return c.JSON(http.StatusCreated, src)
}

func (h *Handler) listSources(c echo.Context) error {
	sources, err := h.store.ListSources(c.Request().Context())
	if err != nil {
		return err
	}
	if sources == nil {
		sources = []domain.Source{}
	}
	return c.JSON(http.StatusOK, sources)
}

func (h *Handler) getSource(c echo.Context) error {
	src, err := h.store.GetSource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, src)
}

func (h *Handler) deleteSource(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.DeleteSource(c.Request().Context(), id); err != nil {
		return err
	}
	h.logger.Info("source deleted", "source_id", id)
	return c.NoContent(http.StatusNoContent)
}

type createStreamRequest struct {
	SourceID           string                    `json:"source_id"`
	Name               string                    `json:"name"`
	Status             domain.StreamStatus       `json:"status"`
	PromptTemplate     domain.PromptTemplate     `json:"prompt_template"`
	NotificationConfig domain.NotificationConfig `json:"notification_config"`
	LLMConfig          domain.LLMConfig          `json:"llm_config"`
	AggregationConfig  domain.AggregationConfig  `json:"aggregation_config"`
}

func validStatus(status domain.StreamStatus) bool {
	return status == domain.StreamActive || status == domain.StreamPaused
}

func (h *Handler) createStream(c echo.Context) error {
	var req createStreamRequest
	if err := c.Bind(&req); err != nil {
		return invalid("malformed request body")
	}
	if strings.TrimSpace(req.SourceID) == "" || strings.TrimSpace(req.Name) == "" {
		return invalid("source_id and name are required")
	}
	if req.Status == "" {
		req.Status = domain.StreamActive
	}
	if !validStatus(req.Status) {
		return invalid("status must be active or paused")
	}

	agg := req.AggregationConfig
	agg.LastRun, agg.NextRun = nil, nil
	if agg.Type != "" && agg.Type != domain.AggregationDigest {
		return fmt.Errorf("%w: unsupported aggregation type %q", domain.ErrInvalidConfig, agg.Type)
	}
	if agg.Type == domain.AggregationDigest {
		if err := usecase.ValidSchedule(agg.Schedule); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
	}

	ctx := c.Request().Context()
	if _, err := h.store.GetSource(ctx, req.SourceID); err != nil {
		return fmt.Errorf("load source: %w", err)
	}

	stream := domain.Stream{
		SourceID:           req.SourceID,
		Name:               strings.TrimSpace(req.Name),
		Status:             req.Status,
		PromptTemplate:     req.PromptTemplate,
		NotificationConfig: req.NotificationConfig,
		LLMConfig:          req.LLMConfig,
		AggregationConfig:  agg,
	}
	if err := h.store.CreateStream(ctx, &stream); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	h.logger.Info("stream created", "stream_id", stream.ID, "source_id", stream.SourceID, "digest", stream.IsDigest())
	return c.JSON(http.StatusCreated, stream)
}

func (h *Handler) listStreams(c echo.Context) error {
	streams, err := h.store.ListStreams(c.Request().Context())
	if err != nil {
		return err
	}
	if streams == nil {
		streams = []domain.Stream{}
	}
	return c.JSON(http.StatusOK, streams)
}

func (h *Handler) getStream(c echo.Context) error {
	stream, err := h.store.GetStream(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stream)
}

type statusRequest struct {
	Status domain.StreamStatus `json:"status"`
}

func (h *Handler) updateStreamStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return invalid("malformed request body")
	}
	if !validStatus(req.Status) {
		return invalid("status must be active or paused")
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if err := h.store.UpdateStreamStatus(ctx, id, req.Status); err != nil {
		return err
	}
	stream, err := h.store.GetStream(ctx, id)
	if err != nil {
		return err
	}
	h.logger.Info("stream status changed", "stream_id", id, "status", req.Status)
	return c.JSON(http.StatusOK, stream)
}

func (h *Handler) listLogs(c echo.Context) error {
	limit := defaultLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return invalid("limit must be a positive integer")
		}
		limit = min(n, maxLogLimit)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.store.GetStream(ctx, id); err != nil {
		return err
	}
	logs, err := h.store.ListLogs(ctx, id, limit)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []domain.Log{}
	}
	return c.JSON(http.StatusOK, logs)
}

func (h *Handler) listOutputs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.store.GetStream(ctx, id); err != nil {
		return err
	}

	filter := domain.LLMOutputFilter{StreamID: id, BacktestID: c.QueryParam("backtest_id")}
	filter.LiveOnly = filter.BacktestID == ""
	outputs, err := h.store.ListLLMOutputs(ctx, filter)
	if err != nil {
		return err
	}
	if outputs == nil {
		outputs = []domain.LLMOutput{}
	}
	return c.JSON(http.StatusOK, outputs)
}

// poll and runDigest detach from the request so a dropped client does not abort a sweep halfway.
func (h *Handler) poll(c echo.Context) error {
	report, err := h.poller.Sweep(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) runDigest(c echo.Context) error {
	report, err := h.digest.Tick(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

type createBacktestRequest struct {
	StreamID   string            `json:"stream_id"`
	RangeStart time.Time         `json:"range_start"`
	RangeEnd   time.Time         `json:"range_end"`
	Config     map[string]string `json:"config"`
}

func (h *Handler) createBacktest(c echo.Context) error {
	var req createBacktestRequest
	if err := c.Bind(&req); err != nil {
		return invalid("malformed request body")
	}
	if strings.TrimSpace(req.StreamID) == "" {
		return invalid("stream_id is required")
	}

	bt, err := h.backtests.Create(c.Request().Context(), usecase.CreateBacktestInput{
		StreamID:   req.StreamID,
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		Config:     req.Config,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, bt)
}

func (h *Handler) runBacktest(c echo.Context) error {
	id := c.Param("id")
	done, err := h.backtests.Run(c.Request().Context(), id)
	if err != nil {
		return err
	}

	logger := h.logger
	go func() {
		if err := <-done; err != nil {
			logger.Error("backtest replay failed", "backtest_id", id, "error", err)
		}
	}()

	bt, err := h.backtests.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, bt)
}

func (h *Handler) getBacktest(c echo.Context) error {
	bt, err := h.backtests.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bt)
}

func (h *Handler) backtestResults(c echo.Context) error {
	results, err := h.backtests.Results(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if results == nil {
		results = []domain.BacktestResult{}
	}
	return c.JSON(http.StatusOK, results)
}
