// Package httpapi exposes source, stream and backtest management plus operational
// endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/infrastructure/events"
	"FeedSentry/internal/ports"
	"FeedSentry/internal/usecase"
)

// SourceValidator checks source definitions against the registered adapters.
type SourceValidator interface {
	Validate(sourceType, identifier string, config map[string]string) error
	Types() []string
}

// Sweeper runs one polling sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (usecase.SweepReport, error)
}

// DigestTicker runs one digest evaluation on demand.
type DigestTicker interface {
	Tick(ctx context.Context) (usecase.DigestReport, error)
}

// Backtests is the backtest lifecycle driven by the API.
type Backtests interface {
	Create(ctx context.Context, in usecase.CreateBacktestInput) (domain.Backtest, error)
	Run(ctx context.Context, id string) (<-chan error, error)
	Get(ctx context.Context, id string) (domain.Backtest, error)
	Results(ctx context.Context, id string) ([]domain.BacktestResult, error)
}

// Deps wires the handlers.
type Deps struct {
	Store     ports.Store
	Sources   SourceValidator
	Poller    Sweeper
	Digest    DigestTicker
	Backtests Backtests
	Events    *events.Hub
	Logger    *slog.Logger
	// Heartbeat spaces SSE keep-alive comments; defaults to 15s.
	Heartbeat time.Duration
}

// Handler serves the API.
type Handler struct {
	store     ports.Store
	sources   SourceValidator
	poller    Sweeper
	digest    DigestTicker
	backtests Backtests
	hub       *events.Hub
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewServer builds the echo instance with every route registered.
func NewServer(deps Deps) *echo.Echo {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	h := &Handler{
		store:     deps.Store,
		sources:   deps.Sources,
		poller:    deps.Poller,
		digest:    deps.Digest,
		backtests: deps.Backtests,
		hub:       deps.Events,
		logger:    logger,
		heartbeat: deps.Heartbeat,
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/healthz" || path == "/metrics"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.DebugContext(c.Request().Context(), "http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"error", v.Error)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/source-types", h.listSourceTypes)
	api.POST("/sources", h.createSource)
	api.GET("/sources", h.listSources)
	api.GET("/sources/:id", h.getSource)
	api.DELETE("/sources/:id", h.deleteSource)

	api.POST("/streams", h.createStream)
	api.GET("/streams", h.listStreams)
	api.GET("/streams/:id", h.getStream)
	api.PATCH("/streams/:id/status", h.updateStreamStatus)
	api.GET("/streams/:id/logs", h.listLogs)
	api.GET("/streams/:id/outputs", h.listOutputs)

	api.POST("/poll", h.poll)
	api.POST("/digest", h.runDigest)

	api.POST("/backtests", h.createBacktest)
	api.POST("/backtests/:id/run", h.runBacktest)
	api.GET("/backtests/:id", h.getBacktest)
	api.GET("/backtests/:id/results", h.backtestResults)

	api.GET("/events", h.streamEvents)
	return e
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return domain.KindNotFound
	case http.StatusConflict:
		return domain.KindConflict
	case http.StatusServiceUnavailable:
		return domain.KindUnavailable
	}
	if status >= 400 && status < 500 {
		return domain.KindInvalid
	}
	return domain.KindInternal
}

// errorHandler renders every error as {"error":{"kind","message"}}. Internal details stay in the log.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status int
			body   errorBody
		)
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			body.Error.Kind = kindForStatus(status)
			if msg, ok := httpErr.Message.(string); ok {
				body.Error.Message = msg
			} else {
				body.Error.Message = http.StatusText(status)
			}
		} else {
			body.Error.Kind = domain.Kind(err)
			status = statusForKind(body.Error.Kind)
			body.Error.Message = err.Error()
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "uri", c.Request().RequestURI, "error", err)
			if body.Error.Kind == domain.KindInternal {
				body.Error.Message = "internal error"
			}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Warn("write error response", "error", writeErr)
		}
	}
}

func invalid(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
