package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// streamEvents relays hub events as server-sent events until the client leaves.
func (h *Handler) streamEvents(c echo.Context) error {
	if h.hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream disabled")
	}

	w := c.Response().Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := c.Response().Write([]byte(": heartbeat\n\n")); err != nil {
				h.logger.Debug("sse client gone", "error", err)
				return nil
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("encode event", "event", ev.Name, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				h.logger.Debug("sse client gone", "error", err)
				return nil
			}
			flusher.Flush()
		}
	}
}
