package http

import (
	"encoding/json"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/institutehub/webhook-gateway/internal/service/events"
	"github.com/institutehub/webhook-gateway/internal/webhook"
)

type eventReq struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// triggerEventHandler fans an event out synchronously and returns the
// per-subscriber outcomes. The call succeeds even if every delivery
// fails; zero matching subscribers yields an empty result list.
func triggerEventHandler(d *webhook.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req eventReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Event = strings.TrimSpace(req.Event)
		if req.Event == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
		}
		if len(req.Data) == 0 {
			req.Data = json.RawMessage(`{}`)
		}

		results, err := d.Trigger(c.Request().Context(), req.Event, req.Data)
		if err != nil {
			log.Errorf("trigger failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "trigger failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"event":   req.Event,
			"count":   len(results),
			"results": results,
		})
	}
}

// publishEventHandler accepts an event for asynchronous fan-out through
// the outbox; the events worker performs the deliveries.
func publishEventHandler(svc *events.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req eventReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Event = strings.TrimSpace(req.Event)
		if req.Event == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
		}

		id, err := svc.Publish(c.Request().Context(), req.Event, req.Data)
		if err != nil {
			log.Errorf("publish event failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued": true,
			"id":       id,
			"event":    req.Event,
		})
	}
}
