package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/repository"
)

// deliveriesReportHandler serves bulk delivery-history reports from the
// ClickHouse replica instead of the authoritative MySQL ledger.
func deliveriesReportHandler(chRepo repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var st model.DeliveryStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.DeliveryStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		subscriberID := strings.TrimSpace(c.QueryParam("subscriber_id"))
		event := strings.TrimSpace(c.QueryParam("event"))

		dels, err := chRepo.List(
			c.Request().Context(),
			subscriberID,
			event,
			st,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(dels),
			"results": dels,
		})
	}
}
