package http

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/repository"
	"github.com/institutehub/webhook-gateway/internal/webhook"
)

func listDeliveriesHandler(repo repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := model.DeliveryFilter{
			SubscriberID: c.QueryParam("subscriber_id"),
			Limit:        50,
		}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}

		dels, err := repo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("list deliveries failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"count":   len(dels),
			"results": dels,
		})
	}
}

func getDeliveryHandler(repo repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		del, err := repo.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if del == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "delivery not found"})
		}
		return c.JSON(http.StatusOK, del)
	}
}

// retryDeliveryHandler re-runs a recorded delivery. Already-successful
// deliveries are rejected with a conflict; missing delivery or
// subscriber maps to not found.
func retryDeliveryHandler(d *webhook.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := d.Retry(c.Request().Context(), c.Param("id"))
		if err != nil {
			switch {
			case errors.Is(err, webhook.ErrDeliveryNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "delivery not found"})
			case errors.Is(err, webhook.ErrSubscriberNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "subscriber not found"})
			case errors.Is(err, webhook.ErrAlreadySucceeded):
				return c.JSON(http.StatusConflict, map[string]string{"error": "delivery already succeeded"})
			default:
				log.Errorf("retry delivery failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
			}
		}
		return c.JSON(http.StatusOK, res)
	}
}

func statsHandler(d *webhook.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := d.Statistics(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("stats failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stats failed"})
		}
		return c.JSON(http.StatusOK, st)
	}
}
