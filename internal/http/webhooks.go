package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/repository"
	"github.com/institutehub/webhook-gateway/internal/util"
	"github.com/institutehub/webhook-gateway/internal/webhook"
)

type createWebhookReq struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Events      []string          `json:"events"`
	Secret      string            `json:"secret"`
	Headers     map[string]string `json:"headers"`
	MaxAttempts int               `json:"max_attempts"`
	TimeoutMs   int               `json:"timeout_ms"`
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func createWebhookHandler(repo repository.SubscribersRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createWebhookReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Name = strings.TrimSpace(req.Name)
		req.URL = strings.TrimSpace(req.URL)

		if req.Name == "" || !validURL(req.URL) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "name and a valid http(s) url are required"})
		}
		events := make([]string, 0, len(req.Events))
		for _, e := range req.Events {
			if e = strings.TrimSpace(e); e != "" {
				events = append(events, e)
			}
		}
		if len(events) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "at least one event is required"})
		}
		if req.MaxAttempts == 0 {
			req.MaxAttempts = model.DefaultMaxAttempts
		}
		if req.MaxAttempts < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "max_attempts must be >= 1"})
		}
		if req.TimeoutMs == 0 {
			req.TimeoutMs = model.DefaultTimeoutMs
		}
		if req.TimeoutMs < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "timeout_ms must be > 0"})
		}

		sub := model.Subscriber{
			ID:          util.New(),
			Name:        req.Name,
			URL:         req.URL,
			Events:      events,
			Secret:      req.Secret,
			Headers:     req.Headers,
			IsActive:    true,
			MaxAttempts: req.MaxAttempts,
			TimeoutMs:   req.TimeoutMs,
		}
		if err := repo.Insert(c.Request().Context(), sub); err != nil {
			log.Errorf("insert subscriber failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, sub)
	}
}

func listWebhooksHandler(repo repository.SubscribersRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := 50, 0
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

		subs, err := repo.List(c.Request().Context(), limit, offset)
		if err != nil {
			c.Logger().Errorf("list subscribers failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(subs),
			"results": subs,
		})
	}
}

func getWebhookHandler(repo repository.SubscribersRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		sub, err := repo.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if sub == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		return c.JSON(http.StatusOK, sub)
	}
}

type updateWebhookReq struct {
	Name        *string            `json:"name"`
	URL         *string            `json:"url"`
	Events      *[]string          `json:"events"`
	Secret      *string            `json:"secret"`
	Headers     *map[string]string `json:"headers"`
	IsActive    *bool              `json:"is_active"`
	MaxAttempts *int               `json:"max_attempts"`
	TimeoutMs   *int               `json:"timeout_ms"`
}

// updateWebhookHandler applies a partial update: retargeting the URL,
// rotating the secret, toggling active, replacing events or headers.
func updateWebhookHandler(repo repository.SubscribersRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		sub, err := repo.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if sub == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}

		var req updateWebhookReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if req.Name != nil {
			if *req.Name = strings.TrimSpace(*req.Name); *req.Name == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "name must not be empty"})
			}
			sub.Name = *req.Name
		}
		if req.URL != nil {
			if !validURL(*req.URL) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid url"})
			}
			sub.URL = *req.URL
		}
		if req.Events != nil {
			if len(*req.Events) == 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "at least one event is required"})
			}
			sub.Events = *req.Events
		}
		if req.Secret != nil {
			sub.Secret = *req.Secret
		}
		if req.Headers != nil {
			sub.Headers = *req.Headers
		}
		if req.IsActive != nil {
			sub.IsActive = *req.IsActive
		}
		if req.MaxAttempts != nil {
			if *req.MaxAttempts < 1 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "max_attempts must be >= 1"})
			}
			sub.MaxAttempts = *req.MaxAttempts
		}
		if req.TimeoutMs != nil {
			if *req.TimeoutMs <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "timeout_ms must be > 0"})
			}
			sub.TimeoutMs = *req.TimeoutMs
		}

		if err := repo.Update(c.Request().Context(), *sub); err != nil {
			log.Errorf("update subscriber failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, sub)
	}
}

// deleteWebhookHandler soft-deletes: the registration leaves fan-out but
// its delivery history is kept.
func deleteWebhookHandler(repo repository.SubscribersRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		sub, err := repo.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if sub == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		if err := repo.SetActive(c.Request().Context(), sub.ID, false); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"deactivated": true, "id": sub.ID})
	}
}

type testWebhookReq struct {
	URL       string            `json:"url"`
	Secret    string            `json:"secret"`
	Headers   map[string]string `json:"headers"`
	Event     string            `json:"event"`
	Data      map[string]any    `json:"data"`
	TimeoutMs int               `json:"timeout_ms"`
}

// testWebhookHandler performs a single synchronous attempt against an
// ad-hoc endpoint so operators can validate it before registering. No
// persistence, no retries.
func testWebhookHandler(d *webhook.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req testWebhookReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if !validURL(strings.TrimSpace(req.URL)) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "a valid http(s) url is required"})
		}

		treq := webhook.TestRequest{
			URL:     strings.TrimSpace(req.URL),
			Secret:  req.Secret,
			Headers: req.Headers,
			Event:   req.Event,
			Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
		}
		if req.Data != nil {
			raw, err := json.Marshal(req.Data)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad data"})
			}
			treq.Data = json.RawMessage(raw)
		}

		res, err := d.TestDelivery(c.Request().Context(), treq)
		if err != nil {
			return c.JSON(http.StatusOK, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success":       true,
			"response_code": res.StatusCode,
			"response_body": res.Body,
		})
	}
}
