package server

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/limiter"
	"github.com/hrygo/intentgate/plugin/chat_apps/channels/telegram"
)

const healthTimeout = 2 * time.Second

// ClassifyRequest is the body of POST /api/v1/classify.
type ClassifyRequest struct {
	ID       string `json:"id"`
	CallerID string `json:"caller_id"`
	Text     string `json:"text"`
	// Timestamp is when the message was sent; zero means now.
	Timestamp time.Time `json:"timestamp"`
	Timezone  string    `json:"timezone"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Backends []string       `json:"backends"`
	Usage    *limiter.Usage `json:"usage,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
	}
	req.ID = strings.TrimSpace(req.ID)
	req.CallerID = strings.TrimSpace(req.CallerID)
	if req.CallerID == "" {
		req.CallerID = tokenSubject(c)
	}
	switch {
	case req.ID == "":
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "id is required"})
	case req.CallerID == "":
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "caller_id is required"})
	case strings.TrimSpace(req.Text) == "":
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "text is required"})
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	msg := &ai.IncomingMessage{
		ID:        req.ID,
		CallerID:  req.CallerID,
		Text:      req.Text,
		Timestamp: req.Timestamp,
	}
	res, err := s.deps.Classifier.Classify(c.Request().Context(), msg, req.Timezone)
	return c.JSON(classifyStatus(res, err), res)
}

// classifyStatus maps a Classify outcome to an HTTP status. Every outcome
// carries a Result body.
func classifyStatus(res *ai.Result, err error) int {
	switch {
	case err == nil && res.Status == ai.StatusLimited:
		return http.StatusTooManyRequests
	case err == nil, errors.Is(err, ai.ErrAllBackendsFailed):
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}

// handleTelegram classifies one Telegram update. Updates without text are
// acknowledged so Telegram stops redelivering them.
func (s *Server) handleTelegram(c echo.Context) error {
	if secret := s.Profile.TelegramWebhookSecret; secret != "" {
		got := c.QueryParam("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: "invalid webhook secret"})
		}
	}

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "failed to read body"})
	}

	msg, err := telegram.ParseUpdate(payload)
	switch {
	case errors.Is(err, telegram.ErrUnsupportedUpdate):
		s.logger.Debug("telegram: ignoring update", "error", err)
		return c.NoContent(http.StatusOK)
	case err != nil:
		s.logger.Warn("telegram: failed to parse update", "error", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid telegram update"})
	}

	res, err := s.deps.Classifier.Classify(c.Request().Context(), msg, c.QueryParam("tz"))
	if err != nil && !errors.Is(err, ai.ErrAllBackendsFailed) {
		// Telegram redelivers on non-2xx, so store outages are retried.
		return c.JSON(http.StatusServiceUnavailable, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Version:  s.Profile.Version,
		Backends: s.deps.Classifier.Backends(),
	}
	if err := s.Store.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	if caller := c.QueryParam("caller"); caller != "" && s.deps.Usage != nil {
		usage, err := s.deps.Usage.Snapshot(ctx, caller)
		if err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.Usage = usage
	}
	return c.JSON(http.StatusOK, resp)
}
