package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dqinsight/internal/chart"
	"dqinsight/internal/llm"
	"dqinsight/internal/logging"
	"dqinsight/internal/orchestrator"
)

// statusClientClosedRequest is reported when the caller goes away mid-run.
const statusClientClosedRequest = 499

type askRequest struct {
	Query string `json:"query"`
	// UseDataset defaults to true; false skips the dataset attachment.
	UseDataset *bool `json:"useDataset,omitempty"`
}

// GET /api/health
func healthHandler(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"provider": provider,
		})
	}
}

// POST /api/ask
func askHandler(opts Options, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(requestIDKey)

		var body askRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "requestId": id})
			return
		}
		query := strings.TrimSpace(body.Query)
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required", "requestId": id})
			return
		}
		if utf8.RuneCountInString(query) > opts.MaxQueryLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is too long", "requestId": id})
			return
		}
		if opts.Asker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ask pipeline not configured", "requestId": id})
			return
		}

		ctx := c.Request.Context()
		if opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
			defer cancel()
		}

		res, err := opts.Asker.Ask(ctx, orchestrator.Request{
			Query:     query,
			NoDataset: body.UseDataset != nil && !*body.UseDataset,
			RequestID: id,
		})
		if err != nil {
			status := StatusFor(err)
			logging.WithContext(ctx, logger).Warn("ask failed",
				zap.Int("status", status), zap.Error(err))
			c.Header(HeaderOutcome, string(orchestrator.StateFailed))
			c.JSON(status, gin.H{
				"error":     publicMessage(status),
				"kind":      errorKind(err),
				"requestId": id,
			})
			return
		}

		c.Header(HeaderOutcome, string(res.Outcome))
		c.JSON(http.StatusOK, res.Response)
	}
}

// StatusFor maps a pipeline error onto the HTTP status returned to the
// dashboard.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}

	var se *chart.StructuralError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}

	switch llm.KindOf(err) {
	case llm.KindConfig:
		return http.StatusInternalServerError
	case llm.KindRateLimited, llm.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func errorKind(err error) string {
	var se *chart.StructuralError
	if errors.As(err, &se) {
		return "structural"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return llm.KindOf(err).String()
}

// publicMessage keeps provider details out of responses; they are logged.
func publicMessage(status int) string {
	switch status {
	case http.StatusInternalServerError:
		return "AI service is not configured"
	case http.StatusServiceUnavailable:
		return "AI service is temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "AI service timed out"
	case statusClientClosedRequest:
		return "request cancelled"
	default:
		return "AI service returned an unusable response"
	}
}
