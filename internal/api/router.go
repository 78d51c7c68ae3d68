// Package api exposes the ask pipeline over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dqinsight/internal/logging"
	"dqinsight/internal/orchestrator"
)

// Header names set on every /api/ask response.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderOutcome   = "X-Ask-Outcome"
)

// DefaultMaxQueryLength bounds the question size when Options leaves it unset.
const DefaultMaxQueryLength = 2000

// Asker runs one question through the pipeline. *orchestrator.Orchestrator
// satisfies it.
type Asker interface {
	Ask(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Options configures the router.
type Options struct {
	Asker          Asker
	MaxQueryLength int
	// RequestTimeout bounds a single ask; zero leaves only the client's
	// own cancellation in effect.
	RequestTimeout time.Duration
	// Provider is reported by the health endpoint.
	Provider string
	Logger   *zap.Logger
}

// SetupRouter builds the gin engine serving the ask API.
func SetupRouter(opts Options) *gin.Engine {
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = DefaultMaxQueryLength
	}
	logger := logging.For(opts.Logger, logging.CategoryAPI)

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(logger))

	group := r.Group("/api")
	{
		group.GET("/health", healthHandler(opts.Provider))
		group.POST("/ask", askHandler(opts, logger))
	}
	return r
}
