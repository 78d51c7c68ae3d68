package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Kind is the closed set of failure classes the orchestrator branches on.
// It is decided once, where a provider error enters this package.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig means the call cannot succeed until configuration changes
	// (missing or rejected API key).
	KindConfig
	// KindEmptyContent means the provider answered without usable content.
	KindEmptyContent
	// KindBadRequest means the provider rejected the request payload.
	KindBadRequest
	KindRateLimited
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindEmptyContent:
		return "empty_content"
	case KindBadRequest:
		return "bad_request"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	ErrNoAPIKey     = errors.New("API key not configured")
	ErrNoCandidates = errors.New("no candidates in response")
	ErrEmptyParts   = errors.New("empty parts array in code execution response")
	ErrNoText       = errors.New("no text found in parts")
	ErrUnsupported  = errors.New("operation not supported by provider")
)

// Error is returned by every client in this package.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP answer from a provider spoken to over raw HTTP.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

func newError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Kind: Classify(err), Provider: provider, Op: op, Err: err}
}

// KindOf returns the kind carried by err, classifying untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return Classify(err)
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindConfig, KindBadRequest:
		return false
	}
	return true
}

// Classify decides the Kind of a raw provider error. Typed errors are
// inspected first; message matching is the last resort.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}

	switch {
	case errors.Is(err, ErrNoAPIKey), errors.Is(err, ErrUnsupported):
		return KindConfig
	case errors.Is(err, ErrNoCandidates), errors.Is(err, ErrEmptyParts), errors.Is(err, ErrNoText):
		return KindEmptyContent
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(apiErrPtr.Code, apiErrPtr.Message)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, statusErr.Body)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return classifyMessage(err.Error())
}

func classifyStatus(code int, message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindConfig
	case code == http.StatusBadRequest:
		if strings.Contains(lower, "api key") || strings.Contains(lower, "api_key") {
			return KindConfig
		}
		return KindBadRequest
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	case code >= 400:
		return KindBadRequest
	}
	return classifyMessage(message)
}

func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "api key"):
		return KindConfig
	case strings.Contains(m, "no candidates"),
		strings.Contains(m, "empty parts"),
		strings.Contains(m, "no text found"):
		return KindEmptyContent
	case strings.Contains(m, "429"),
		strings.Contains(m, "rate limit"),
		strings.Contains(m, "resource_exhausted"),
		strings.Contains(m, "quota"):
		return KindRateLimited
	case strings.Contains(m, "400"),
		strings.Contains(m, "invalid json payload"),
		strings.Contains(m, "invalid_argument"):
		return KindBadRequest
	case strings.Contains(m, "timeout"),
		strings.Contains(m, "unavailable"),
		strings.Contains(m, "connection reset"),
		strings.Contains(m, "eof"),
		strings.Contains(m, "500"),
		strings.Contains(m, "502"),
		strings.Contains(m, "503"),
		strings.Contains(m, "504"):
		return KindTransient
	}
	return KindUnknown
}
