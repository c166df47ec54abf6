package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/intentgate/ai"
)

// ErrorClass represents the category of a backend error for retry decisions.
type ErrorClass int

const (
	// Examples: connection reset, 5xx from the provider.
	ErrorClassTransient ErrorClass = iota

	// Examples: HTTP 429, provider quota throttling.
	ErrorClassRateLimited

	// Examples: backend or request deadline exceeded.
	ErrorClassTimeout

	// Examples: invalid API key, malformed reply, unknown model.
	ErrorClassPermanent
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassRateLimited:
		return "rate_limited"
	case ErrorClassTimeout:
		return "timeout"
	case ErrorClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification and retry guidance.
type ClassifiedError struct {
	Original   error
	Class      ErrorClass
	RetryAfter time.Duration
}

// Error returns a formatted error message.
func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// Retryable reports whether one extra attempt is allowed.
// Timeouts are not retried: the attempt already used the backend's budget.
func (c *ClassifiedError) Retryable() bool {
	return c.Class == ErrorClassTransient || c.Class == ErrorClassRateLimited
}

// ClassifyError analyzes a backend error and determines its class.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// 1. Local throttling, deadlines and cancellation
	if errors.Is(err, ai.ErrThrottled) {
		return &ClassifiedError{Class: ErrorClassTimeout, Original: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ClassifiedError{Class: ErrorClassTimeout, Original: err}
	}

	// 2. Provider HTTP status
	if status, ok := httpStatus(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			return &ClassifiedError{Class: ErrorClassRateLimited, Original: err, RetryAfter: time.Second}
		case status >= 500:
			return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 500 * time.Millisecond}
		default:
			return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
		}
	}

	// 3. Timeouts reported by the network stack
	if isTimeoutError(err) {
		return &ClassifiedError{Class: ErrorClassTimeout, Original: err}
	}

	// 4. Network errors
	if isNetworkError(err) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 200 * time.Millisecond}
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return &ClassifiedError{Class: ErrorClassRateLimited, Original: err, RetryAfter: time.Second}
	}

	// Default to permanent for unknown errors (fail safe)
	return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
}

func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// isNetworkError checks if an error is network-related (transient).
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Check for common network error patterns
	errMsg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"temporary failure",
		"dial tcp",
		"unexpected eof",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if an error is timeout-related.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	timeoutPatterns := []string{
		"timeout",
		"deadline exceeded",
		"operation timed out",
	}

	for _, pattern := range timeoutPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}
