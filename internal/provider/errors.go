package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

// ProviderError is a failed provider call. Transient marks failures that are likely to
// succeed on a later attempt (timeouts, 429, 5xx).
type ProviderError struct {
	Channel    domain.Channel
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	if e.Channel != "" {
		parts = append(parts, fmt.Sprintf("%s provider error", strings.ToLower(e.Channel.String())))
	} else {
		parts = append(parts, "provider error")
	}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error is likely to clear up on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// IsProviderError reports whether err came from a provider call rather than input validation.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func requestError(channel domain.Channel, err error) *ProviderError {
	return &ProviderError{
		Channel:   channel,
		Message:   "provider request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func statusError(channel domain.Channel, statusCode int, code string, message string) *ProviderError {
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("provider returned status %d", statusCode)
	}
	return &ProviderError{
		Channel:    channel,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
