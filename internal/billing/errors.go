package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAccessToken is returned when the Polar access token is missing.
	ErrInvalidAccessToken = errors.New("billing: invalid or missing access token")

	// ErrInvalidWebhookSecret is returned when the configured webhook secret
	// cannot be decoded.
	ErrInvalidWebhookSecret = errors.New("billing: invalid webhook secret")

	// ErrMissingSignature is returned when a webhook delivery lacks the
	// signature headers.
	ErrMissingSignature = errors.New("billing: missing webhook signature headers")

	// ErrInvalidSignature is returned when webhook signature verification fails.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")

	// ErrTimestampTolerance is returned when a webhook timestamp falls outside
	// the accepted clock-skew window. Stale deliveries are rejected to prevent
	// replay.
	ErrTimestampTolerance = errors.New("billing: webhook timestamp outside tolerance")

	// ErrMalformedPayload is returned when a webhook body is not a valid event
	// envelope.
	ErrMalformedPayload = errors.New("billing: malformed webhook payload")
)

// PolarError wraps a Polar API error response with request context.
type PolarError struct {
	Message       string // Human-readable error message
	StatusCode    int    // HTTP status returned by Polar
	RequestID     string // Polar request ID for debugging
	OriginalError error  // Underlying transport error, if any
}

func (e *PolarError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("polar: %s (status: %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("polar: %s", e.Message)
}

func (e *PolarError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *PolarError) IsTemporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
