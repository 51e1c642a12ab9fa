package learngraph

import (
	"context"
	"errors"
	"strings"

	"github.com/dan-solli/learngraph/pkg/events"
)

// Error type constants for classification
const (
	ErrTypeDatabase   = "database"
	ErrTypeValidation = "validation"
	ErrTypeTimeout    = "timeout"
	ErrTypeCanceled   = "canceled"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError returns a coarse error category for metrics and trace
// labels. A nil error classifies as "".
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrTypeCanceled
	}
	var perr *events.PayloadError
	if errors.As(err, &perr) {
		return ErrTypeValidation
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return ErrTypeTimeout
	}

	// SQLite drivers report through database/sql with these markers.
	if strings.Contains(msg, "sql") ||
		strings.Contains(msg, "database") ||
		strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "failed to begin") ||
		strings.Contains(msg, "failed to commit") {
		return ErrTypeDatabase
	}

	if strings.Contains(msg, "validation") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "required") ||
		strings.Contains(msg, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
