package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks network, timeout, and 5xx conditions: retry later,
	// never fail a job because of one.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks conditions that will never succeed on retry, such
	// as the external service no longer knowing the job.
	ErrPermanent = errors.New("permanent failure")
	// ErrValidation marks malformed input (webhook payloads, API requests).
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a stale-revision write that could not be applied.
	ErrConflict = errors.New("concurrency conflict")
)

// Wrap builds an error message that includes component context while
// tagging it with the provided marker for later classification. The marker
// should be one of the exported sentinels above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether err should be retried later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
