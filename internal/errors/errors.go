// Package errors holds the error taxonomy shared by the reconciliation core
// and its storage and network edges.
package errors

import (
	"errors"
	"fmt"
)

// ErrInvalidIdentifier means a string is neither 64-char hex nor a valid npub.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ErrNotFound means no repository matched a finder query.
var ErrNotFound = errors.New("repository not found")

// ErrStorageQuotaExceeded means a cache write was refused for size.
var ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

// ErrNetworkUnavailable means a relay or other remote collaborator could not
// be reached. Callers may retry.
var ErrNetworkUnavailable = errors.New("network unavailable")

// ErrUnknownKind is the cause of an EventParseError for kinds outside the
// closed set of handled events.
var ErrUnknownKind = errors.New("unrecognized event kind")

// EventParseError describes a single malformed ingested event.
type EventParseError struct {
	EventID string
	Kind    int
	Reason  string
	Err     error
}

func (e *EventParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s (kind %d): %s: %v", e.EventID, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("event %s (kind %d): %s", e.EventID, e.Kind, e.Reason)
}

func (e *EventParseError) Unwrap() error {
	return e.Err
}

// QuotaError is returned by cache writes whose serialized value is over the
// configured per-value limit.
type QuotaError struct {
	Key   string
	Size  int
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("value for %q is %d bytes, limit is %d", e.Key, e.Size, e.Limit)
}

// Is reports QuotaError as ErrStorageQuotaExceeded.
func (e *QuotaError) Is(target error) bool {
	return target == ErrStorageQuotaExceeded
}

// NetworkError wraps a failure to reach a remote collaborator.
type NetworkError struct {
	Target string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network unavailable: %s: %v", e.Target, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is reports NetworkError as ErrNetworkUnavailable.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetworkUnavailable
}
