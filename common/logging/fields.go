package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across the job.
const (
	FieldService  = "service"
	FieldRunID    = "run_id"
	FieldState    = "state"
	FieldAttempt  = "attempt"
	FieldWait     = "wait"
	FieldKey      = "key"
	FieldBucket   = "bucket"
	FieldURL      = "url"
	FieldStatus   = "status"
	FieldDuration = "duration_ms"
	FieldError    = "error"
	FieldCount    = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// RunID returns a slog attribute for the run identifier.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// State returns a slog attribute for a pipeline state.
func State(state string) slog.Attr {
	return slog.String(FieldState, state)
}

// Attempt returns a slog attribute for a 1-based attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Wait returns a slog attribute for a backoff interval.
func Wait(d time.Duration) slog.Attr {
	return slog.Duration(FieldWait, d)
}

// Key returns a slog attribute for an object key.
func Key(key string) slog.Attr {
	return slog.String(FieldKey, key)
}

// Bucket returns a slog attribute for a bucket name.
func Bucket(name string) slog.Attr {
	return slog.String(FieldBucket, name)
}

// URL returns a slog attribute for a request URL.
func URL(url string) slog.Attr {
	return slog.String(FieldURL, url)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Count returns a slog attribute for a record count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
