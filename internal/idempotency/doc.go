// Package idempotency provides a time-bounded replay cache keyed by
// Idempotency-Key header values, so that a retried request returns the
// result of the first attempt instead of repeating its side effect.
package idempotency
