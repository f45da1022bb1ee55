// Package ratelimit implements the spawn rate limiter referenced by
// SPEC_FULL.md §4.9: a fixed-window counter reset whenever at least one
// second has elapsed since the last reset (spec.md §4.1 invariant 2).
package ratelimit

// Limiter decides whether one more background spawn may proceed this
// instant.
type Limiter interface {
	// Allow returns true if the caller may spawn now, having consumed one
	// slot from the current window; false if the limit for the current
	// window has already been reached.
	Allow() bool
}
