// Package dedupe provides request deduplication using a time-based cache.
// Duplicate deliveries of the same request ID replay the remembered outcome
// instead of running the collaboration pipeline again.
package dedupe
