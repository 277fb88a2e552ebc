// Package progress accumulates per-part byte counts for an upload and drives
// the caller's progress callback.
//
// The aggregator is safe for concurrent use by upload workers. Callback
// invocations are serialized and coalesced to at most one per configured
// interval; the terminal emission bypasses the throttle so callers always
// observe the final totals. Reported byte counts never decrease over the life
// of a session.
package progress
