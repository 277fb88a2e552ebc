// Package sessionstore persists upload session records across process
// restarts. Each session is one JSON file keyed by session id under the
// state directory.
//
// Writes are atomic (temp file + rename) so a crash never leaves a
// half-written record; readers tolerate records that are slightly stale.
package sessionstore
