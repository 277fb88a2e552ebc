// Package upstream provides resumable, concurrent multipart uploads to
// S3-compatible object storage. It wraps AWS SDK v2 with a session layer
// that persists per-part state, so large transfers survive crashes,
// restarts, and network loss without re-uploading stored parts.
//
// Files below a configurable threshold go up in a single request. Larger
// files are split into parts by a size-tiered policy and uploaded by a
// bounded worker pool with exponential backoff on transient failures.
// Every part transition is persisted before it is reported, which makes
// resumption a local reconciliation against what the backend already
// holds.
//
// Key features:
//   - Simple, zero-configuration usage with AWS credential chain
//   - Progressive enhancement through functional options
//   - Crash-safe sessions resumable by destination or session id
//   - Bucket addressing by pipeline role rather than raw names
//   - Coalesced, monotonic progress reporting
//   - Comprehensive error handling with session and part context
//
// Example usage:
//
//	mgr, err := upstream.New(
//	    upstream.WithBucket(uptypes.RoleOutputs, "hollowave-outputs"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Upload a file. After an interruption, Resume with the same
//	// destination re-sends only the parts the backend is missing.
//	result, err := mgr.Upload(ctx, uptypes.RoleOutputs, "renders/final.mp4", "/data/final.mp4")
//	if err != nil {
//	    return err
//	}
package upstream
