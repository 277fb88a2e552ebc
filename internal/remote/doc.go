// Package remote adapts an S3-compatible backend to the capability set the
// upload manager needs.
//
// Store covers single-shot puts, the multipart lifecycle (initiate, upload
// part, complete, abort), the listing calls used to reconcile resumed
// sessions, object metadata reads, and presigned download links. The S3
// implementation classifies backend failures onto the module's sentinel
// errors so callers can tell retryable conditions from fatal ones.
package remote
