// Package planner computes upload plans from file sizes.
// This includes choosing single-shot vs. multipart, splitting the file into
// parts, and selecting the worker concurrency for the upload.
//
// The planner evaluates a size-tiered policy and validates the resulting
// plan against backend part-size limits before any network call is made.
package planner
