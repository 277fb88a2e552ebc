// Package pool runs the bounded worker set that uploads the parts of a
// multipart session.
//
// Workers claim pending parts one at a time, read each part's byte range
// through an independent file handle, and send it with exponential-backoff
// retries on transient failures. A fatal error or an abort signal stops
// claiming; in-flight parts are always allowed to finish. Part state is
// persisted after every transition so an interrupted run can resume.
package pool
