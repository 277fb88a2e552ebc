// Package internal contains private implementation details for the upload
// manager. These packages are not intended for external use and may change
// without notice.
//
// The internal packages are organized as follows:
//   - s3api: interface seams over the AWS SDK S3 client
//   - remote: the storage adapter the orchestrator talks to
//   - planner: size-tiered part planning
//   - sessionstore: persisted session records
//   - pool: the bounded worker set that uploads parts
//   - progress: byte-count aggregation for progress callbacks
//   - validation: bucket name, object key, and metadata validation
//   - testutil: mocks, data generators, and LocalStack helpers
package internal
