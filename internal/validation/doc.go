// Package validation provides input validation for destinations and metadata.
// Inputs are validated before any network call so misconfiguration surfaces
// as a local error, not a backend rejection mid-upload.
package validation
