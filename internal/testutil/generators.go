// Package testutil provides test data generators.
package testutil

import (
	"fmt"

	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/uptypes"
)

// GenerateParts builds the contiguous 1-based part layout the planner
// would produce for totalSize split into chunkSize pieces. All parts
// start Pending.
func GenerateParts(totalSize, chunkSize int64) []uptypes.PartRecord {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil
	}

	count := int((totalSize + chunkSize - 1) / chunkSize)
	parts := make([]uptypes.PartRecord, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > totalSize {
			length = totalSize - offset
		}
		parts[i] = uptypes.PartRecord{
			PartNumber: int32(i + 1),
			Offset:     offset,
			Length:     length,
			Status:     uptypes.PartPending,
		}
	}
	return parts
}

// MarkUploaded flags the first n parts as uploaded with deterministic
// etags, as a partially finished transfer would leave them.
func MarkUploaded(parts []uptypes.PartRecord, n int) []uptypes.PartRecord {
	for i := 0; i < n && i < len(parts); i++ {
		parts[i].Status = uptypes.PartUploaded
		parts[i].ETag = PartETag(parts[i].PartNumber)
		parts[i].AttemptCount = 1
	}
	return parts
}

// PartETag returns the deterministic etag MockStore assigns to a part.
func PartETag(partNumber int32) string {
	return fmt.Sprintf(`"etag-%d"`, partNumber)
}

// RemoteParts converts the uploaded subset of a part ledger into the
// listing the backend would return for the upload, in part order.
func RemoteParts(parts []uptypes.PartRecord) []remote.Part {
	var out []remote.Part
	for i := range parts {
		if parts[i].Status != uptypes.PartUploaded {
			continue
		}
		out = append(out, remote.Part{
			PartNumber: parts[i].PartNumber,
			Size:       parts[i].Length,
			ETag:       parts[i].ETag,
		})
	}
	return out
}
