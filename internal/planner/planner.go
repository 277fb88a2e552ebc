package planner

import (
	"fmt"

	"github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/uptypes"
)

// Worker concurrency bounds. Tier values and caller overrides are both
// clamped into this range.
const (
	MinConcurrency = 1
	MaxConcurrency = 50
)

// Request carries the inputs for planning one upload.
type Request struct {
	// TotalSize is the source file size in bytes.
	TotalSize int64

	// Policy is the size-tiered policy to evaluate.
	Policy uptypes.PartPolicy

	// ChunkSize overrides the tier's chunk size when > 0.
	ChunkSize int64

	// Concurrency overrides the tier's worker count when > 0.
	Concurrency int
}

// Plan computes the part layout and concurrency for an upload.
//
// Sizes below the policy's multipart threshold yield a plan with zero
// parts; the orchestrator uploads those in a single request. Otherwise
// the file is split into ceil(size/chunk) parts, 1-based and contiguous,
// where every part but the last has length chunk and the last takes the
// remainder.
//
// A plan that would violate backend limits (a non-final part below the
// minimum part size, a chunk above the maximum part size, or more than
// the maximum part count) fails with ErrInvalidSizePolicy before any
// network call.
func Plan(req Request) (uptypes.UploadPlan, error) {
	if req.TotalSize < 0 {
		return uptypes.UploadPlan{}, errors.New("plan", errors.ErrInvalidSizePolicy).
			WithMessage(fmt.Sprintf("total size %d is negative", req.TotalSize))
	}

	// Empty files and everything below the threshold go single-shot.
	if req.TotalSize == 0 || req.TotalSize < req.Policy.MultipartThreshold {
		return uptypes.UploadPlan{Concurrency: 1}, nil
	}

	tier, ok := selectTier(req.TotalSize, req.Policy.Tiers)
	if !ok {
		return uptypes.UploadPlan{}, errors.New("plan", errors.ErrInvalidSizePolicy).
			WithMessage(fmt.Sprintf("no size tier covers %d bytes", req.TotalSize))
	}

	chunk := tier.ChunkSize
	if req.ChunkSize > 0 {
		chunk = req.ChunkSize
	}
	concurrency := tier.Concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}
	concurrency = ClampConcurrency(concurrency)

	if chunk <= 0 {
		return uptypes.UploadPlan{}, errors.New("plan", errors.ErrInvalidSizePolicy).
			WithMessage(fmt.Sprintf("chunk size %d is not positive", chunk))
	}
	if chunk > uptypes.MaxPartSize {
		return uptypes.UploadPlan{}, errors.New("plan", errors.ErrInvalidSizePolicy).
			WithMessage(fmt.Sprintf("chunk size %d exceeds backend maximum %d", chunk, uptypes.MaxPartSize))
	}

	partCount := (req.TotalSize + chunk - 1) / chunk
	if partCount > uptypes.MaxPartCount {
		return uptypes.UploadPlan{}, errors.New("plan", errors.ErrInvalidSizePolicy).
			WithMessage(fmt.Sprintf("%d parts of %d bytes exceed the backend maximum of %d parts",
				partCount, chunk, uptypes.MaxPartCount))
	}

	// Only the final part may be smaller than the backend minimum.
	if partCount > 1 && chunk < uptypes.MinPartSize {
		return uptypes.UploadPlan{}, errors.New("plan", errors.ErrInvalidSizePolicy).
			WithMessage(fmt.Sprintf("chunk size %d is below the backend minimum %d for non-final parts",
				chunk, uptypes.MinPartSize))
	}

	parts := make([]uptypes.PartRecord, partCount)
	for i := range parts {
		offset := int64(i) * chunk
		length := chunk
		if offset+length > req.TotalSize {
			length = req.TotalSize - offset
		}
		parts[i] = uptypes.PartRecord{
			PartNumber: int32(i + 1),
			Offset:     offset,
			Length:     length,
			Status:     uptypes.PartPending,
		}
	}

	return uptypes.UploadPlan{
		ChunkSize:   chunk,
		Concurrency: concurrency,
		Parts:       parts,
	}, nil
}

// selectTier picks the first tier whose exclusive upper bound covers size.
// A MaxSize of zero marks the unbounded final tier.
func selectTier(size int64, tiers []uptypes.SizeTier) (uptypes.SizeTier, bool) {
	for _, t := range tiers {
		if t.MaxSize == 0 || size < t.MaxSize {
			return t, true
		}
	}
	return uptypes.SizeTier{}, false
}

// ClampConcurrency bounds a worker count to the supported range.
func ClampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
