// Package admission decides, per uploaded file, whether the gallery keeps the
// full-resolution payload, only a thumbnail, or nothing at all.
package admission

import (
	"errors"
	"fmt"
	"math"
)

const (
	MiB = 1024 * 1024

	DefaultMaxFileSize        = 18 * MiB
	DefaultLargeFileThreshold = 10 * MiB
	DefaultOverheadFactor     = 1.5
)

// ErrSizeCeilingExceeded is returned for files above the per-file ceiling.
var ErrSizeCeilingExceeded = errors.New("file exceeds size ceiling")

// Decision is the storage variant chosen for a candidate file.
type Decision int

const (
	Reject Decision = iota
	Full
	ThumbnailOnly
)

func (d Decision) String() string {
	switch d {
	case Full:
		return "full"
	case ThumbnailOnly:
		return "thumbnail"
	default:
		return "reject"
	}
}

// Policy holds the thresholds for admission. The zero value is not useful;
// use NewPolicy or fill every field.
type Policy struct {
	MaxFileSize        int64
	LargeFileThreshold int64
	OverheadFactor     float64
	// RealLimit is the RealStore ceiling the estimated cost is checked against.
	RealLimit int64
}

// NewPolicy returns the default thresholds for a RealStore of realLimit bytes.
func NewPolicy(realLimit int64) Policy {
	return Policy{
		MaxFileSize:        DefaultMaxFileSize,
		LargeFileThreshold: DefaultLargeFileThreshold,
		OverheadFactor:     DefaultOverheadFactor,
		RealLimit:          realLimit,
	}
}

// CheckSize enforces the per-file ceiling at the upload boundary, before the
// file is read.
func (p Policy) CheckSize(size int64) error {
	if size > p.MaxFileSize {
		return fmt.Errorf("%w: %d bytes > %d", ErrSizeCeilingExceeded, size, p.MaxFileSize)
	}
	return nil
}

// EstimatedCost is the RealStore bytes a full-resolution copy is expected to take.
func (p Policy) EstimatedCost(size int64) int64 {
	return int64(math.Ceil(float64(size) * p.OverheadFactor))
}

// Admit picks the storage variant for a candidate of size bytes given the
// current RealStore usage. It has no side effects.
func (p Policy) Admit(size, realUsed int64) Decision {
	if p.CheckSize(size) != nil {
		return Reject
	}
	if p.IsLarge(size) {
		return ThumbnailOnly
	}
	if realUsed+p.EstimatedCost(size) <= p.RealLimit {
		return Full
	}
	return ThumbnailOnly
}

// IsLarge reports whether size is never cached at full resolution.
func (p Policy) IsLarge(size int64) bool {
	return size > p.LargeFileThreshold
}

// Tags returns the storage tags recorded on a photo admitted with d.
func (p Policy) Tags(d Decision, size int64) []string {
	var tags []string
	if d == ThumbnailOnly {
		tags = append(tags, "storage-limited")
		if p.IsLarge(size) {
			tags = append(tags, "large-file")
		}
	}

	switch {
	case size > 15*MiB:
		tags = append(tags, "xl-size")
	case size > 10*MiB:
		tags = append(tags, "large-size")
	case size > 5*MiB:
		tags = append(tags, "medium-size")
	}
	return tags
}
