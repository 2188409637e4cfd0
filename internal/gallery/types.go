// Package gallery is the photo catalog and the service the outer surfaces
// call to upload, inspect and delete photos under the storage budgets.
package gallery

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lucasew/gallerycache/internal/admission"
	"github.com/lucasew/gallerycache/internal/budget"
	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/lucasew/gallerycache/internal/faces"
	"github.com/lucasew/gallerycache/internal/thumbnail"
)

var (
	// ErrSizeCeilingExceeded and ErrDecodeFailure are re-exported so callers
	// only need this package to classify rejections.
	ErrSizeCeilingExceeded = admission.ErrSizeCeilingExceeded
	ErrDecodeFailure       = thumbnail.ErrDecodeFailure

	ErrStoreWriteFailure = errors.New("store write failed")
	ErrQuotaExhausted    = errors.New("storage quota exhausted")
	ErrBatchFailed       = errors.New("every file in the batch failed")

	ErrPhotoNotFound  = errors.New("photo not found")
	ErrFolderNotFound = errors.New("folder not found")
	ErrPersonNotFound = errors.New("person not found")
	ErrInvalidName    = errors.New("name must not be empty")
)

// Variant is the storage form a photo is kept in.
type Variant string

const (
	Full          Variant = "full"
	ThumbnailOnly Variant = "thumbnail"
)

func variantOf(d admission.Decision) Variant {
	if d == admission.Full {
		return Full
	}
	return ThumbnailOnly
}

// PhotoRecord is the persisted metadata for one photo. The payloads live
// under their own keys.
type PhotoRecord struct {
	ID          string               `json:"id"`
	Filename    string               `json:"filename"`
	Variant     Variant              `json:"variant"`
	FileSize    int64                `json:"fileSize"`
	Dimensions  thumbnail.Dimensions `json:"dimensions"`
	CreatedAt   time.Time            `json:"createdAt"`
	Tags        []string             `json:"tags"`
	Owner       string               `json:"owner"`
	Checksum    string               `json:"checksum,omitempty"`
	ContentType string               `json:"contentType"`
}

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Photos    []string  `json:"photos"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
}

type Person struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Photos     []string  `json:"photos"`
	Descriptor []float32 `json:"descriptor,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type FaceDetection struct {
	ID         string    `json:"id"`
	PhotoID    string    `json:"photoId"`
	Box        faces.Box `json:"boundingBox"`
	Descriptor []float32 `json:"descriptor"`
	Confidence float64   `json:"confidence"`
	PersonID   string    `json:"personId,omitempty"`
}

// StorageInfo reports both budgets. Used/Limit are the virtual gallery quota,
// BrowserUsed/BrowserLimit the real store.
type StorageInfo struct {
	Used           int64        `json:"used"`
	Limit          int64        `json:"limit"`
	BrowserUsed    int64        `json:"browserUsed"`
	BrowserLimit   int64        `json:"browserLimit"`
	Percentage     float64      `json:"percentage"`
	BrowserPercent float64      `json:"browserPercentage"`
	Level          budget.Level `json:"level"`
	Photos         int          `json:"photos"`
	CachedPhotos   int          `json:"cachedPhotos"`
}

// Upload is a candidate file. Size is the declared size, checked before Open
// is called.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Tags        []string
	Open        func() (io.ReadCloser, error)
}

// Reason classifies a per-file rejection.
type Reason string

const (
	ReasonSizeCeiling       Reason = "size-ceiling-exceeded"
	ReasonReadFailure       Reason = "read-failure"
	ReasonDecodeFailure     Reason = "decode-failure"
	ReasonQuotaExhausted    Reason = "quota-exhausted"
	ReasonStoreWriteFailure Reason = "store-write-failure"
	ReasonCanceled          Reason = "canceled"
)

// RejectionError is the error for a file that was not admitted.
type RejectionError struct {
	Filename string
	Reason   Reason
	Err      error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected (%s): %v", e.Filename, e.Reason, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

func reject(filename string, reason Reason, err error) *RejectionError {
	return &RejectionError{Filename: filename, Reason: reason, Err: err}
}

// Status is the outcome of one file in a batch.
type Status string

const (
	StatusAdmitted Status = "admitted"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "canceled"
)

type FileResult struct {
	Filename string   `json:"filename"`
	Status   Status   `json:"status"`
	PhotoID  string   `json:"photoId,omitempty"`
	Variant  Variant  `json:"variant,omitempty"`
	Reason   Reason   `json:"reason,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// BatchReport is the per-file outcome of UploadBatch, in input order.
type BatchReport struct {
	Results []FileResult    `json:"results"`
	Photos  []*PhotoRecord  `json:"photos"`
	Cleanup eviction.Report `json:"cleanup"`
}

// Admitted counts files with StatusAdmitted.
func (b *BatchReport) Admitted() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == StatusAdmitted {
			n++
		}
	}
	return n
}

// Warnings flattens the warnings of every file.
func (b *BatchReport) Warnings() []string {
	var out []string
	for _, r := range b.Results {
		out = append(out, r.Warnings...)
	}
	return out
}
