package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/lucasew/gallerycache/internal/admission"
	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/faces"
	"github.com/lucasew/gallerycache/internal/hashutil"
	"github.com/lucasew/gallerycache/internal/kvstore"
	"github.com/lucasew/gallerycache/internal/thumbnail"
)

// UploadBytes wraps an in-memory payload as an Upload.
func UploadBytes(filename string, data []byte) Upload {
	return Upload{
		Filename: filename,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// UploadFile wraps a local file as an Upload.
func UploadFile(path string) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// UploadPhoto admits a single file. A *RejectionError is returned when the
// file is not stored; falling back to a thumbnail is not a failure.
func (s *Service) UploadPhoto(ctx context.Context, up Upload, owner, folderID string) (*PhotoRecord, error) {
	p, warnings, err := s.upload(ctx, up, owner, folderID)
	for _, w := range warnings {
		slog.Warn("Upload warning", "filename", up.Filename, "warning", w)
	}
	return p, err
}

// UploadBatch admits files one after another so each admission sees the
// previous ones. A cleanup pass runs first. The report lists every file in
// input order; ErrBatchFailed is returned only when no file was admitted.
// Files left when ctx is canceled are reported as canceled.
func (s *Service) UploadBatch(ctx context.Context, uploads []Upload, owner, folderID string) (*BatchReport, error) {
	report := &BatchReport{
		Results: make([]FileResult, 0, len(uploads)),
		Photos:  []*PhotoRecord{},
		Cleanup: s.manager.EnforceBudget(ctx),
	}

	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, FileResult{
				Filename: up.Filename,
				Status:   StatusCanceled,
				Reason:   ReasonCanceled,
				Error:    err.Error(),
			})
			continue
		}

		p, warnings, err := s.upload(ctx, up, owner, folderID)
		if err != nil {
			res := FileResult{Filename: up.Filename, Status: StatusRejected, Error: err.Error()}
			var rej *RejectionError
			if errors.As(err, &rej) {
				res.Reason = rej.Reason
			}
			report.Results = append(report.Results, res)
			continue
		}
		report.Photos = append(report.Photos, p)
		report.Results = append(report.Results, FileResult{
			Filename: up.Filename,
			Status:   StatusAdmitted,
			PhotoID:  p.ID,
			Variant:  p.Variant,
			Warnings: warnings,
		})
	}

	admitted := report.Admitted()
	slog.Info("Upload batch finished", "files", len(uploads), "admitted", admitted, "warnings", len(report.Warnings()))
	if len(uploads) > 0 && admitted == 0 {
		return report, fmt.Errorf("%w: %d files", ErrBatchFailed, len(uploads))
	}
	return report, nil
}

func (s *Service) upload(ctx context.Context, up Upload, owner, folderID string) (*PhotoRecord, []string, error) {
	p, warnings, rej := s.admit(ctx, up, owner)
	if rej != nil {
		s.metrics.Rejection(string(rej.Reason))
		slog.Warn("Rejected upload", "filename", up.Filename, "reason", rej.Reason, "error", rej.Err)
		return nil, nil, rej
	}

	if folderID != "" {
		if err := s.records.AddToFolder(ctx, folderID, p.ID); err != nil {
			errutil.LogMsg(err, "Failed to add photo to folder", "id", p.ID, "folder", folderID)
			warnings = append(warnings, fmt.Sprintf("%s was not added to folder %s", up.Filename, folderID))
		}
	}

	s.metrics.Upload(string(p.Variant))
	slog.Info("Stored photo", "id", p.ID, "filename", p.Filename, "variant", p.Variant, "size", p.FileSize)

	if s.manager.NeedsEnforcement(ctx) {
		s.manager.EnforceBudget(ctx)
	}
	return p, warnings, nil
}

// admit runs the pipeline up to and including the writes. On return without
// a rejection the record, the thumbnail and, for Full, the cache entry exist.
func (s *Service) admit(ctx context.Context, up Upload, owner string) (*PhotoRecord, []string, *RejectionError) {
	if err := s.policy.CheckSize(up.Size); err != nil {
		return nil, nil, reject(up.Filename, ReasonSizeCeiling, err)
	}

	data, err := s.read(up)
	if err != nil {
		if errors.Is(err, admission.ErrSizeCeilingExceeded) {
			return nil, nil, reject(up.Filename, ReasonSizeCeiling, err)
		}
		return nil, nil, reject(up.Filename, ReasonReadFailure, err)
	}
	size := int64(len(data))

	img, format, err := thumbnail.Decode(data)
	if err != nil {
		return nil, nil, reject(up.Filename, ReasonDecodeFailure, err)
	}
	thumb, _, err := s.thumbs.Make(img)
	if err != nil {
		return nil, nil, reject(up.Filename, ReasonDecodeFailure, fmt.Errorf("%w: %w", ErrDecodeFailure, err))
	}

	decision := s.policy.Admit(size, s.tracker.RealUsage(ctx))
	if decision == admission.Reject {
		return nil, nil, reject(up.Filename, ReasonSizeCeiling, s.policy.CheckSize(size))
	}

	checksum, err := hashutil.Checksum(s.checksum, data)
	errutil.LogMsg(err, "Failed to checksum upload", "filename", up.Filename)

	b := img.Bounds()
	p := &PhotoRecord{
		ID:          s.newID(),
		Filename:    up.Filename,
		Variant:     variantOf(decision),
		FileSize:    size,
		Dimensions:  thumbnail.Dimensions{Width: b.Dx(), Height: b.Dy()},
		CreatedAt:   s.now(),
		Tags:        mergeTags(up.Tags, s.policy.Tags(decision, size)),
		Owner:       owner,
		Checksum:    checksum,
		ContentType: contentType(up.ContentType, format),
	}

	var warnings []string
	if p.Variant == ThumbnailOnly {
		warnings = append(warnings, fmt.Sprintf("%s stored as thumbnail only", up.Filename))
	}

	// The record goes first so a concurrent orphan sweep never sees the
	// thumbnail or cache entry without it.
	if err := s.write(ctx, func() error { return s.records.PutPhoto(ctx, p) }); err != nil {
		return nil, nil, s.writeRejection(up.Filename, err)
	}
	if err := s.write(ctx, func() error { return s.records.PutThumbnail(ctx, p.ID, thumb) }); err != nil {
		_, rbErr := s.records.DeletePhoto(ctx, p.ID)
		errutil.ReportError(rbErr, "Failed to roll back photo record", "id", p.ID)
		return nil, nil, s.writeRejection(up.Filename, err)
	}

	if p.Variant == Full {
		if err := s.write(ctx, func() error { return s.manager.Put(ctx, p.ID, data) }); err != nil {
			errutil.LogMsg(err, "Falling back to thumbnail", "id", p.ID)
			p.Variant = ThumbnailOnly
			p.Tags = mergeTags(p.Tags, s.policy.Tags(admission.ThumbnailOnly, size))
			errutil.ReportError(s.records.PutPhoto(ctx, p), "Failed to record thumbnail fallback", "id", p.ID)
			warnings = append(warnings, fmt.Sprintf("%s stored as thumbnail only, full resolution did not fit", up.Filename))
		}
	}

	if s.detector != nil {
		s.detectFaces(ctx, img, p.ID)
	}
	return p, warnings, nil
}

// read loads the payload, refusing more than the size ceiling whatever the
// declared size was.
func (s *Service) read(up Upload) ([]byte, error) {
	if up.Open == nil {
		return nil, errors.New("upload has no content")
	}
	rc, err := up.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.policy.MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

// write retries fn once after a cleanup pass when the store is full.
func (s *Service) write(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, kvstore.ErrQuotaExceeded) {
		return err
	}
	slog.Warn("Store full, running cleanup before retrying write")
	s.manager.EnforceBudget(ctx)
	return fn()
}

func (s *Service) writeRejection(filename string, err error) *RejectionError {
	if errors.Is(err, kvstore.ErrQuotaExceeded) {
		return reject(filename, ReasonQuotaExhausted, fmt.Errorf("%w: %w", ErrQuotaExhausted, err))
	}
	return reject(filename, ReasonStoreWriteFailure, fmt.Errorf("%w: %w", ErrStoreWriteFailure, err))
}

func contentType(declared, format string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if format == "" {
		return "application/octet-stream"
	}
	return "image/" + format
}

// detectFaces stores detections for a photo and assigns each face to a
// person, creating one when no known person matches. Failures are logged.
func (s *Service) detectFaces(ctx context.Context, img image.Image, photoID string) {
	dets, err := s.detector.Detect(ctx, img, photoID)
	if err != nil {
		errutil.LogMsg(err, "Face detection failed", "id", photoID)
		return
	}
	if len(dets) == 0 {
		return
	}

	detections := make([]FaceDetection, len(dets))
	err = s.records.UpdatePersons(ctx, func(persons []*Person) []*Person {
		var changed []*Person
		for i, d := range dets {
			candidates := make([]faces.Candidate, 0, len(persons))
			for _, p := range persons {
				candidates = append(candidates, faces.Candidate{PersonID: p.ID, Descriptor: p.Descriptor})
			}

			var person *Person
			if id, ok := s.matcher.Match(d.Descriptor, candidates); ok {
				person = persons[slices.IndexFunc(persons, func(p *Person) bool { return p.ID == id })]
			} else {
				person = &Person{
					ID:         s.newID(),
					Name:       fmt.Sprintf("Person %d", len(persons)+1),
					Photos:     []string{},
					Descriptor: d.Descriptor,
					CreatedAt:  s.now(),
				}
				persons = append(persons, person)
			}
			if !slices.Contains(person.Photos, photoID) {
				person.Photos = append(person.Photos, photoID)
			}
			if !slices.Contains(changed, person) {
				changed = append(changed, person)
			}

			detections[i] = FaceDetection{
				ID:         s.newID(),
				PhotoID:    photoID,
				Box:        d.Box,
				Descriptor: d.Descriptor,
				Confidence: d.Confidence,
				PersonID:   person.ID,
			}
		}
		return changed
	})
	if err != nil {
		errutil.LogMsg(err, "Failed to store persons", "id", photoID)
	}
	errutil.LogMsg(s.records.PutFaces(ctx, photoID, detections), "Failed to store face detections", "id", photoID)
}
