package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucasew/gallerycache/internal/admission"
	"github.com/lucasew/gallerycache/internal/budget"
	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/lucasew/gallerycache/internal/faces"
	"github.com/lucasew/gallerycache/internal/metrics"
	"github.com/lucasew/gallerycache/internal/thumbnail"
)

// Deps are the collaborators of a Service. Records, Manager and Tracker are
// required; the rest default when zero.
type Deps struct {
	Records    *Records
	Manager    *eviction.Manager
	Tracker    *budget.Tracker
	Policy     admission.Policy
	Thumbnails *thumbnail.Generator

	// Detector enables face detection after admission. Nil disables it.
	Detector faces.Detector
	Matcher  faces.Matcher

	Metrics      *metrics.Metrics
	ChecksumAlgo string

	Now   func() time.Time
	NewID func() string
}

// Service is the gallery entry point used by the HTTP API and the CLI.
type Service struct {
	records  *Records
	manager  *eviction.Manager
	tracker  *budget.Tracker
	policy   admission.Policy
	thumbs   *thumbnail.Generator
	detector faces.Detector
	matcher  faces.Matcher
	metrics  *metrics.Metrics
	checksum string
	now      func() time.Time
	newID    func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		records:  d.Records,
		manager:  d.Manager,
		tracker:  d.Tracker,
		policy:   d.Policy,
		thumbs:   d.Thumbnails,
		detector: d.Detector,
		matcher:  d.Matcher,
		metrics:  d.Metrics,
		checksum: d.ChecksumAlgo,
		now:      d.Now,
		newID:    d.NewID,
	}
	if s.policy == (admission.Policy{}) {
		s.policy = admission.NewPolicy(s.tracker.Limit(budget.RealStore))
	}
	if s.thumbs == nil {
		s.thumbs = thumbnail.NewGenerator(thumbnail.DefaultMaxDimension, thumbnail.DefaultQuality)
	}
	if s.matcher == nil {
		s.matcher = faces.EuclideanMatcher{Threshold: faces.DefaultThreshold}
	}
	if s.checksum == "" {
		s.checksum = "sha256"
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// GetStorageInfo reports both budgets. It never fails.
func (s *Service) GetStorageInfo(ctx context.Context) StorageInfo {
	virtual := s.tracker.Quota(ctx, budget.VirtualGallery)
	physical := s.tracker.Quota(ctx, budget.RealStore)

	s.metrics.Usage(budget.VirtualGallery.String(), virtual.Used, virtual.Limit)
	s.metrics.Usage(budget.RealStore.String(), physical.Used, physical.Limit)

	level := physical.Level()
	if rank(virtual.Level()) > rank(level) {
		level = virtual.Level()
	}

	info := StorageInfo{
		Used:           virtual.Used,
		Limit:          virtual.Limit,
		BrowserUsed:    physical.Used,
		BrowserLimit:   physical.Limit,
		Percentage:     virtual.Percent(),
		BrowserPercent: physical.Percent(),
		Level:          level,
		CachedPhotos:   s.manager.Len(),
	}
	if ids, err := s.records.PhotoIDs(ctx); err == nil {
		info.Photos = len(ids)
	} else {
		errutil.LogMsg(err, "Failed to count photos")
	}
	return info
}

func rank(l budget.Level) int {
	switch l {
	case budget.LevelCritical:
		return 2
	case budget.LevelWarning:
		return 1
	default:
		return 0
	}
}

// DeletePhoto removes a photo and everything keyed by it.
func (s *Service) DeletePhoto(ctx context.Context, id string) error {
	if _, ok, err := s.records.Photo(ctx, id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
	}

	cached, err := s.manager.Remove(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWriteFailure, err)
	}
	freed, err := s.records.DeletePhoto(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWriteFailure, err)
	}

	s.metrics.Deletion()
	slog.Info("Deleted photo", "id", id, "freed", cached+freed)
	return nil
}

// ClearCache drops every full-resolution payload. All photos become
// thumbnail-only.
func (s *Service) ClearCache(ctx context.Context) eviction.Report {
	return s.manager.Clear(ctx)
}

// EnforceBudget runs a cleanup pass.
func (s *Service) EnforceBudget(ctx context.Context) eviction.Report {
	return s.manager.EnforceBudget(ctx)
}

func (s *Service) Photo(ctx context.Context, id string) (*PhotoRecord, error) {
	p, ok, err := s.records.Photo(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
	}
	return p, nil
}

// PhotoData returns the best payload available for a photo: the cached
// original, or the JPEG thumbnail.
func (s *Service) PhotoData(ctx context.Context, id string) ([]byte, string, error) {
	p, err := s.Photo(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if p.Variant == Full {
		if data, ok := s.manager.Get(ctx, id); ok {
			return data, p.ContentType, nil
		}
	}
	data, ok, err := s.records.Thumbnail(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %s has no stored image", ErrPhotoNotFound, id)
	}
	return data, "image/jpeg", nil
}

// Photos returns up to limit photos, oldest first. limit <= 0 means all.
func (s *Service) Photos(ctx context.Context, limit int) ([]*PhotoRecord, error) {
	photos, err := s.records.Photos(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(photos) > limit {
		photos = photos[:limit]
	}
	return photos, nil
}

func (s *Service) PhotosByFolder(ctx context.Context, folderID string) ([]*PhotoRecord, error) {
	f, ok, err := s.records.Folder(ctx, folderID)
	if err != nil || !ok {
		return nil, err
	}
	return s.photosIn(ctx, f.Photos)
}

func (s *Service) PhotosByPerson(ctx context.Context, personID string) ([]*PhotoRecord, error) {
	p, ok, err := s.records.Person(ctx, personID)
	if err != nil || !ok {
		return nil, err
	}
	return s.photosIn(ctx, p.Photos)
}

// photosIn keeps the catalog order and skips IDs with no record.
func (s *Service) photosIn(ctx context.Context, ids []string) ([]*PhotoRecord, error) {
	photos, err := s.records.Photos(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(photos, func(p *PhotoRecord) bool {
		return !slices.Contains(ids, p.ID)
	}), nil
}

func (s *Service) CreateFolder(ctx context.Context, name, owner string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	f := &Folder{
		ID:        s.newID(),
		Name:      name,
		Photos:    []string{},
		CreatedAt: s.now(),
		CreatedBy: owner,
	}
	if err := s.records.PutFolder(ctx, f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreWriteFailure, err)
	}
	return f, nil
}

func (s *Service) AddPhotoToFolder(ctx context.Context, photoID, folderID string) error {
	if _, err := s.Photo(ctx, photoID); err != nil {
		return err
	}
	return s.records.AddToFolder(ctx, folderID, photoID)
}

func (s *Service) Folders(ctx context.Context) ([]*Folder, error) {
	return s.records.Folders(ctx)
}

func (s *Service) Persons(ctx context.Context) ([]*Person, error) {
	return s.records.Persons(ctx)
}

func (s *Service) RenamePerson(ctx context.Context, id, name string) (*Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	var renamed *Person
	err := s.records.UpdatePersons(ctx, func(persons []*Person) []*Person {
		for _, p := range persons {
			if p.ID == id {
				p.Name = name
				renamed = p
				return []*Person{p}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if renamed == nil {
		return nil, fmt.Errorf("%w: %s", ErrPersonNotFound, id)
	}
	return renamed, nil
}
