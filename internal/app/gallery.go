package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasew/gallerycache/internal/admission"
	"github.com/lucasew/gallerycache/internal/budget"
	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/eviction"
	_ "github.com/lucasew/gallerycache/internal/eviction/fifo"
	_ "github.com/lucasew/gallerycache/internal/eviction/lru"
	"github.com/lucasew/gallerycache/internal/eviction/policy"
	"github.com/lucasew/gallerycache/internal/eviction/policy/watermark"
	"github.com/lucasew/gallerycache/internal/faces"
	"github.com/lucasew/gallerycache/internal/gallery"
	"github.com/lucasew/gallerycache/internal/hashutil"
	"github.com/lucasew/gallerycache/internal/kvstore"
	"github.com/lucasew/gallerycache/internal/metrics"
	"github.com/lucasew/gallerycache/internal/thumbnail"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Port     int
	StoreDSN string

	RealLimit          int64
	VirtualLimit       int64
	MaxFileSize        int64
	LargeFileThreshold int64
	OverheadFactor     float64

	ThumbnailSize    int
	ThumbnailQuality int

	RetentionCeiling int
	RetentionKeep    int
	AggressiveKeep   int
	AggressiveRatio  float64
	HighWaterRatio   float64
	EvictionInterval time.Duration
	EvictionStrategy string

	ChecksumAlgo string

	UploadRate  float64
	UploadBurst int

	DetectFaces bool
	FaceSeed    int64
}

// DefaultConfig mirrors a browser: a 4 MiB store behind a 50 GiB gallery.
func DefaultConfig() Config {
	ev := eviction.DefaultConfig()
	return Config{
		Port:               8080,
		StoreDSN:           "memory://",
		RealLimit:          4 * admission.MiB,
		VirtualLimit:       50 * 1024 * admission.MiB,
		MaxFileSize:        admission.DefaultMaxFileSize,
		LargeFileThreshold: admission.DefaultLargeFileThreshold,
		OverheadFactor:     admission.DefaultOverheadFactor,
		ThumbnailSize:      thumbnail.DefaultMaxDimension,
		ThumbnailQuality:   thumbnail.DefaultQuality,
		RetentionCeiling:   ev.RetentionCeiling,
		RetentionKeep:      ev.RetentionKeep,
		AggressiveKeep:     ev.AggressiveKeep,
		AggressiveRatio:    0.875,
		HighWaterRatio:     0.7,
		EvictionInterval:   ev.Interval,
		EvictionStrategy:   "fifo",
		ChecksumAlgo:       "sha256",
		UploadRate:         5,
		UploadBurst:        10,
		DetectFaces:        true,
	}
}

func (c Config) validate() error {
	var errs []error
	if c.RealLimit <= 0 {
		errs = append(errs, errors.New("real limit must be positive"))
	}
	if c.VirtualLimit <= 0 {
		errs = append(errs, errors.New("virtual limit must be positive"))
	}
	if c.LargeFileThreshold > c.MaxFileSize {
		errs = append(errs, errors.New("large file threshold must not exceed max file size"))
	}
	if c.OverheadFactor < 1 {
		errs = append(errs, errors.New("overhead factor must be at least 1"))
	}
	if c.RetentionKeep > c.RetentionCeiling {
		errs = append(errs, errors.New("retention keep must not exceed retention ceiling"))
	}
	if c.AggressiveRatio <= 0 || c.AggressiveRatio > 1 || c.HighWaterRatio <= 0 || c.HighWaterRatio > 1 {
		errs = append(errs, errors.New("watermark ratios must be in (0, 1]"))
	}
	if !hashutil.IsSupported(c.ChecksumAlgo) {
		errs = append(errs, fmt.Errorf("unsupported checksum algorithm %q, use one of %v", c.ChecksumAlgo, hashutil.Algorithms()))
	}
	return errors.Join(errs...)
}

// Gallery is a fully wired gallery over one store.
type Gallery struct {
	Service  *gallery.Service
	Manager  *eviction.Manager
	Store    *kvstore.Capped
	Registry *prometheus.Registry

	inner kvstore.Store
}

// NewGallery opens the store and wires every component. The background
// eviction loop is not started; see Gallery.Manager.Start.
func NewGallery(ctx context.Context, cfg Config) (*Gallery, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	inner, err := kvstore.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.StoreDSN, err)
	}
	g := &Gallery{inner: inner, Registry: prometheus.NewRegistry()}

	g.Store, err = kvstore.NewCapped(ctx, inner, cfg.RealLimit)
	if err != nil {
		errutil.LogMsg(g.Close(), "Failed to close store")
		return nil, fmt.Errorf("failed to load store usage: %w", err)
	}

	strat, err := eviction.GetStrategy(cfg.EvictionStrategy)
	if err != nil {
		errutil.LogMsg(g.Close(), "Failed to close store")
		return nil, fmt.Errorf("failed to initialize eviction strategy: %w", err)
	}

	records := gallery.NewRecords(g.Store)
	m := metrics.New(g.Registry)

	g.Manager = eviction.NewManager(g.Store, records, strat,
		[]policy.Policy{&watermark.Policy{Limit: cfg.RealLimit, Ratio: cfg.AggressiveRatio}},
		eviction.Config{
			RetentionCeiling: cfg.RetentionCeiling,
			RetentionKeep:    cfg.RetentionKeep,
			AggressiveKeep:   cfg.AggressiveKeep,
			Interval:         cfg.EvictionInterval,
			OrphanPrefixes:   gallery.BlobPrefixes,
			HighWater:        &watermark.Policy{Limit: cfg.RealLimit, Ratio: cfg.HighWaterRatio},
		})
	g.Manager.OnReport = m.Cleanup
	if err := g.Manager.LoadInitialState(ctx); err != nil {
		slog.Warn("Failed to load initial cache state", "error", err)
	}

	deps := gallery.Deps{
		Records: records,
		Manager: g.Manager,
		Tracker: budget.NewTracker(g.Store, records, cfg.RealLimit, cfg.VirtualLimit),
		Policy: admission.Policy{
			MaxFileSize:        cfg.MaxFileSize,
			LargeFileThreshold: cfg.LargeFileThreshold,
			OverheadFactor:     cfg.OverheadFactor,
			RealLimit:          cfg.RealLimit,
		},
		Thumbnails:   thumbnail.NewGenerator(cfg.ThumbnailSize, cfg.ThumbnailQuality),
		Metrics:      m,
		ChecksumAlgo: cfg.ChecksumAlgo,
	}
	if cfg.DetectFaces {
		seed := cfg.FaceSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		deps.Detector = faces.NewMockDetector(seed)
		deps.Matcher = faces.EuclideanMatcher{Threshold: faces.DefaultThreshold}
	}
	g.Service = gallery.NewService(deps)

	slog.Info("Gallery ready",
		"store", cfg.StoreDSN,
		"real_limit", cfg.RealLimit,
		"virtual_limit", cfg.VirtualLimit,
		"cached", g.Manager.Len(),
		"strategy", cfg.EvictionStrategy,
	)
	return g, nil
}

// Close releases the underlying store.
func (g *Gallery) Close() error {
	if c, ok := g.inner.(kvstore.Closer); ok {
		return c.Close()
	}
	return nil
}
