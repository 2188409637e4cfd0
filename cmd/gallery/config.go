package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasew/gallerycache"
	"github.com/lucasew/gallerycache/internal/app"
	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/httpclient"
	"github.com/spf13/viper"
)

// setDefaults lets every command read the gallery settings from viper, even
// those that do not register the serve flags.
func setDefaults(cfg app.Config) {
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("store", cfg.StoreDSN)
	viper.SetDefault("real-limit", cfg.RealLimit)
	viper.SetDefault("virtual-limit", cfg.VirtualLimit)
	viper.SetDefault("max-file-size", cfg.MaxFileSize)
	viper.SetDefault("large-file-threshold", cfg.LargeFileThreshold)
	viper.SetDefault("overhead-factor", cfg.OverheadFactor)
	viper.SetDefault("thumbnail-size", cfg.ThumbnailSize)
	viper.SetDefault("thumbnail-quality", cfg.ThumbnailQuality)
	viper.SetDefault("retention-ceiling", cfg.RetentionCeiling)
	viper.SetDefault("retention-keep", cfg.RetentionKeep)
	viper.SetDefault("aggressive-keep", cfg.AggressiveKeep)
	viper.SetDefault("aggressive-ratio", cfg.AggressiveRatio)
	viper.SetDefault("high-water-ratio", cfg.HighWaterRatio)
	viper.SetDefault("eviction-interval", cfg.EvictionInterval)
	viper.SetDefault("eviction-strategy", cfg.EvictionStrategy)
	viper.SetDefault("checksum", cfg.ChecksumAlgo)
	viper.SetDefault("upload-rate", cfg.UploadRate)
	viper.SetDefault("upload-burst", cfg.UploadBurst)
	viper.SetDefault("detect-faces", cfg.DetectFaces)
	viper.SetDefault("face-seed", cfg.FaceSeed)
}

func configFromViper() app.Config {
	return app.Config{
		Port:               viper.GetInt("port"),
		StoreDSN:           viper.GetString("store"),
		RealLimit:          viper.GetInt64("real-limit"),
		VirtualLimit:       viper.GetInt64("virtual-limit"),
		MaxFileSize:        viper.GetInt64("max-file-size"),
		LargeFileThreshold: viper.GetInt64("large-file-threshold"),
		OverheadFactor:     viper.GetFloat64("overhead-factor"),
		ThumbnailSize:      viper.GetInt("thumbnail-size"),
		ThumbnailQuality:   viper.GetInt("thumbnail-quality"),
		RetentionCeiling:   viper.GetInt("retention-ceiling"),
		RetentionKeep:      viper.GetInt("retention-keep"),
		AggressiveKeep:     viper.GetInt("aggressive-keep"),
		AggressiveRatio:    viper.GetFloat64("aggressive-ratio"),
		HighWaterRatio:     viper.GetFloat64("high-water-ratio"),
		EvictionInterval:   viper.GetDuration("eviction-interval"),
		EvictionStrategy:   viper.GetString("eviction-strategy"),
		ChecksumAlgo:       viper.GetString("checksum"),
		UploadRate:         viper.GetFloat64("upload-rate"),
		UploadBurst:        viper.GetInt("upload-burst"),
		DetectFaces:        viper.GetBool("detect-faces"),
		FaceSeed:           viper.GetInt64("face-seed"),
	}
}

// remote returns a client when servers are configured, through --server or
// GALLERY_SERVER.
func remote() (*gallerycache.Client, bool) {
	hc, err := httpclient.NewClient(viper.GetString("ca-cert"), viper.GetDuration("timeout"))
	if err != nil {
		errutil.ReportError(err, "Failed to configure HTTP client")
		os.Exit(1)
	}
	servers := gallerycache.ParseServers(viper.GetString("server"))
	return gallerycache.NewClient(hc, servers...), len(servers) > 0
}

// ErrEphemeralStore is returned by openLocal for stores that do not outlive
// the process.
var ErrEphemeralStore = errors.New("store does not persist between commands")

// defaultStoreDSN is a sqlite file under the user cache directory.
func defaultStoreDSN() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		errutil.LogMsg(err, "No user cache directory, using the memory store")
		return "memory://"
	}
	return "sqlite://" + filepath.Join(dir, "gallery", "gallery.db")
}

// openLocal opens the configured store for a one-shot command. Memory stores
// are refused, everything written to them would be gone on exit.
func openLocal(ctx context.Context) (*app.Gallery, error) {
	cfg := configFromViper()
	scheme, path, _ := strings.Cut(cfg.StoreDSN, "://")
	switch {
	case scheme == "memory", scheme == "sqlite" && (path == "" || path == ":memory:"):
		return nil, fmt.Errorf("%w: %s, pass --store sqlite://<path> or --server", ErrEphemeralStore, cfg.StoreDSN)
	case scheme == "sqlite":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return app.NewGallery(ctx, cfg)
}
