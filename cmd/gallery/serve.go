package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/lucasew/gallerycache/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the gallery HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		server, cleanup, err := app.NewServer(configFromViper())
		if err != nil {
			slog.Error("Failed to initialize server", "error", err)
			os.Exit(1)
		}
		defer cleanup()

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			cleanup()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	def := app.DefaultConfig()
	f := serveCmd.Flags()
	f.Int("port", def.Port, "Port to run the server on")
	f.Int64("real-limit", def.RealLimit, "Byte budget of the backing store")
	f.Int64("virtual-limit", def.VirtualLimit, "Byte budget of the gallery as seen by users")
	f.Int64("max-file-size", def.MaxFileSize, "Largest accepted upload in bytes")
	f.Int64("large-file-threshold", def.LargeFileThreshold, "Uploads above this size are stored as thumbnails only")
	f.Float64("overhead-factor", def.OverheadFactor, "Multiplier applied to a file size when checking the store budget")
	f.Int("thumbnail-size", def.ThumbnailSize, "Longest thumbnail edge in pixels")
	f.Int("thumbnail-quality", def.ThumbnailQuality, "Thumbnail JPEG quality")
	f.Int("retention-ceiling", def.RetentionCeiling, "Cached photo count that triggers trimming")
	f.Int("retention-keep", def.RetentionKeep, "Cached photos kept after trimming")
	f.Int("aggressive-keep", def.AggressiveKeep, "Photo records kept by the aggressive pass")
	f.Float64("aggressive-ratio", def.AggressiveRatio, "Store usage ratio that triggers the aggressive pass")
	f.Float64("high-water-ratio", def.HighWaterRatio, "Store usage ratio that triggers cleanup after an upload")
	f.Duration("eviction-interval", def.EvictionInterval, "Interval of the background cleanup")
	f.String("eviction-strategy", def.EvictionStrategy, "Cache eviction strategy (fifo, lru)")
	f.String("checksum", def.ChecksumAlgo, "Checksum algorithm for photo records")
	f.Float64("upload-rate", def.UploadRate, "Upload requests per second, 0 disables limiting")
	f.Int("upload-burst", def.UploadBurst, "Upload request burst")
	f.Bool("detect-faces", def.DetectFaces, "Run face detection on uploads")
	f.Int64("face-seed", def.FaceSeed, "Seed of the mock face detector, 0 for random")

	f.VisitAll(func(fl *pflag.Flag) {
		viper.BindPFlag(fl.Name, fl)
	})
}
