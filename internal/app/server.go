package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/handler"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewServer wires a gallery behind its HTTP API and starts the background
// eviction loop. The returned cleanup stops the loop and closes the store.
func NewServer(cfg Config) (*http.Server, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	g, err := NewGallery(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	g.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Start eviction manager
	go g.Manager.Start(ctx)

	opts := handler.Options{
		MaxRequestBytes: 4 * cfg.MaxFileSize,
		Metrics:         promhttp.HandlerFor(g.Registry, promhttp.HandlerOpts{}),
	}
	if cfg.UploadRate > 0 {
		opts.UploadLimiter = rate.NewLimiter(rate.Limit(cfg.UploadRate), max(cfg.UploadBurst, 1))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Starting gallery server", "addr", addr, "store", cfg.StoreDSN)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler.NewGalleryHandler(g.Service, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cleanup := func() {
		cancel()
		errutil.ReportError(g.Close(), "Failed to close store")
	}

	return server, cleanup, nil
}
