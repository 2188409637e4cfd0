package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lucasew/gallerycache"
	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/gallery"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload photos as one batch",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		owner, _ := cmd.Flags().GetString("owner")
		folder, _ := cmd.Flags().GetString("folder")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		format, _ := cmd.Flags().GetString("output")

		var total int64
		for _, p := range args {
			st, err := os.Stat(p)
			if err != nil {
				errutil.ReportError(err, "Failed to stat file", "path", p)
				os.Exit(1)
			}
			total += st.Size()
		}
		bar := newBar(total)

		var report *gallery.BatchReport
		var err error
		if c, ok := remote(); ok {
			report, err = uploadRemote(cmd.Context(), c, args, bar, gallerycache.UploadOptions{Owner: owner, Folder: folder, Tags: tags})
		} else {
			report, err = uploadLocal(cmd.Context(), args, bar, owner, folder, tags)
		}
		if report != nil {
			errutil.LogMsg(render(os.Stdout, format, report), "Failed to print report")
		}
		if err != nil {
			errutil.ReportError(err, "Upload failed")
			os.Exit(1)
		}
	},
}

func newBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprint(os.Stderr, "\n"); err != nil {
				errutil.LogMsg(err, "Failed to print newline to stderr")
			}
		}),
	)
}

func uploadRemote(ctx context.Context, c *gallerycache.Client, paths []string, bar io.Writer, opts gallerycache.UploadOptions) (*gallery.BatchReport, error) {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer func() { errutil.LogMsg(f.Close(), "Failed to close file", "path", p) }()
		opts.Files = append(opts.Files, gallerycache.File{Name: p, Reader: io.TeeReader(f, bar)})
	}
	return c.Upload(ctx, opts)
}

func uploadLocal(ctx context.Context, paths []string, bar io.Writer, owner, folder string, tags []string) (*gallery.BatchReport, error) {
	g, err := openLocal(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { errutil.LogMsg(g.Close(), "Failed to close store") }()

	uploads := make([]gallery.Upload, 0, len(paths))
	for _, p := range paths {
		u, err := gallery.UploadFile(p)
		if err != nil {
			return nil, err
		}
		u.Tags = tags
		open := u.Open
		u.Open = func() (io.ReadCloser, error) {
			rc, err := open()
			if err != nil {
				return nil, err
			}
			return teeCloser{Reader: io.TeeReader(rc, bar), Closer: rc}, nil
		}
		uploads = append(uploads, u)
	}

	return g.Service.UploadBatch(ctx, uploads, owner, folder)
}

type teeCloser struct {
	io.Reader
	io.Closer
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("owner", "", "Uploader name")
	uploadCmd.Flags().String("folder", "", "Folder ID to add the photos to")
	uploadCmd.Flags().StringSlice("tag", []string{}, "Extra tags")
	uploadCmd.Flags().StringP("output", "o", "json", "Report format (json, yaml)")
}
