package main

import (
	"os"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/lucasew/gallerycache/internal/gallery"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List photos, oldest first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("output")

		var photos []*gallery.PhotoRecord
		var err error
		if c, ok := remote(); ok {
			photos, err = c.Photos(cmd.Context(), limit)
		} else {
			g, openErr := openLocal(cmd.Context())
			if openErr != nil {
				errutil.ReportError(openErr, "Failed to open gallery")
				os.Exit(1)
			}
			defer func() { errutil.LogMsg(g.Close(), "Failed to close store") }()
			photos, err = g.Service.Photos(cmd.Context(), limit)
		}
		if err != nil {
			errutil.ReportError(err, "Failed to list photos")
			os.Exit(1)
		}
		errutil.LogMsg(render(os.Stdout, format, photos), "Failed to print photos")
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <photo-id>...",
	Short: "Delete photos and everything stored for them",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var del func(id string) error
		if c, ok := remote(); ok {
			del = func(id string) error { return c.DeletePhoto(cmd.Context(), id) }
		} else {
			g, err := openLocal(cmd.Context())
			if err != nil {
				errutil.ReportError(err, "Failed to open gallery")
				os.Exit(1)
			}
			defer func() { errutil.LogMsg(g.Close(), "Failed to close store") }()
			del = func(id string) error { return g.Service.DeletePhoto(cmd.Context(), id) }
		}

		failed := 0
		for _, id := range args {
			if !errutil.Keep(del(id), "Failed to delete photo", "id", id) {
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop every full-resolution copy, keeping thumbnails",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("output")

		var report *eviction.Report
		if c, ok := remote(); ok {
			var err error
			report, err = c.ClearCache(cmd.Context())
			if err != nil {
				errutil.ReportError(err, "Failed to clear cache")
				os.Exit(1)
			}
		} else {
			g, err := openLocal(cmd.Context())
			if err != nil {
				errutil.ReportError(err, "Failed to open gallery")
				os.Exit(1)
			}
			defer func() { errutil.LogMsg(g.Close(), "Failed to close store") }()
			r := g.Service.ClearCache(cmd.Context())
			report = &r
		}
		errutil.LogMsg(render(os.Stdout, format, report), "Failed to print report")
	},
}

func init() {
	rootCmd.AddCommand(listCmd, deleteCmd, clearCacheCmd)
	listCmd.Flags().Int("limit", 0, "Maximum photos to list, 0 for all")
	listCmd.Flags().StringP("output", "o", "yaml", "Output format (json, yaml)")
	clearCacheCmd.Flags().StringP("output", "o", "yaml", "Output format (json, yaml)")
}
