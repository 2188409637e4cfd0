package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/gallery"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show real and virtual storage usage",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("output")

		var info *gallery.StorageInfo
		if c, ok := remote(); ok {
			var err error
			info, err = c.StorageInfo(cmd.Context())
			if err != nil {
				errutil.ReportError(err, "Failed to fetch storage info")
				os.Exit(1)
			}
		} else {
			g, err := openLocal(cmd.Context())
			if err != nil {
				errutil.ReportError(err, "Failed to open gallery")
				os.Exit(1)
			}
			defer func() { errutil.LogMsg(g.Close(), "Failed to close store") }()
			si := g.Service.GetStorageInfo(cmd.Context())
			info = &si
		}

		if err := render(os.Stdout, format, info); err != nil {
			errutil.ReportError(err, "Failed to print storage info")
			os.Exit(1)
		}
	},
}

// render writes v as json or yaml. YAML keys follow the JSON field names.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.Flags().StringP("output", "o", "yaml", "Output format (json, yaml)")
}
