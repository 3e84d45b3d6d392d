package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hylla/tavla/internal/app"
)

// snapshotFormatFor picks the encoding from an explicit flag or the file
// extension; JSON is the fallback.
func snapshotFormatFor(flagValue, path string) (outputFormat, error) {
	if strings.TrimSpace(flagValue) != "" {
		f, err := parseOutputFormat(flagValue)
		if err != nil {
			return "", err
		}
		if f == formatText {
			return "", fmt.Errorf("snapshots are json or yaml, not %q", flagValue)
		}
		return f, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return formatJSON, nil
	}
}

func newExportCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		outPath         string
		format          string
		includeArchived bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every project, catalog entry and issue as a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := snapshotFormatFor(format, outPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "export", stderr, func(s *session) error {
				snap, err := s.svc.ExportSnapshot(ctx, includeArchived)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				if outPath == "-" {
					return writeStructured(stdout, outFormat, snap)
				}
				var buf strings.Builder
				if err := writeStructured(&buf, outFormat, snap); err != nil {
					return err
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				if err := atomic.WriteFile(outPath, strings.NewReader(buf.String())); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				s.logger.Info("snapshot written", "path", outPath, "projects", len(snap.Projects), "issues", len(snap.Issues))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml; inferred from --out when empty")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", true, "include archived projects")
	return cmd
}

func newImportCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var inPath, format string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert every record of a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inFormat, err := snapshotFormatFor(format, inPath)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			switch inFormat {
			case formatYAML:
				if err := yaml.Unmarshal(content, &snap); err != nil {
					return fmt.Errorf("decode snapshot yaml: %w", err)
				}
			default:
				if err := json.Unmarshal(content, &snap); err != nil {
					return fmt.Errorf("decode snapshot json: %w", err)
				}
			}
			ctx := cmd.Context()
			return withSession(ctx, opts, "import", stderr, func(s *session) error {
				if err := s.svc.ImportSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				_, _ = fmt.Fprintf(stdout, "imported %d projects, %d issues\n", len(snap.Projects), len(snap.Issues))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&inPath, "in", "i", "", "input snapshot file")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml; inferred from --in when empty")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
