package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kingrea/implindex/internal/snapshot"
)

func newBuildCmd(flags *rootFlags) *cobra.Command {
	var (
		lf     loadFlags
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "build [fragments-root]",
		Short: "Load every fragment under the root and write the merged index",
		Long: `Load every fragment under the root and write the merged index.

Examples:
  # Write the binary snapshot to .implindex/state/index.snap
  implindex build target/doc

  # Print the merged index as JSON, delivering fragments in a shuffled order
  implindex build target/doc --out - --format json --order shuffle --seed 42

  # Open the index after the third delivery
  implindex build target/doc --open at:3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			exportFormat, err := snapshot.ParseFormat(format)
			if err != nil {
				return err
			}
			opts, err := s.loadOptions(cmd, &lf)
			if err != nil {
				return err
			}
			root := s.root(args)
			report, err := s.load(cmd.Context(), root, opts)
			if err != nil {
				return err
			}
			snap := s.take()
			digest, err := snap.Digest()
			if err != nil {
				return err
			}

			if out == "" {
				out = s.cfg.SnapshotPath()
			}
			switch {
			case out == "-":
				if err := snapshot.Export(cmd.OutOrStdout(), snap, exportFormat); err != nil {
					return err
				}
			case exportFormat == snapshot.FormatBinary:
				if err := snapshot.Save(out, snap); err != nil {
					return err
				}
			default:
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				if err := snapshot.Export(f, snap, exportFormat); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}

			summary := cmd.ErrOrStderr()
			fmt.Fprintf(summary, "%s: %d fragment(s), %d direct, %d queued, %d drained\n",
				root, report.Files, report.Direct, report.Queued, report.Drained)
			names := make([]string, 0, len(report.Capabilities))
			for name := range report.Capabilities {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(summary, "  %-40s %d fragment(s)\n", name, report.Capabilities[name])
			}
			if pending := s.catalog.Pending(); pending > 0 {
				fmt.Fprintf(summary, "warning: index never opened, %d mapping(s) still pending\n", pending)
				s.logger.Warnf("build: %d mapping(s) left pending", pending)
				s.journal.Warn("build left %d mapping(s) pending, index never opened", pending)
			}
			fmt.Fprintf(summary, "digest %s\n", digest)
			if out != "-" {
				fmt.Fprintf(summary, "wrote %s\n", out)
			}
			s.logger.Infof("build: %s -> %s (%s)", root, out, digest)
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path, - for stdout (default: .implindex/state/index.snap)")
	cmd.Flags().StringVarP(&format, "format", "f", "snapshot", "output format: snapshot, json, yaml or cbor")
	return cmd
}
