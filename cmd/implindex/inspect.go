package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/implindex/internal/fragment"
	"github.com/kingrea/implindex/internal/snapshot"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe a fragment file or a saved snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if strings.EqualFold(filepath.Ext(path), ".snap") {
				snap, err := snapshot.LoadFile(path)
				if err != nil {
					return err
				}
				return describeSnapshot(cmd.OutOrStdout(), snap)
			}
			file, err := fragment.LoadFile(fragmentRoot(path), path)
			if err != nil {
				return err
			}
			describeFragment(cmd.OutOrStdout(), file)
			return nil
		},
	}
}

// fragmentRoot returns the directory above the nearest trait.impl or
// implementors segment of path, so the capability can be derived from the
// remainder. Paths outside such a tree resolve against their own directory.
func fragmentRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		base := filepath.Base(dir)
		if base == "trait.impl" || base == "implementors" {
			return filepath.Dir(dir)
		}
		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}
	return filepath.Dir(abs)
}

func describeFragment(w io.Writer, file fragment.File) {
	fmt.Fprintf(w, "file:       %s\n", file.Path)
	fmt.Fprintf(w, "format:     %s\n", file.Format)
	fmt.Fprintf(w, "capability: %s\n", file.Capability)
	fmt.Fprintf(w, "digest:     %s\n", file.Digest)
	fmt.Fprintf(w, "components: %d (%d implementor(s))\n", len(file.Mapping), file.Mapping.Descriptors())
	for _, e := range file.Mapping {
		fmt.Fprintf(w, "  %s\n", e.Component)
		for _, d := range e.Implementors {
			fmt.Fprintf(w, "    %s\n", d.Text())
		}
	}
}

func describeSnapshot(w io.Writer, snap snapshot.Snapshot) error {
	digest, err := snap.Digest()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "capabilities: %d\n", len(snap.Capabilities))
	for _, c := range snap.Capabilities {
		state := "open"
		if !c.Open {
			state = fmt.Sprintf("queueing, %d pending", c.Pending)
		}
		fmt.Fprintf(w, "  %-40s rev %-4d %3d component(s)  %s\n", c.Name, c.Revision, len(c.Entries), state)
	}
	fmt.Fprintf(w, "digest: %s\n", digest)
	return nil
}
