package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init [fragments-root]",
		Short: "Create .implindex/ and optionally record the fragment root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			if len(args) > 0 {
				if err := s.cfg.SetFragmentsRoot(s.root(args)); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config:    %s\nfragments: %s\n", s.cfg.ProjectConfigPath(), s.cfg.FragmentsRoot())
			return nil
		},
	}
}
