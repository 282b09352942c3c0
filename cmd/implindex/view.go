package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/implindex/internal/loader"
	"github.com/kingrea/implindex/internal/tui"
	"github.com/kingrea/implindex/internal/watcher"
)

func newViewCmd(flags *rootFlags) *cobra.Command {
	var (
		lf    loadFlags
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "view [fragments-root]",
		Short: "Browse the index in a terminal UI as fragments load",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			opts, err := s.loadOptions(cmd, &lf)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("watch") {
				watch = s.cfg.Project.Fragments.Watch
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			root := s.root(args)
			p := tea.NewProgram(
				tui.NewApp(ctx, s.catalog, tui.WithLogbook(s.journal)),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			go func() {
				if _, err := loader.Load(ctx, s.catalog, root, opts); err != nil {
					s.logger.Errorf("view: load %s: %v", root, err)
					s.journal.Error("load %s: %v", root, err)
				}
			}()
			if watch {
				w, err := watcher.New(watcher.Config{
					Root:        root,
					DebounceDur: time.Duration(s.cfg.Project.Fragments.DebounceMS) * time.Millisecond,
					Match:       loader.IsFragmentPath,
				})
				if err != nil {
					return err
				}
				changes, err := w.Start()
				if err != nil {
					_ = w.Stop()
					return err
				}
				defer w.Stop()
				go func() { _ = s.deliverChanges(ctx, root, changes, w.Errors()) }()
			}
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run viewer: %w", err)
			}
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "deliver fragments written under the root while viewing")
	return cmd
}
