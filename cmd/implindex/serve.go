package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/implindex/internal/bridge"
	"github.com/kingrea/implindex/internal/fragment"
	"github.com/kingrea/implindex/internal/loader"
	"github.com/kingrea/implindex/internal/snapshot"
	"github.com/kingrea/implindex/internal/watcher"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		lf        loadFlags
		openDelay time.Duration
		watch     bool
		restore   bool
		save      bool
	)
	cmd := &cobra.Command{
		Use:   "serve [fragments-root]",
		Short: "Serve the index over HTTP while fragments arrive",
		Long: `Serve the index over HTTP while fragments arrive.

Fragments found under the root are delivered at startup; more can be posted
to /fragments or, with --watch, written under the root. With --open-delay the
index stays closed for that long, so early fragments queue and drain when it
opens.`,
		Args: cobra.MaximumNArgs(1),
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
			if openDelay > 0 {
				opts.Open = loader.OpenPolicy{Mode: loader.OpenNever}
			}
			if !cmd.Flags().Changed("watch") {
				watch = s.cfg.Project.Fragments.Watch
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if restore {
				skip, err := s.restore()
				if err != nil {
					s.logger.Warnf("serve: restore skipped: %v", err)
				}
				opts.Skip = skip
			}

			settings := bridge.SettingsFromConfig(s.cfg)
			settings.Enabled = true
			srv := bridge.NewServer(settings, s.catalog,
				bridge.WithJournal(s.journal),
				bridge.WithLogger(s.logger))
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", srv.BaseURL())

			root := s.root(args)
			report, err := s.load(ctx, root, opts)
			if err != nil {
				_ = srv.Shutdown(context.Background())
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d fragment(s), %d direct, %d queued, %d already merged\n",
				root, report.Files, report.Direct, report.Queued, report.Skipped)

			g, gctx := errgroup.WithContext(ctx)
			if openDelay > 0 {
				g.Go(func() error {
					select {
					case <-time.After(openDelay):
						drained := s.catalog.Open()
						s.logger.Infof("serve: opened after %s, drained %d", openDelay, drained)
						s.journal.Info("catalog opened after %s, drained %d pending mapping(s)", openDelay, drained)
					case <-gctx.Done():
					}
					return nil
				})
			}
			if watch {
				w, err := watcher.New(watcher.Config{
					Root:        root,
					DebounceDur: time.Duration(s.cfg.Project.Fragments.DebounceMS) * time.Millisecond,
					Match:       loader.IsFragmentPath,
				})
				if err != nil {
					_ = srv.Shutdown(context.Background())
					return err
				}
				changes, err := w.Start()
				if err != nil {
					_ = w.Stop()
					_ = srv.Shutdown(context.Background())
					return err
				}
				g.Go(func() error {
					defer w.Stop()
					return s.deliverChanges(gctx, root, changes, w.Errors())
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if err := g.Wait(); err != nil {
				return err
			}

			if save {
				if err := s.save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", s.cfg.SnapshotPath())
			}
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().DurationVar(&openDelay, "open-delay", 0, "keep the index closed for this long after startup")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "deliver fragments written under the root while serving")
	cmd.Flags().BoolVar(&restore, "restore", false, "seed the catalog from the saved snapshot")
	cmd.Flags().BoolVar(&save, "save", false, "save a snapshot on shutdown")
	return cmd
}

// deliverChanges hands every changed fragment file to the catalog. Each write
// is a new delivery: a rewritten file adds its entries again.
func (s *session) deliverChanges(ctx context.Context, root string, changes <-chan []string, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			s.logger.Warnf("watch: %v", err)
		case batch, ok := <-changes:
			if !ok {
				return nil
			}
			for _, path := range batch {
				file, err := fragment.LoadFile(root, path)
				if err != nil {
					s.logger.Warnf("watch: %v", err)
					s.journal.Warn("skipped %s: %v", path, err)
					continue
				}
				route := loader.DeliverFile(s.catalog, file, s.journal)
				s.markDelivered(file.Path, file.Digest)
				s.logger.Infof("watch: %s %s from %s", route, file.Capability, file.Path)
			}
		}
	}
}

// restore seeds the catalog from the saved snapshot and returns the fragment
// files it already covers. A missing snapshot is not an error.
func (s *session) restore() (map[string]string, error) {
	snap, err := snapshot.LoadFile(s.cfg.SnapshotPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	n := snapshot.Restore(s.catalog, snap)
	s.mu.Lock()
	for path, digest := range snap.Delivered {
		s.delivered[path] = digest
	}
	s.mu.Unlock()
	s.logger.Infof("serve: restored %d capability(ies) covering %d file(s) from %s",
		n, len(snap.Delivered), s.cfg.SnapshotPath())
	return snap.Delivered, nil
}

// load runs loader.Load and remembers which files the catalog now holds.
func (s *session) load(ctx context.Context, root string, opts loader.Options) (loader.Report, error) {
	report, err := loader.Load(ctx, s.catalog, root, opts)
	for path, digest := range report.Digests {
		s.markDelivered(path, digest)
	}
	return report, err
}

func (s *session) markDelivered(path, digest string) {
	s.mu.Lock()
	s.delivered[path] = digest
	s.mu.Unlock()
}

// take captures the catalog along with the fragment files it covers. Files
// are only recorded once the catalog is open; before that their entries are
// still queued and absent from the snapshot.
func (s *session) take() snapshot.Snapshot {
	snap := snapshot.Take(s.catalog)
	if !s.catalog.IsOpen() {
		return snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delivered) > 0 {
		snap.Delivered = make(map[string]string, len(s.delivered))
		for path, digest := range s.delivered {
			snap.Delivered[path] = digest
		}
	}
	return snap
}

func (s *session) save() error {
	return snapshot.Save(s.cfg.SnapshotPath(), s.take())
}
