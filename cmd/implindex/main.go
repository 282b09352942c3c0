// cmd/implindex/main.go
//
// This is the entry point for the implindex CLI.
//
// Every subcommand works against a project directory (the current directory
// unless --project is given). The first run creates .implindex/ there with a
// config file, a log directory and a state directory for the handoff journal
// and snapshots.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kingrea/implindex/internal/config"
	"github.com/kingrea/implindex/internal/implindex"
	"github.com/kingrea/implindex/internal/loader"
	"github.com/kingrea/implindex/internal/logbook"
	"github.com/kingrea/implindex/internal/logging"
)

var version = "dev"

func init() {
	// Query the terminal background before any bubbletea program starts so
	// the OSC 11 reply does not land in the input stream.
	_ = lipgloss.HasDarkBackground()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		die("%v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type rootFlags struct {
	project string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "implindex",
		Short:         "Aggregate rustdoc implementor fragments into a queryable index",
		Long:          "implindex collects trait implementor fragments, queues them until the index opens, and merges them additively.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.project, "project", "C", "", "project directory (default: current directory)")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "mirror log lines to stderr")

	root.AddCommand(
		newInitCmd(flags),
		newBuildCmd(flags),
		newInspectCmd(),
		newServeCmd(flags),
		newViewCmd(flags),
	)
	return root
}

// session bundles what every subcommand needs: config, log, journal and an
// empty catalog.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
	catalog *implindex.Catalog

	mu        sync.Mutex
	delivered map[string]string // fragment path -> merged content digest
}

func openSession(flags *rootFlags, stderr io.Writer) (*session, error) {
	projectDir := flags.project
	if projectDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		projectDir = cwd
	}
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.InitDir(projectDir); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.Dir, err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(projectDir)
	if err != nil {
		return nil, err
	}
	if flags.verbose {
		logger.Mirror(stderr)
	}
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &session{
		cfg:       cfg,
		logger:    logger,
		journal:   journal,
		catalog:   implindex.NewCatalog(implindex.WithCatalogLogger(logger)),
		delivered: map[string]string{},
	}, nil
}

func (s *session) Close() {
	s.catalog.Close()
	_ = s.logger.Close()
}

// root picks the fragment root: the positional argument wins over config.
func (s *session) root(args []string) string {
	if len(args) > 0 && args[0] != "" {
		abs, err := filepath.Abs(args[0])
		if err == nil {
			return abs
		}
		return args[0]
	}
	return s.cfg.FragmentsRoot()
}

// loadFlags are the delivery knobs shared by build, serve and view.
type loadFlags struct {
	order   string
	seed    int64
	workers int
	open    string
}

func (lf *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&lf.order, "order", "", "delivery order: sorted, reverse or shuffle (default from config)")
	cmd.Flags().Int64Var(&lf.seed, "seed", 0, "shuffle seed (default from config)")
	cmd.Flags().IntVar(&lf.workers, "workers", 0, "parallel parsers (default from config)")
	cmd.Flags().StringVar(&lf.open, "open", "", "when the index opens: before, after, never or at:<n> (default from config)")
}

func (s *session) loadOptions(cmd *cobra.Command, lf *loadFlags) (loader.Options, error) {
	load := s.cfg.Project.Load
	order, open, seed, workers := load.Order, load.Open, load.Seed, load.Workers
	if cmd.Flags().Changed("order") {
		order = lf.order
	}
	if cmd.Flags().Changed("open") {
		open = lf.open
	}
	if cmd.Flags().Changed("seed") {
		seed = lf.seed
	}
	if cmd.Flags().Changed("workers") {
		workers = lf.workers
	}
	parsedOrder, err := loader.ParseOrder(order)
	if err != nil {
		return loader.Options{}, err
	}
	policy, err := loader.ParseOpen(open)
	if err != nil {
		return loader.Options{}, err
	}
	return loader.Options{
		Order:   parsedOrder,
		Seed:    seed,
		Workers: workers,
		Open:    policy,
		Journal: s.journal,
		Logger:  s.logger,
	}, nil
}
