// Package loader finds fragment files under a documentation root and hands
// each of them, exactly once, to a catalog.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/implindex/internal/fragment"
	"github.com/kingrea/implindex/internal/implindex"
	"github.com/kingrea/implindex/internal/logbook"
)

// Order decides the sequence in which parsed fragments are delivered.
type Order string

const (
	OrderSorted  Order = "sorted"
	OrderReverse Order = "reverse"
	OrderShuffle Order = "shuffle"
)

// ParseOrder validates an order name.
func ParseOrder(value string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(value))); o {
	case OrderSorted, OrderReverse, OrderShuffle:
		return o, nil
	case "":
		return OrderSorted, nil
	}
	return "", fmt.Errorf("loader: unknown order %q", value)
}

// OpenMode says when the catalog opens relative to deliveries.
type OpenMode string

const (
	OpenBefore OpenMode = "before"
	OpenAfter  OpenMode = "after"
	OpenNever  OpenMode = "never"
	OpenAt     OpenMode = "at"
)

// OpenPolicy pins the catalog's Open call into the delivery sequence.
type OpenPolicy struct {
	Mode OpenMode
	// At is the number of deliveries that precede Open when Mode is OpenAt.
	At int
}

// ParseOpen parses before, after, never or at:<n>.
func ParseOpen(value string) (OpenPolicy, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch OpenMode(value) {
	case OpenBefore, OpenAfter, OpenNever:
		return OpenPolicy{Mode: OpenMode(value)}, nil
	case "":
		return OpenPolicy{Mode: OpenAfter}, nil
	}
	if rest, ok := strings.CutPrefix(value, "at:"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n >= 0 {
			return OpenPolicy{Mode: OpenAt, At: n}, nil
		}
	}
	return OpenPolicy{}, fmt.Errorf("loader: unknown open policy %q", value)
}

// Journal records handoffs. *logbook.Logbook satisfies it.
type Journal interface {
	Record(logbook.Handoff) string
}

// Logger matches logging.Logger's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// Options tunes Load.
type Options struct {
	Order   Order
	Seed    int64
	Workers int
	Open    OpenPolicy
	Journal Journal
	Logger  Logger
	// Skip maps fragment paths to the digest already merged into the
	// catalog. A file whose content still has that digest is not delivered.
	Skip map[string]string
}

// Report summarizes a load.
type Report struct {
	Files        int
	Direct       int
	Queued       int
	Drained      int
	Skipped      int
	Capabilities map[string]int
	// Digests covers every file under the root, skipped ones included.
	Digests map[string]string
}

// Discover lists fragment files below root in lexical order. rustdoc scripts
// are only picked up inside a trait.impl or implementors tree; YAML fragments
// are picked up anywhere. Hidden directories are skipped and a missing root
// yields no files.
func Discover(root string) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("loader: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: %s is not a directory", root)
	}
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsFragmentPath(root, path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loader: walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// IsFragmentPath reports whether path, found below root, is a fragment file.
func IsFragmentPath(root, path string) bool {
	format, ok := fragment.FormatOf(path)
	if !ok {
		return false
	}
	if format == fragment.FormatYAML {
		return true
	}
	if inFragmentTree(filepath.Base(filepath.Clean(root))) {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if inFragmentTree(seg) {
			return true
		}
	}
	return false
}

func inFragmentTree(segment string) bool {
	return segment == "trait.impl" || segment == "implementors"
}

// Load discovers and parses every fragment under root, then delivers them to
// cat following opts. Parsing runs concurrently; delivery is sequential so
// the order is the one opts asked for.
func Load(ctx context.Context, cat *implindex.Catalog, root string, opts Options) (Report, error) {
	paths, err := Discover(root)
	if err != nil {
		return Report{}, err
	}
	files, err := ParseAll(ctx, root, paths, opts.Workers)
	if err != nil {
		return Report{}, err
	}
	return Deliver(ctx, cat, files, opts)
}

// ParseAll parses paths with at most workers files in flight. Results keep the
// order of paths.
func ParseAll(ctx context.Context, root string, paths []string, workers int) ([]fragment.File, error) {
	if workers <= 0 {
		workers = 1
	}
	files := make([]fragment.File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			file, err := fragment.LoadFile(root, path)
			if err != nil {
				return err
			}
			files[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// Deliver hands files to cat in the requested order, opening the catalog at
// the requested point.
func Deliver(ctx context.Context, cat *implindex.Catalog, files []fragment.File, opts Options) (Report, error) {
	report := Report{
		Capabilities: map[string]int{},
		Digests:      map[string]string{},
	}
	fresh := make([]fragment.File, 0, len(files))
	for _, file := range files {
		if digest, ok := opts.Skip[file.Path]; ok && digest == file.Digest {
			report.Skipped++
			report.Digests[file.Path] = file.Digest
			continue
		}
		fresh = append(fresh, file)
	}
	ordered := arrange(fresh, opts.Order, opts.Seed)
	report.Files = len(ordered)
	openAt := -1
	switch opts.Open.Mode {
	case OpenBefore:
		openAt = 0
	case OpenAt:
		openAt = min(opts.Open.At, len(ordered))
	case OpenNever:
	default:
		openAt = len(ordered)
	}
	for i, file := range ordered {
		if i == openAt {
			report.Drained = cat.Open()
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch DeliverFile(cat, file, opts.Journal) {
		case implindex.PathDirect:
			report.Direct++
		case implindex.PathQueued:
			report.Queued++
		}
		report.Capabilities[file.Capability]++
		report.Digests[file.Path] = file.Digest
	}
	if openAt == len(ordered) {
		report.Drained = cat.Open()
	}
	if opts.Logger != nil {
		opts.Logger.Printf("loader: delivered %d fragment(s): %d direct, %d queued, %d drained, %d already merged",
			report.Files, report.Direct, report.Queued, report.Drained, report.Skipped)
	}
	return report, nil
}

// DeliverFile performs one fragment handoff and journals it.
func DeliverFile(cat *implindex.Catalog, file fragment.File, journal Journal) implindex.Path {
	path := file.Fragment().DeliverTo(cat)
	if journal != nil {
		journal.Record(logbook.Handoff{
			Capability: file.Capability,
			Path:       path,
			Source:     file.Path,
			Components: file.Mapping.Components(),
		})
	}
	return path
}

func arrange(files []fragment.File, order Order, seed int64) []fragment.File {
	out := make([]fragment.File, len(files))
	copy(out, files)
	switch order {
	case OrderReverse:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case OrderShuffle:
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}
