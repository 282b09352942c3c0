package logbook

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/implindex/internal/implindex"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handoffs.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestRecordMintsReceiptAndFormatsHandoff(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "state", "handoffs.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	receipt := book.Record(Handoff{
		Capability: "core::hash::Hash",
		Path:       implindex.PathQueued,
		Source:     "trait.impl/core/hash/trait.Hash.js",
		Components: []string{"tokio", "bytes"},
	})
	if len(receipt) != 36 {
		t.Fatalf("expected uuid receipt, got %q", receipt)
	}
	kept := book.Record(Handoff{Receipt: "fixed", Capability: "core::hash::Hash", Path: implindex.PathDirect})
	if kept != "fixed" {
		t.Fatalf("caller receipt replaced: %q", kept)
	}
	lines, total := book.Tail(10)
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	for _, want := range []string{"queued", "core::hash::Hash", "[tokio,bytes]", "src=trait.impl/core/hash/trait.Hash.js", "id=" + receipt} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("line %q missing %q", lines[0], want)
		}
	}
	if !strings.Contains(lines[1], "src=- id=fixed") {
		t.Fatalf("line %q missing defaults", lines[1])
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Warn("ignored")
	if receipt := book.Record(Handoff{}); receipt == "" {
		t.Fatalf("nil logbook should still mint receipts")
	}
	if lines, total := book.Tail(5); lines != nil || total != 0 {
		t.Fatalf("expected empty tail")
	}
}
