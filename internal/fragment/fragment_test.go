package fragment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/implindex/internal/implindex"
)

const tokioFixture = "testdata/trait.impl/core/hash/trait.Hash.js"

func TestParseRustdocFixtureUsesTrailer(t *testing.T) {
	data, err := os.ReadFile(tokioFixture)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	tr, ok := findTrailer(data)
	if !ok {
		t.Fatalf("expected trailer in fixture")
	}
	if tr.Start != 57 || len(tr.FragmentLengths) != 1 {
		t.Fatalf("unexpected trailer %+v", tr)
	}
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := m.Components(); len(got) != 1 || got[0] != "tokio" {
		t.Fatalf("components = %v, want [tokio]", got)
	}
	impls, _ := m.Get("tokio")
	if len(impls) != 5 {
		t.Fatalf("len(impls) = %d, want 5", len(impls))
	}
	want := []string{
		"impl Hash for UCred",
		"impl Hash for Id",
		"impl Hash for SignalKind",
		"impl Hash for Id",
		"impl Hash for Instant",
	}
	for i, w := range want {
		if got := impls[i].Text(); got != w {
			t.Fatalf("impl %d = %q, want %q", i, got, w)
		}
	}
}

func TestParseFallsBackWhenTrailerMissingOrWrong(t *testing.T) {
	data, err := os.ReadFile(tokioFixture)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	idx := strings.LastIndex(string(data), "//{")
	cases := map[string][]byte{
		"no trailer":  data[:idx],
		"bad lengths": append(append([]byte{}, data[:idx]...), []byte(`//{"start":57,"fragment_lengths":[9]}`)...),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := Parse(payload)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			impls, ok := m.Get("tokio")
			if !ok || len(impls) != 5 {
				t.Fatalf("expected 5 tokio implementors, got %d", len(impls))
			}
		})
	}
}

func TestParseRejectsMissingPayload(t *testing.T) {
	if _, err := Parse([]byte("(function() {})()")); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
	if _, err := Parse([]byte("   ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestParseAcceptsBareStringsAndEmptyLists(t *testing.T) {
	src := `(function() {
    var implementors = Object.fromEntries([["serde",["impl Hash for Value"]],["bytes",[]]]);
})()`
	m, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	impls, ok := m.Get("bytes")
	if !ok || len(impls) != 0 {
		t.Fatalf("bytes should be declared with no implementors, got %v %v", impls, ok)
	}
	serde, _ := m.Get("serde")
	if len(serde) != 1 || serde[0] != "impl Hash for Value" {
		t.Fatalf("serde = %v", serde)
	}
}

func TestEncodeProducesParseableTrailer(t *testing.T) {
	m := implindex.Mapping{
		{Component: "tokio", Implementors: []implindex.Descriptor{`impl <a href="x">Hash</a> for Id`}},
		{Component: "bytes", Implementors: []implindex.Descriptor{}},
	}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tr, ok := findTrailer(data)
	if !ok {
		t.Fatalf("encoded output lacks trailer")
	}
	if tr.Start != 57 {
		t.Fatalf("start = %d, want 57", tr.Start)
	}
	got, err := parseWithTrailer(data, tr)
	if err != nil {
		t.Fatalf("parse with trailer: %v", err)
	}
	if len(got) != 2 || got[0].Component != "tokio" || got[1].Component != "bytes" {
		t.Fatalf("unexpected mapping %+v", got)
	}
	if got[0].Implementors[0] != m[0].Implementors[0] {
		t.Fatalf("descriptor changed: %q", got[0].Implementors[0])
	}
	if !strings.Contains(string(data), "window.register_implementors(implementors)") {
		t.Fatalf("encoded output lacks intake call")
	}
}

func TestParseIgnoresTrailerThatCoversTooFewEntries(t *testing.T) {
	data, err := Encode(implindex.Mapping{
		{Component: "tokio", Implementors: []implindex.Descriptor{"impl Hash for UCred"}},
		{Component: "serde", Implementors: []implindex.Descriptor{"impl Hash for Value"}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tr, ok := findTrailer(data)
	if !ok {
		t.Fatalf("encoded output lacks trailer")
	}
	idx := strings.LastIndex(string(data), "//{")
	stale := fmt.Sprintf(`//{"start":%d,"fragment_lengths":[%d]}`, tr.Start, tr.FragmentLengths[0])
	data = append(append([]byte{}, data[:idx]...), stale...)

	if _, err := parseWithTrailer(data, trailer{Start: tr.Start, FragmentLengths: tr.FragmentLengths[:1]}); err == nil {
		t.Fatalf("short trailer accepted")
	}
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := m.Components(); len(got) != 2 || got[0] != "tokio" || got[1] != "serde" {
		t.Fatalf("components = %v, want [tokio serde]", got)
	}
}

func TestCapabilityFromPath(t *testing.T) {
	cases := map[string]string{
		"core/hash/trait.Hash.js":                     "core::hash::Hash",
		"trait.impl/core/hash/trait.Hash.js":          "core::hash::Hash",
		"implementors/core/fmt/trait.Debug.js":        "core::fmt::Debug",
		"trait.impl/core/hash/trait.Hash.js/tokio.js": "core::hash::Hash",
		"serde/ser/trait.Serialize.js":                "serde::ser::Serialize",
		"":                                            "",
	}
	for in, want := range cases {
		if got := CapabilityFromPath(in); got != want {
			t.Fatalf("CapabilityFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseYAML(t *testing.T) {
	src := `capability: core::hash::Hash
components:
  - name: tokio
    implementors:
      - impl Hash for UCred
      - impl Hash for Id
  - name: bytes
`
	capability, m, err := ParseYAML([]byte(src))
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if capability != "core::hash::Hash" {
		t.Fatalf("capability = %q", capability)
	}
	if got := m.Components(); len(got) != 2 || got[0] != "tokio" || got[1] != "bytes" {
		t.Fatalf("components = %v", got)
	}
	if impls, ok := m.Get("bytes"); !ok || impls == nil || len(impls) != 0 {
		t.Fatalf("bytes should map to an empty list, got %#v", impls)
	}
	if _, _, err := ParseYAML([]byte("components: []")); err == nil {
		t.Fatalf("expected capability error")
	}
}

func TestLoadFileDerivesCapabilityAndDigest(t *testing.T) {
	root := "testdata"
	file, err := LoadFile(root, filepath.Join(root, "trait.impl", "core", "hash", "trait.Hash.js"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if file.Capability != "core::hash::Hash" {
		t.Fatalf("capability = %q", file.Capability)
	}
	if file.Format != FormatRustdoc {
		t.Fatalf("format = %q", file.Format)
	}
	if len(file.Digest) != 64 {
		t.Fatalf("digest = %q", file.Digest)
	}
	frag := file.Fragment()
	if frag.Source != file.Path || len(frag.Mapping) != 1 {
		t.Fatalf("unexpected fragment %+v", frag)
	}

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "extra.yaml")
	data, err := EncodeYAML("core::hash::Hash", implindex.Mapping{{Component: "serde", Implementors: []implindex.Descriptor{"impl Hash for Value"}}})
	if err != nil {
		t.Fatalf("encode yaml: %v", err)
	}
	if err := os.WriteFile(yamlPath, data, 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	yf, err := LoadFile(dir, yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if yf.Capability != "core::hash::Hash" || yf.Format != FormatYAML {
		t.Fatalf("unexpected yaml file %+v", yf)
	}
	if _, err := LoadFile(dir, filepath.Join(dir, "notes.txt")); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}
