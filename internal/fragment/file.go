// Package fragment reads and writes fragment files: rustdoc trait.impl
// scripts and the YAML equivalent.
package fragment

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/kingrea/implindex/internal/implindex"
)

// Format identifies a fragment file encoding.
type Format string

const (
	FormatRustdoc Format = "rustdoc"
	FormatYAML    Format = "yaml"
)

// File pairs a parsed fragment with its on-disk source.
type File struct {
	Path       string
	Capability string
	Format     Format
	Mapping    implindex.Mapping
	Digest     string
}

// Fragment converts the file into a deliverable fragment.
func (f File) Fragment() implindex.Fragment {
	return implindex.Fragment{Capability: f.Capability, Source: f.Path, Mapping: f.Mapping}
}

// FormatOf reports the fragment format implied by a file name.
func FormatOf(name string) (Format, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasSuffix(lower, ".js"):
		return FormatRustdoc, true
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return FormatYAML, true
	}
	return "", false
}

// Digest returns the hex blake3 hash of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadFile reads and parses one fragment. Rustdoc fragments take their
// capability from the path relative to root; YAML fragments declare it.
func LoadFile(root, path string) (File, error) {
	format, ok := FormatOf(path)
	if !ok {
		return File{}, fmt.Errorf("fragment: %s: unsupported file type", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("fragment: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("fragment: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("fragment: read %s: %w", path, err)
	}
	file := File{Path: filepath.Clean(path), Format: format, Digest: Digest(data)}
	switch format {
	case FormatYAML:
		capability, m, err := ParseYAML(data)
		if err != nil {
			return File{}, fmt.Errorf("fragment: %s: %w", path, err)
		}
		file.Capability, file.Mapping = capability, m
	default:
		m, err := Parse(data)
		if err != nil {
			return File{}, fmt.Errorf("fragment: %s: %w", path, err)
		}
		rel := path
		if root != "" {
			if r, err := filepath.Rel(root, path); err == nil {
				rel = r
			}
		}
		file.Capability, file.Mapping = CapabilityFromPath(rel), m
	}
	return file, nil
}
