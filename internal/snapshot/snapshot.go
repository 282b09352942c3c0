// Package snapshot captures the merged state of a catalog and persists it.
//
// The binary form is the four byte magic "IMPX", a version byte, and a zstd
// frame holding the snapshot in Core Deterministic CBOR. The same catalog
// content always produces the same bytes and the same digest.
package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/implindex/internal/implindex"
)

// Version is the binary format version written by Write.
const Version byte = 1

var magic = []byte("IMPX")

// ErrFormat reports bytes that are not a snapshot this package can read.
var ErrFormat = errors.New("snapshot: unrecognized format")

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Capability is the merged state of one index.
type Capability struct {
	Name     string            `json:"name" yaml:"name" cbor:"1,keyasint"`
	Revision uint64            `json:"revision" yaml:"revision" cbor:"2,keyasint"`
	Open     bool              `json:"open" yaml:"open" cbor:"3,keyasint"`
	Pending  int               `json:"pending" yaml:"pending" cbor:"4,keyasint"`
	Entries  implindex.Mapping `json:"entries" yaml:"entries" cbor:"5,keyasint"`
}

// Snapshot is the merged state of a catalog, capabilities sorted by name.
// Pending mappings are counted but not captured.
//
// Delivered maps each fragment file whose entries are in the snapshot to the
// digest of the content that was merged. Take leaves it empty; callers that
// deliver files fill it so a restore can skip them.
type Snapshot struct {
	Capabilities []Capability      `json:"capabilities" yaml:"capabilities" cbor:"1,keyasint"`
	Delivered    map[string]string `json:"delivered,omitempty" yaml:"delivered,omitempty" cbor:"2,keyasint,omitempty"`
}

// Take captures cat.
func Take(cat *implindex.Catalog) Snapshot {
	names := cat.Capabilities()
	snap := Snapshot{Capabilities: make([]Capability, 0, len(names))}
	for _, name := range names {
		ix := cat.Index(name)
		entries, revision := ix.Snapshot()
		snap.Capabilities = append(snap.Capabilities, Capability{
			Name:     name,
			Revision: revision,
			Open:     ix.IsOpen(),
			Pending:  ix.Pending(),
			Entries:  entries,
		})
	}
	return snap
}

// Lookup returns the capability with the given name.
func (s Snapshot) Lookup(name string) (Capability, bool) {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

type content struct {
	Name    string            `cbor:"1,keyasint"`
	Entries implindex.Mapping `cbor:"2,keyasint"`
}

// Digest is the hex blake3 hash of the merged content: capability names and
// their entries. Revisions and open state do not contribute.
func (s Snapshot) Digest() (string, error) {
	items := make([]content, 0, len(s.Capabilities))
	for _, c := range s.Capabilities {
		if len(c.Entries) == 0 {
			continue
		}
		items = append(items, content{Name: c.Name, Entries: c.Entries})
	}
	data, err := encMode.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("snapshot: encode digest input: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Write encodes snap in the binary format.
func Write(w io.Writer, snap Snapshot) error {
	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(Version)
	buf.Write(zstdEncoder.EncodeAll(data, nil))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("snapshot: write: %w", err)
	}
	return nil
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read: %w", err)
	}
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return Snapshot{}, ErrFormat
	}
	if v := data[len(magic)]; v != Version {
		return Snapshot{}, fmt.Errorf("%w: version %d", ErrFormat, v)
	}
	raw, err := zstdDecoder.DecodeAll(data[len(magic)+1:], nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decompress: %w", err)
	}
	var snap Snapshot
	if err := decMode.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}

// Save writes snap to path, replacing any previous file atomically.
func Save(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := Write(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot: replace %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a snapshot saved by Save.
func LoadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Format names an export encoding.
type Format string

const (
	FormatBinary Format = "snapshot"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatCBOR   Format = "cbor"
)

// ParseFormat validates an export format name.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatBinary, FormatJSON, FormatYAML, FormatCBOR:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatBinary, nil
	}
	return "", fmt.Errorf("snapshot: unknown format %q", value)
}

// Export writes snap to w in the given format. JSON keeps each capability's
// component order.
func Export(w io.Writer, snap Snapshot, format Format) error {
	switch format {
	case FormatBinary:
		return Write(w, snap)
	case FormatCBOR:
		data, err := encMode.Marshal(snap)
		if err != nil {
			return fmt.Errorf("snapshot: encode cbor: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("snapshot: encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("snapshot: encode json: %w", err)
		}
		return nil
	}
	return fmt.Errorf("snapshot: unknown format %q", format)
}

// Restore registers every captured capability with cat. Before cat opens the
// entries queue like any other fragment. It returns the number of
// capabilities restored.
func Restore(cat *implindex.Catalog, snap Snapshot) int {
	restored := 0
	for _, c := range snap.Capabilities {
		if len(c.Entries) == 0 {
			continue
		}
		cat.Register(c.Name, c.Entries)
		restored++
	}
	return restored
}
