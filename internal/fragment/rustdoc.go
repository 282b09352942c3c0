package fragment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/implindex/internal/implindex"
)

// ErrNoPayload is returned when a file carries no implementor table.
var ErrNoPayload = errors.New("fragment: no implementor payload found")

const (
	payloadMarker = "Object.fromEntries("
	trailerPrefix = "//"

	jsHeader = "(function() {\n    var implementors = " + payloadMarker + "["
	jsFooter = "]);\n" +
		"    if (window.register_implementors) {\n" +
		"        window.register_implementors(implementors);\n" +
		"    } else {\n" +
		"        window.pending_implementors = implementors;\n" +
		"    }\n" +
		"})()\n"
)

// trailer is the offset table rustdoc appends as a final line comment so
// multi-crate builds can splice entries without reparsing the file.
type trailer struct {
	Start           int   `json:"start"`
	FragmentLengths []int `json:"fragment_lengths"`
}

// Parse decodes a rustdoc trait.impl fragment. When the offset trailer is
// present and consistent it is used to slice entries; otherwise the array
// passed to Object.fromEntries is decoded directly.
func Parse(data []byte) (implindex.Mapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("fragment: payload is empty")
	}
	if t, ok := findTrailer(data); ok {
		if m, err := parseWithTrailer(data, t); err == nil {
			return m, nil
		}
	}
	return parseScan(data)
}

// Encode renders a mapping in rustdoc's fragment layout, trailer included.
func Encode(m implindex.Mapping) ([]byte, error) {
	var body bytes.Buffer
	lengths := make([]int, 0, len(m))
	for i, e := range m {
		raw, err := encodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("fragment: encode %s: %w", e.Component, err)
		}
		if i > 0 {
			body.WriteByte(',')
		}
		body.Write(raw)
		lengths = append(lengths, len(raw))
	}
	meta, err := json.Marshal(trailer{Start: len(jsHeader), FragmentLengths: lengths})
	if err != nil {
		return nil, fmt.Errorf("fragment: encode trailer: %w", err)
	}
	var out bytes.Buffer
	out.WriteString(jsHeader)
	out.Write(body.Bytes())
	out.WriteString(jsFooter)
	out.WriteString(trailerPrefix)
	out.Write(meta)
	return out.Bytes(), nil
}

func findTrailer(data []byte) (trailer, bool) {
	trimmed := bytes.TrimRight(data, " \t\r\n")
	line := trimmed
	if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
		line = trimmed[idx+1:]
	}
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte(trailerPrefix+"{")) {
		return trailer{}, false
	}
	var t trailer
	if err := json.Unmarshal(line[len(trailerPrefix):], &t); err != nil {
		return trailer{}, false
	}
	return t, true
}

func parseWithTrailer(data []byte, t trailer) (implindex.Mapping, error) {
	if t.Start < 0 || t.Start > len(data) {
		return nil, fmt.Errorf("fragment: trailer start %d out of range", t.Start)
	}
	m := make(implindex.Mapping, 0, len(t.FragmentLengths))
	pos := t.Start
	for i, n := range t.FragmentLengths {
		if i > 0 {
			if pos >= len(data) || data[pos] != ',' {
				return nil, fmt.Errorf("fragment: missing separator before entry %d", i)
			}
			pos++
		}
		if n < 0 || pos+n > len(data) {
			return nil, fmt.Errorf("fragment: entry %d overruns payload", i)
		}
		entry, err := decodeEntry(data[pos : pos+n])
		if err != nil {
			return nil, err
		}
		m = append(m, entry)
		pos += n
	}
	// The table must account for every entry, so the array closes here.
	if pos >= len(data) || data[pos] != ']' {
		return nil, fmt.Errorf("fragment: trailer covers %d entries but payload continues", len(t.FragmentLengths))
	}
	return m, nil
}

func parseScan(data []byte) (implindex.Mapping, error) {
	idx := bytes.Index(data, []byte(payloadMarker))
	if idx < 0 {
		return nil, ErrNoPayload
	}
	dec := json.NewDecoder(bytes.NewReader(data[idx+len(payloadMarker):]))
	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("fragment: decode payload: %w", err)
	}
	m := make(implindex.Mapping, 0, len(raw))
	for _, item := range raw {
		entry, err := decodeEntry(item)
		if err != nil {
			return nil, err
		}
		m = append(m, entry)
	}
	return m, nil
}

func decodeEntry(raw []byte) (implindex.Entry, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return implindex.Entry{}, fmt.Errorf("fragment: decode entry: %w", err)
	}
	if len(pair) != 2 {
		return implindex.Entry{}, fmt.Errorf("fragment: entry has %d elements, want 2", len(pair))
	}
	var name string
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return implindex.Entry{}, fmt.Errorf("fragment: entry name: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(pair[1], &items); err != nil {
		return implindex.Entry{}, fmt.Errorf("fragment: %s implementors: %w", name, err)
	}
	impls := make([]implindex.Descriptor, 0, len(items))
	for i, item := range items {
		d, err := decodeDescriptor(item)
		if err != nil {
			return implindex.Entry{}, fmt.Errorf("fragment: %s implementor %d: %w", name, i, err)
		}
		impls = append(impls, d)
	}
	return implindex.Entry{Component: name, Implementors: impls}, nil
}

// decodeDescriptor accepts either a bare string or an array whose first
// element is the rendered string; trailing elements are rustdoc metadata.
func decodeDescriptor(raw json.RawMessage) (implindex.Descriptor, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", err
		}
		if len(parts) == 0 {
			return "", errors.New("empty implementor array")
		}
		raw = parts[0]
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return implindex.Descriptor(s), nil
}

func encodeEntry(e implindex.Entry) ([]byte, error) {
	items := make([][]string, len(e.Implementors))
	for i, d := range e.Implementors {
		items[i] = []string{string(d)}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{e.Component, items}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
