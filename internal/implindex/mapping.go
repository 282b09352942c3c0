package implindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Descriptor is an opaque, pre-rendered description of one implementor.
type Descriptor string

// Entry is one component's contribution inside a mapping.
type Entry struct {
	Component    string       `json:"component" yaml:"component" cbor:"1,keyasint"`
	Implementors []Descriptor `json:"implementors" yaml:"implementors" cbor:"2,keyasint"`
}

// Mapping is an ordered component -> implementors mapping. Order is the
// generator's declaration order and survives merging.
type Mapping []Entry

// FromMap builds a Mapping from an unordered map, sorting components by name.
func FromMap(m map[string][]Descriptor) Mapping {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(Mapping, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{Component: name, Implementors: cloneDescriptors(m[name])})
	}
	return out
}

// Components lists the component names in mapping order.
func (m Mapping) Components() []string {
	names := make([]string, 0, len(m))
	for _, e := range m {
		names = append(names, e.Component)
	}
	return names
}

// Descriptors returns the total number of descriptors across all entries.
func (m Mapping) Descriptors() int {
	n := 0
	for _, e := range m {
		n += len(e.Implementors)
	}
	return n
}

// Get returns the implementors listed for component. A component that appears
// more than once yields the concatenation of its entries.
func (m Mapping) Get(component string) ([]Descriptor, bool) {
	var (
		out   []Descriptor
		found bool
	)
	for _, e := range m {
		if e.Component != component {
			continue
		}
		if !found {
			out = make([]Descriptor, 0, len(e.Implementors))
			found = true
		}
		out = append(out, e.Implementors...)
	}
	return out, found
}

// Clone returns a deep copy so callers cannot mutate installed data.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for i, e := range m {
		out[i] = Entry{Component: e.Component, Implementors: cloneDescriptors(e.Implementors)}
	}
	return out
}

// MarshalJSON encodes the mapping as a JSON object whose keys keep mapping
// order. Repeated components are emitted once with their lists concatenated.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(m))
	first := true
	for _, e := range m {
		if seen[e.Component] {
			continue
		}
		seen[e.Component] = true
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(e.Component)
		if err != nil {
			return nil, err
		}
		impls, _ := m.Get(e.Component)
		value, err := json.Marshal(impls)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into a mapping, keeping key order.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("implindex: mapping must be a JSON object")
	}
	out := Mapping{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("implindex: unexpected mapping key %v", tok)
		}
		var impls []Descriptor
		if err := dec.Decode(&impls); err != nil {
			return fmt.Errorf("implindex: component %s: %w", name, err)
		}
		if impls == nil {
			impls = []Descriptor{}
		}
		out = append(out, Entry{Component: name, Implementors: impls})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func cloneDescriptors(in []Descriptor) []Descriptor {
	out := make([]Descriptor, len(in))
	copy(out, in)
	return out
}
