package fragment

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/implindex/internal/implindex"
)

// Document is the YAML fragment schema:
//
//	capability: core::hash::Hash
//	components:
//	  - name: tokio
//	    implementors:
//	      - impl Hash for UCred
type Document struct {
	Capability string      `yaml:"capability"`
	Components []Component `yaml:"components"`
}

// Component is one entry of a YAML fragment.
type Component struct {
	Name         string   `yaml:"name"`
	Implementors []string `yaml:"implementors"`
}

// ParseYAML decodes a YAML fragment into its capability and mapping.
func ParseYAML(data []byte) (string, implindex.Mapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil, fmt.Errorf("fragment: payload is empty")
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("fragment: decode yaml: %w", err)
	}
	capability := strings.TrimSpace(doc.Capability)
	if capability == "" {
		return "", nil, fmt.Errorf("fragment: capability is required")
	}
	m := make(implindex.Mapping, 0, len(doc.Components))
	for _, c := range doc.Components {
		impls := make([]implindex.Descriptor, len(c.Implementors))
		for i, s := range c.Implementors {
			impls[i] = implindex.Descriptor(s)
		}
		m = append(m, implindex.Entry{Component: strings.TrimSpace(c.Name), Implementors: impls})
	}
	return capability, m, nil
}

// EncodeYAML renders a mapping as a YAML fragment.
func EncodeYAML(capability string, m implindex.Mapping) ([]byte, error) {
	doc := Document{Capability: capability, Components: make([]Component, 0, len(m))}
	for _, e := range m {
		impls := make([]string, len(e.Implementors))
		for i, d := range e.Implementors {
			impls[i] = string(d)
		}
		doc.Components = append(doc.Components, Component{Name: e.Component, Implementors: impls})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("fragment: encode yaml: %w", err)
	}
	return data, nil
}
