package fragment

import (
	"path"
	"path/filepath"
	"strings"
)

// rootSegments are the directory names rustdoc writes fragment trees under.
var rootSegments = map[string]bool{
	"trait.impl":   true,
	"implementors": true,
}

// CapabilityFromPath derives a capability name from a fragment path relative
// to the documentation root: core/hash/trait.Hash.js becomes core::hash::Hash.
// A per-crate layout (trait.Hash.js/tokio.js) resolves to the same name.
func CapabilityFromPath(rel string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	for len(parts) > 0 && (rootSegments[parts[0]] || parts[0] == ".") {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}
	for i, part := range parts {
		if strings.HasPrefix(part, "trait.") && strings.HasSuffix(part, ".js") {
			return joinCapability(parts[:i], traitName(part))
		}
	}
	last := parts[len(parts)-1]
	return joinCapability(parts[:len(parts)-1], traitName(last))
}

func traitName(file string) string {
	name := strings.TrimSuffix(file, path.Ext(file))
	return strings.TrimPrefix(name, "trait.")
}

func joinCapability(modules []string, name string) string {
	segments := make([]string, 0, len(modules)+1)
	segments = append(segments, modules...)
	segments = append(segments, name)
	return strings.Join(segments, "::")
}
