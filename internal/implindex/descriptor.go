package implindex

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = sync.OnceValue(bluemonday.StrictPolicy)

// Text renders the descriptor as plain text: markup removed, entities decoded,
// whitespace collapsed. The stored descriptor is left untouched.
func (d Descriptor) Text() string {
	if d == "" {
		return ""
	}
	stripped := stripPolicy().Sanitize(string(d))
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
