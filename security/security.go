// Package security sanitizes user-supplied text before it is stored or
// rendered.
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()
	ugc    = bluemonday.UGCPolicy()
)

// SanitizeText strips all HTML from single-line fields such as titles and
// outcome labels.
func SanitizeText(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}

// SanitizeHTML keeps the safe subset of user-generated HTML, for rendered
// market descriptions.
func SanitizeHTML(s string) string {
	return ugc.Sanitize(s)
}
