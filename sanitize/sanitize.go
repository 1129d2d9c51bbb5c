// Package sanitize cleans user-supplied free text before it is stored.
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// maxPasses bounds how many layers of entity-encoded markup Text peels off.
const maxPasses = 4

var angles = strings.NewReplacer("<", "", ">", "")

// Text strips markup and control bytes from s, trims it and caps it at max
// runes (max <= 0 means no cap). Entities are decoded, and markup that only
// appears after decoding is stripped too. The result is plain text: escape
// it before rendering into HTML.
func Text(s string, max int) string {
	s = strings.ReplaceAll(s, "\x00", "")
	stable := false
	for i := 0; i < maxPasses && !stable; i++ {
		// StrictPolicy escapes the text it keeps; undo only that.
		next := html.UnescapeString(strict.Sanitize(html.UnescapeString(s)))
		stable = next == s
		s = next
	}
	if !stable {
		s = angles.Replace(s)
	}
	s = strings.TrimSpace(s)
	if max > 0 && utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return s
}

// Line is Text with newlines and tabs collapsed to single spaces.
func Line(s string, max int) string {
	s = Text(s, 0)
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 && utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return s
}
