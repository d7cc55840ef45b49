// Package sanitize cleans free text submitted through public forms before it
// is stored or echoed back to operators.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", "\"",
	"&#39;", "'",
	"&nbsp;", " ",
)

// Text strips markup and control characters and collapses runs of
// whitespace into single spaces.
func Text(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	// Entities may have hidden a tag.
	s = tagPattern.ReplaceAllString(s, "")

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// TextPtr sanitizes an optional field. Blank results become nil.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := Text(*s)
	if out == "" {
		return nil
	}
	return &out
}
