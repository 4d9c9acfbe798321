package filename

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugStripRegex    = regexp.MustCompile(`[^\w.\s-]`)
	slugCollapseRegex = regexp.MustCompile(`[-\s]+`)
)

// Slugify folds value to ASCII, lowercases it, drops everything but word
// characters, dots, dashes and whitespace, and collapses whitespace/dash runs
// into a single dash.
func Slugify(value string) string {
	if value == "" {
		return ""
	}
	// transform.Chain keeps internal buffers, so it is built per call.
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(isNonASCII)))
	folded, _, err := transform.String(fold, value)
	if err != nil {
		folded = value
	}
	folded = slugStripRegex.ReplaceAllString(strings.ToLower(folded), "")
	folded = slugCollapseRegex.ReplaceAllString(folded, "-")
	return strings.Trim(folded, "-_")
}

func isNonASCII(r rune) bool {
	return r > unicode.MaxASCII
}
