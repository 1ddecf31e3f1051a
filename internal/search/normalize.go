package search

import (
	"strings"

	"golang.org/x/text/width"
)

// NormalizeKeyword prepares user input for upstream queries. Full-width
// ASCII (ＡＢＣ１２３, common when typing after CJK input methods) is folded
// to its narrow form, inner whitespace runs collapse to single spaces.
// CJK text itself passes through untouched.
func NormalizeKeyword(raw string) string {
	folded := width.Fold.String(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(folded), " ")
}
