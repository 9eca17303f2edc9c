package stream

import (
	"regexp"
	"strings"
)

var (
	bulletSpacing = regexp.MustCompile(`\n-[ \t]+`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Normalize removes formatting artifacts introduced by chunk boundaries:
// stray spacing after a line-leading bullet, runs of three or more newlines,
// and surrounding whitespace. Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = bulletSpacing.ReplaceAllString(text, "\n- ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
