package harness

import (
	"slices"
	"strings"
	"unicode"
)

// Verdict is the result of judging one actual output against the expected
// text. Expected and Actual hold the normalized forms the comparison ran on,
// which is also what reports display.
type Verdict struct {
	Correct  bool
	Expected string
	Actual   string
}

// Compare strips trailing whitespace from both texts, splits them into lines
// and judges exact line-for-line equality. \r\n and bare \r count as line
// breaks. Trailing blank lines never affect the verdict; any interior
// difference fails it.
func Compare(actual, expected string) Verdict {
	a := strings.TrimRightFunc(actual, unicode.IsSpace)
	e := strings.TrimRightFunc(expected, unicode.IsSpace)
	return Verdict{
		Correct:  slices.Equal(splitLines(a), splitLines(e)),
		Expected: e,
		Actual:   a,
	}
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}
