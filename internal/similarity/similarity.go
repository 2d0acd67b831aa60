package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// NoiseFloor is the lowest edit-distance ratio still treated as a near match.
// Ratios below it score 0 so that unrelated lines of similar length do not
// accumulate partial credit across a window.
const NoiseFloor = 0.5

// Normalize folds a recognized line into a comparable form: NFKC, lower case,
// and runs of whitespace collapsed to a single space.
func Normalize(line string) string {
	line = norm.NFKC.String(line)
	line = strings.ToLower(line)
	return strings.Join(strings.Fields(line), " ")
}

// Score compares two lines and returns a match confidence in [0,1].
func Score(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}

	ratio := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
	if ratio < NoiseFloor {
		return 0
	}
	return ratio
}

// ScoreWindow scores an alignment of two windows as the mean of pairwise
// line scores. Windows of different length are aligned at the tail end of
// tailWindow and the head of headWindow, using the shorter length.
func ScoreWindow(tailWindow, headWindow []string) float64 {
	n := len(tailWindow)
	if len(headWindow) < n {
		n = len(headWindow)
	}
	if n == 0 {
		return 0
	}

	tail := tailWindow[len(tailWindow)-n:]
	var total float64
	for i := 0; i < n; i++ {
		total += Score(tail[i], headWindow[i])
	}
	return total / float64(n)
}
