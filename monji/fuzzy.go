package monji

import (
	"strings"
	"unicode"
)

const fuzzyMatchThreshold = 0.8

// normalizeAnswer lowercases the input, strips punctuation, and
// collapses whitespace, so "The Eiffel Tower!" and "eiffel  tower"
// compare equal.
func normalizeAnswer(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// answerMatches reports whether a guess matches any accepted answer.
// A match is an exact normalized match, a substring containment for
// guesses of at least 3 characters, or a similarity ratio at or above
// the fuzzy threshold.
func answerMatches(guess string, answers []string) bool {
	g := normalizeAnswer(guess)
	if g == "" {
		return false
	}
	for _, answer := range answers {
		a := normalizeAnswer(answer)
		if a == "" {
			continue
		}
		if g == a {
			return true
		}
		if len(g) >= 3 && len(a) >= 3 &&
			(strings.Contains(a, g) || strings.Contains(g, a)) {
			return true
		}
		if similarityRatio(g, a) >= fuzzyMatchThreshold {
			return true
		}
	}
	return false
}

// similarityRatio returns a measure of two sequences' similarity in
// [0, 1]: twice the number of matching characters divided by the total
// number of characters, where matches are found by recursively locating
// the longest common substring.
func similarityRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	matches := matchingRunes(ra, rb)
	return 2 * float64(matches) / float64(total)
}

func matchingRunes(a, b []rune) int {
	aStart, bStart, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	left := matchingRunes(a[:aStart], b[:bStart])
	right := matchingRunes(a[aStart+size:], b[bStart+size:])
	return size + left + right
}

// longestCommonBlock finds the longest run of runes common to both
// inputs, returning the start index in each plus the run length.
func longestCommonBlock(a, b []rune) (aStart, bStart, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// lengths[j] is the length of the common suffix ending at a[i], b[j-1]
	// from the previous row
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > size {
					size = lengths[j]
					aStart = i - size + 1
					bStart = j - size
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return aStart, bStart, size
}
