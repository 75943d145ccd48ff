package monji

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const triviaHintLevels = 3

// hintRevealFractions maps hint level (1-based) to the fraction of each
// word's characters revealed.
var hintRevealFractions = []float64{0.25, 0.5, 0.75}

// hintEligible reports whether an answer is long enough to hint at.
// Single-character answers would be fully revealed by any hint.
func hintEligible(answer string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(answer)) > 1
}

// maskAnswer produces a progressive hint for an answer. Level runs from
// 1 to triviaHintLevels; each level reveals a larger prefix of every
// word. Words of three or fewer characters only ever show their first
// character, so short words are never fully revealed. Punctuation and
// other non-alphanumeric characters are shown as-is.
func maskAnswer(answer string, level int) string {
	if level < 1 {
		level = 1
	}
	if level > triviaHintLevels {
		level = triviaHintLevels
	}
	fraction := hintRevealFractions[level-1]

	words := strings.Fields(answer)
	masked := make([]string, len(words))
	for i, word := range words {
		masked[i] = maskWord(word, fraction)
	}
	return strings.Join(masked, "   ")
}

func maskWord(word string, fraction float64) string {
	runes := []rune(word)
	letterCount := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letterCount++
		}
	}
	if letterCount == 0 {
		return word
	}

	reveal := 1
	if letterCount > 3 {
		reveal = int(float64(letterCount) * fraction)
		if reveal < 1 {
			reveal = 1
		}
	}

	parts := make([]string, 0, len(runes))
	revealed := 0
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			parts = append(parts, string(r))
			continue
		}
		if revealed < reveal {
			parts = append(parts, string(r))
			revealed++
		} else {
			parts = append(parts, "\\_")
		}
	}
	return strings.Join(parts, " ")
}
