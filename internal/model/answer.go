package model

import "strings"

var answerLetters = [...]string{"A", "B", "C", "D"}

// NormalizeAnswer reduces an answer to a single option letter. Bare letters,
// "Option X", "X)", "X." and "(X)" forms all map to X, case-insensitively.
// Anything else is returned trimmed and uppercased, so it never equals a
// letter produced from a valid answer.
func NormalizeAnswer(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	for _, l := range answerLetters {
		switch {
		case s == l,
			strings.HasPrefix(s, "OPTION "+l),
			s == l+")",
			s == l+".",
			strings.Contains(s, "("+l+")"):
			return l
		}
	}
	return s
}

// OptionLetter returns the letter for option index i (0..3).
func OptionLetter(i int) string {
	if i < 0 || i >= len(answerLetters) {
		return ""
	}
	return answerLetters[i]
}
