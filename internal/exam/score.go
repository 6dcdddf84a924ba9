package exam

import (
	"strconv"

	"github.com/pavelanni/examportal/internal/model"
)

// Score counts assigned questions whose given answer matches the stored one
// after normalization. Only assigned ids are considered; extra answers are
// ignored and missing or empty answers score nothing.
func Score(assigned []int64, correct map[int64]string, answers map[string]string) int {
	score := 0
	for _, id := range assigned {
		if answerMatches(answers[strconv.FormatInt(id, 10)], correct[id]) {
			score++
		}
	}
	return score
}

func answerMatches(given, correct string) bool {
	g := model.NormalizeAnswer(given)
	c := model.NormalizeAnswer(correct)
	return g != "" && c != "" && g == c
}

// Percentage formats score*100/total with two decimals, "0.00" for total 0.
func Percentage(score, total int) string {
	if total <= 0 {
		return "0.00"
	}
	return strconv.FormatFloat(float64(score)*100/float64(total), 'f', 2, 64)
}
