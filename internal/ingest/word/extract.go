package word

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/examportal/internal/model"
)

var (
	reQuestionNumber = regexp.MustCompile(`(?i)^Q?\s*\d+[.)]\s?`)
	reBareNumber     = regexp.MustCompile(`^\d+[.)]\s?`)
	reBlank          = regexp.MustCompile(`_{3,}`)
	reOptionPrefix   = [4]*regexp.Regexp{
		regexp.MustCompile(`^[aA][.)]\s*`),
		regexp.MustCompile(`^[bB][.)]\s*`),
		regexp.MustCompile(`^[cC][.)]\s*`),
		regexp.MustCompile(`^[dD][.)]\s*`),
	}
)

// Blank is the canonical fill-in-the-blank marker in question text.
const Blank = "_______"

const (
	minSpanItems      = 5 // question + four options
	questionMinLength = 10
)

// Draft is an extracted question before subject and validation are applied.
type Draft struct {
	Text          string
	Options       [4]string
	OptionImages  [4]string
	CorrectAnswer string
	ImageURL      string
	PassageRef    int
	Instruction   string
}

// Extract pulls questions out of segmented items. Numbered questions
// delimit spans when any are present; otherwise each answer line is walked
// backwards for its options and question. The second result counts spans or
// answer lines that did not yield a question.
func Extract(items []Item) ([]Draft, int) {
	var starts []int
	for i, it := range items {
		if it.IsNumbered() {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return extractByAnswers(items)
	}
	return extractNumbered(items, starts)
}

func extractNumbered(items []Item, starts []int) ([]Draft, int) {
	var out []Draft
	skipped := 0
	for n, start := range starts {
		end := len(items)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		span := items[start:end]

		answerIdx, correct := -1, ""
		for i, it := range span {
			if letter, ok := it.IsAnswer(); ok {
				answerIdx, correct = i, letter
				break
			}
		}
		if answerIdx < minSpanItems {
			skipped++
			continue
		}

		q := span[0]
		var blockImages []string
		for _, it := range span[:answerIdx] {
			for _, img := range append([]string{it.Image}, it.Images...) {
				if img != "" && !slices.Contains(blockImages, img) {
					blockImages = append(blockImages, img)
				}
			}
		}
		questionImage := q.Image
		if questionImage == "" && len(blockImages) > 0 {
			questionImage = blockImages[0]
		}

		d := Draft{
			Text:          cleanQuestion(reQuestionNumber, q.Text),
			CorrectAnswer: correct,
			PassageRef:    q.PassageRef,
			Instruction:   q.Instruction,
		}
		fillOptions(&d, span[answerIdx-4:answerIdx])
		d.ImageURL = firstNonEmpty(questionImage, d.OptionImages[0], d.OptionImages[1], d.OptionImages[2], d.OptionImages[3])
		out = append(out, d)
	}
	return out, skipped
}

func extractByAnswers(items []Item) ([]Draft, int) {
	var out []Draft
	skipped := 0
	for i, it := range items {
		correct, ok := it.IsAnswer()
		if !ok {
			continue
		}

		var opts []Item
		j := i - 1
		for ; j >= 0 && len(opts) < 4; j-- {
			prev := items[j]
			lower := strings.ToLower(prev.Text)
			if strings.Contains(lower, "multiple choice") ||
				strings.Contains(lower, "answer key") ||
				reAnswerPrefix.MatchString(prev.Text) {
				continue
			}
			opts = append([]Item{prev}, opts...)
		}
		if len(opts) < 4 {
			skipped++
			continue
		}

		var q *Item
		for ; j >= 0; j-- {
			prev := items[j]
			if utf8.RuneCountInString(prev.Text) > questionMinLength && !reAnswerPrefix.MatchString(prev.Text) {
				q = &items[j]
				break
			}
		}
		if q == nil {
			skipped++
			continue
		}

		d := Draft{
			Text:          cleanQuestion(reBareNumber, q.Text),
			CorrectAnswer: correct,
			PassageRef:    firstNonZero(q.PassageRef, it.PassageRef),
			Instruction:   firstNonEmpty(q.Instruction, it.Instruction),
		}
		fillOptions(&d, opts)
		d.ImageURL = firstNonEmpty(q.Image, d.OptionImages[0], d.OptionImages[1], d.OptionImages[2], d.OptionImages[3])
		out = append(out, d)
	}
	return out, skipped
}

func cleanQuestion(number *regexp.Regexp, text string) string {
	text = strings.TrimSpace(number.ReplaceAllString(text, ""))
	return reBlank.ReplaceAllString(text, Blank)
}

// fillOptions sets the four options from opts, stripping letter prefixes and
// labelling image-only options.
func fillOptions(d *Draft, opts []Item) {
	for i := range 4 {
		text := strings.TrimSpace(reOptionPrefix[i].ReplaceAllString(opts[i].Text, ""))
		d.OptionImages[i] = opts[i].Image
		if text == "" && opts[i].Image != "" {
			text = model.ImagePlaceholder
		}
		d.Options[i] = text
	}
}

// Valid reports whether the draft has question text and at least one usable
// option among the first two.
func (d Draft) Valid() bool {
	if d.Text == "" {
		return false
	}
	return d.Options[0] != "" || d.Options[1] != "" || d.OptionImages[0] != "" || d.OptionImages[1] != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
