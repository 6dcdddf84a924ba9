// Package word extracts multiple-choice questions from Word-style documents
// that have been split into paragraph blocks.
//
// Documents follow a loose convention: numbered questions ("1." or "Q1)"),
// four option lines, and an "Answer: X" line. "##" lines set an instruction
// for the questions that follow and "@@" lines open a reading passage whose
// prose paragraphs are shared by the next questions.
package word

import (
	"github.com/pavelanni/examportal/internal/ingest/blocks"
	"github.com/pavelanni/examportal/internal/model"
)

// Result is the outcome of parsing one document.
type Result struct {
	Records  []model.QuestionRecord
	Passages []model.PassageRecord
	Skipped  int
}

// Parse segments bs and extracts questions for subject. Questions without
// text or usable options are dropped and counted in Skipped.
func Parse(bs []blocks.Block, subject string) Result {
	items, passages := Segment(bs)
	drafts, skipped := Extract(items)

	known := make(map[int]bool, len(passages))
	for _, p := range passages {
		known[p.Ref] = true
	}

	res := Result{Passages: passages, Skipped: skipped}
	for _, d := range drafts {
		if !d.Valid() {
			res.Skipped++
			continue
		}
		rec := model.QuestionRecord{
			Subject:         subject,
			Text:            d.Text,
			OptionImages:    d.OptionImages,
			CorrectAnswer:   d.CorrectAnswer,
			ImageURL:        d.ImageURL,
			InstructionText: d.Instruction,
		}
		if known[d.PassageRef] {
			rec.PassageRef = d.PassageRef
		}
		for i, o := range d.Options {
			if o == "" {
				o = "[Option " + model.OptionLetter(i) + "]"
			}
			rec.Options[i] = o
		}
		res.Records = append(res.Records, rec)
	}
	return res
}
