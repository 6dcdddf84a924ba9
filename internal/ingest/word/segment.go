package word

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/examportal/internal/ingest/blocks"
	"github.com/pavelanni/examportal/internal/model"
)

var (
	reDocTitle      = regexp.MustCompile(`(?i)^SAFAL\s*[-–]`)
	reMarks         = regexp.MustCompile(`(?i)^MARKS\s*:`)
	reSubjectBanner = regexp.MustCompile(`(?i)^(ENGLISH|MATHEMATICS|EVS)$`)
	reRomanSection  = regexp.MustCompile(`(?i)^[IVX]+\.\s+`)
	reSectionTitle  = regexp.MustCompile(`(?i)^(Section\s*[A-Z]|Part\s*[IVX\d])`)
	reAnswerLine    = regexp.MustCompile(`(?i)^Answer\s*:\s*([A-D])`)
	reAnswerPrefix  = regexp.MustCompile(`(?i)^Answer\s*:`)
	reNumbered      = regexp.MustCompile(`(?i)^Q?\s*\d+[.)].+`)
	reOptionLike    = regexp.MustCompile(`(?i)^[A-D][.)]`)
)

const (
	instructionMarker = "##"
	passageMarker     = "@@"
	sectionTitleMax   = 100
	passageLineMin    = 20
)

// Item is a retained block annotated with the context it appeared in.
type Item struct {
	Text        string
	Markup      string
	Image       string   // the block's first image, or the image block just before it
	Images      []string // images inside the block itself
	PassageRef  int      // 0 when outside any passage
	PassageText string   // passage text collected so far
	Instruction string
}

// IsAnswer reports whether the item is an "Answer: X" line and returns X.
func (it Item) IsAnswer() (string, bool) {
	m := reAnswerLine.FindStringSubmatch(it.Text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// IsNumbered reports whether the item starts with a question number.
func (it Item) IsNumbered() bool {
	return reNumbered.MatchString(it.Text)
}

type segState int

const (
	stateNormal segState = iota
	stateCollectingPassage
)

type segmenter struct {
	state        segState
	instruction  string
	passageRef   int
	passage      *strings.Builder
	pendingImage string

	items    []Item
	passages []*passageBuf
}

type passageBuf struct {
	ref  int
	text *strings.Builder
}

// Segment classifies blocks into question material. It tracks the current
// instruction banner (##) and passage (@@), drops document furniture, and
// folds prose lines that follow a passage marker into the passage text.
// It returns the retained items and every passage with non-empty text.
func Segment(bs []blocks.Block) ([]Item, []model.PassageRecord) {
	s := &segmenter{}
	for _, b := range bs {
		s.feed(b)
	}
	var passages []model.PassageRecord
	for _, p := range s.passages {
		if text := strings.TrimSpace(p.text.String()); text != "" {
			passages = append(passages, model.PassageRecord{Ref: p.ref, Text: text, Type: "prose"})
		}
	}
	return s.items, passages
}

func (s *segmenter) feed(b blocks.Block) {
	text := b.Text
	first := b.FirstImage()

	if b.ImageOnly() {
		s.pendingImage = first
		return
	}
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, instructionMarker):
		s.instruction = strings.TrimSpace(strings.TrimPrefix(text, instructionMarker))
		s.state = stateNormal
		s.passage = nil
		s.passageRef = 0
		return
	case strings.HasPrefix(text, passageMarker):
		s.passageRef = len(s.passages) + 1
		s.passage = &strings.Builder{}
		s.passages = append(s.passages, &passageBuf{ref: s.passageRef, text: s.passage})
		s.instruction = strings.TrimSpace(strings.TrimPrefix(text, passageMarker))
		s.state = stateCollectingPassage
		return
	case isFurniture(text):
		return
	}

	numbered := reNumbered.MatchString(text)
	if s.state == stateCollectingPassage && !reAnswerLine.MatchString(text) && !numbered {
		optionLike := reOptionLike.MatchString(text) || utf8.RuneCountInString(text) < passageLineMin
		if !optionLike && utf8.RuneCountInString(text) > passageLineMin {
			s.passage.WriteString(text)
			s.passage.WriteString("\n\n")
			return
		}
	}
	if numbered {
		s.state = stateNormal
	}

	it := Item{
		Text:        text,
		Markup:      b.Markup,
		Image:       first,
		Images:      b.Images,
		PassageRef:  s.passageRef,
		Instruction: s.instruction,
	}
	if s.passage != nil {
		it.PassageText = strings.TrimSpace(s.passage.String())
	}
	if it.Image == "" && s.pendingImage != "" {
		it.Image = s.pendingImage
		s.pendingImage = ""
	}
	s.items = append(s.items, it)
}

// isFurniture reports document headers and section titles that carry no
// question content.
func isFurniture(text string) bool {
	lower := strings.ToLower(text)
	if reDocTitle.MatchString(text) ||
		strings.Contains(lower, "question paper") ||
		reMarks.MatchString(text) ||
		reSubjectBanner.MatchString(text) {
		return true
	}
	if reRomanSection.MatchString(text) {
		return true
	}
	section := reSectionTitle.MatchString(text) || strings.Contains(lower, "multiple choice")
	return section && utf8.RuneCountInString(text) < sectionTitleMax
}
