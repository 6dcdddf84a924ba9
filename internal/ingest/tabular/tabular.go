// Package tabular parses question banks and user lists from CSV text, either
// hand-written or exported from Google Sheets and Google Forms.
package tabular

import (
	"encoding/csv"
	"regexp"
	"strings"

	"github.com/pavelanni/examportal/internal/model"
)

// ReadCSV parses text leniently: rows may have different lengths, stray
// quotes are tolerated and blank lines are skipped. Input the CSV reader
// rejects is split naively on newlines and commas instead.
func ReadCSV(text string) [][]string {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err == nil {
		return rows
	}
	return splitLines(text)
}

// splitLines is the lossy fallback: one row per non-blank line, cells split
// on every comma.
func splitLines(text string) [][]string {
	var out [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.Split(line, ","))
	}
	return out
}

// Options controls ParseQuestions.
type Options struct {
	// DefaultSubject is used for rows that leave the subject empty.
	DefaultSubject string
}

// Result is the outcome of parsing a question sheet.
type Result struct {
	Records []model.QuestionRecord
	Skipped int
}

var reOptionLetter = regexp.MustCompile(`(?i)^[A-D]\)\s*`)

// ParseQuestions reads question rows in one of two layouts. Google Form
// exports (any header cell mentioning "timestamp") use
// Timestamp, Subject, Question, Image, A, B, C, D, Answer. Plain sheets use
// Subject, Question, A, B, C, D, Answer, Image.
func ParseQuestions(rows [][]string, opts Options) Result {
	var res Result
	if len(rows) == 0 {
		return res
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	formExport := anyCell(header, func(h string) bool { return strings.Contains(h, "timestamp") })
	hasHeader := anyCell(header, func(h string) bool { return h == "timestamp" || strings.Contains(h, "subject") })

	for i, row := range rows {
		if i == 0 && hasHeader {
			continue
		}
		if cell(row, 0) == "" && cell(row, 1) == "" {
			continue
		}
		var rec model.QuestionRecord
		if formExport {
			rec = model.QuestionRecord{
				Subject:       cell(row, 1),
				Text:          cell(row, 2),
				ImageURL:      DriveViewURL(cell(row, 3)),
				CorrectAnswer: model.NormalizeAnswer(cell(row, 8)),
			}
			for o := range 4 {
				rec.Options[o] = reOptionLetter.ReplaceAllString(cell(row, 4+o), "")
			}
		} else {
			rec = model.QuestionRecord{
				Subject:       cell(row, 0),
				Text:          cell(row, 1),
				CorrectAnswer: model.NormalizeAnswer(cell(row, 6)),
				ImageURL:      DriveViewURL(cell(row, 7)),
			}
			for o := range 4 {
				rec.Options[o] = cell(row, 2+o)
			}
		}
		if rec.Text == "" {
			res.Skipped++
			continue
		}
		if rec.Subject == "" {
			rec.Subject = opts.DefaultSubject
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func anyCell(cells []string, pred func(string) bool) bool {
	for _, c := range cells {
		if pred(c) {
			return true
		}
	}
	return false
}

var reDrivePath = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

// DriveViewURL rewrites Google Drive share links into a direct image URL.
// Values that are not http(s) URLs are returned trimmed but otherwise
// unchanged, as are URLs without a recognisable file id.
func DriveViewURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw
	}
	var id string
	if m := reDrivePath.FindStringSubmatch(raw); m != nil {
		id = m[1]
	}
	if _, after, ok := strings.Cut(raw, "open?id="); ok {
		id, _, _ = strings.Cut(after, "&")
	}
	if id == "" {
		if _, after, ok := strings.Cut(raw, "id="); ok {
			id, _, _ = strings.Cut(after, "&")
		}
	}
	if id == "" {
		return raw
	}
	return "https://drive.google.com/uc?export=view&id=" + id
}

var (
	reSheetID  = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)
	reSheetGID = regexp.MustCompile(`gid=([0-9]+)`)
)

// SheetID extracts the spreadsheet id from a Google Sheets URL, or "".
func SheetID(url string) string {
	if m := reSheetID.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// SheetGID extracts the tab id from a Google Sheets URL, defaulting to "0".
func SheetGID(url string) string {
	if m := reSheetGID.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return "0"
}
