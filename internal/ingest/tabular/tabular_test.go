package tabular

import (
	"testing"
)

func TestReadCSV(t *testing.T) {
	rows := ReadCSV("a,b,c\n\n\"quoted, cell\",x\nlast\n")
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %q", len(rows), rows)
	}
	if rows[1][0] != "quoted, cell" || len(rows[2]) != 1 {
		t.Errorf("unexpected rows %q", rows)
	}

	rows = ReadCSV("EVS,say \"hi\" now,x\n")
	if len(rows) != 1 || rows[0][1] != `say "hi" now` {
		t.Errorf("expected bare quotes kept, got %q", rows)
	}
}

func TestSplitLines(t *testing.T) {
	rows := splitLines("EVS,\"broken\n\nMaths,q2\r\n")
	if len(rows) != 2 || rows[0][1] != `"broken` || rows[1][1] != "q2" {
		t.Errorf("unexpected rows %q", rows)
	}
}

func TestParseQuestionsPlain(t *testing.T) {
	rows := ReadCSV(`Subject,Question,A,B,C,D,Answer,Image
EVS,Which gas do plants absorb?,Oxygen,Carbon dioxide,Nitrogen,Helium,Option B,https://drive.google.com/file/d/abc123/view
,Question without subject,1,2,3,4,a,
EVS,,x,y,z,w,A,
,,,,,,,
`)
	res := ParseQuestions(rows, Options{DefaultSubject: "Science"})
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %+v", res.Records)
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", res.Skipped)
	}
	r := res.Records[0]
	if r.Subject != "EVS" || r.CorrectAnswer != "B" || r.Options[1] != "Carbon dioxide" {
		t.Errorf("unexpected record %+v", r)
	}
	if r.ImageURL != "https://drive.google.com/uc?export=view&id=abc123" {
		t.Errorf("unexpected image url %q", r.ImageURL)
	}
	if res.Records[1].Subject != "Science" || res.Records[1].CorrectAnswer != "A" {
		t.Errorf("unexpected defaulted record %+v", res.Records[1])
	}
}

func TestParseQuestionsFormExport(t *testing.T) {
	rows := [][]string{
		{"Timestamp", "Subject", "Question", "Image", "Option A", "Option B", "Option C", "Option D", "Correct"},
		{"1/1/2024 10:00", "Maths", "2 + 2 = ?", "https://drive.google.com/open?id=XYZ&usp=sharing", "A) 3", "b) 4", "C)5", "D) 6", "(B) 4"},
	}
	res := ParseQuestions(rows, Options{})
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %+v", res.Records)
	}
	r := res.Records[0]
	if r.Options != [4]string{"3", "4", "5", "6"} {
		t.Errorf("unexpected options %q", r.Options)
	}
	if r.CorrectAnswer != "B" || r.Subject != "Maths" || r.Text != "2 + 2 = ?" {
		t.Errorf("unexpected record %+v", r)
	}
	if r.ImageURL != "https://drive.google.com/uc?export=view&id=XYZ" {
		t.Errorf("unexpected image url %q", r.ImageURL)
	}
}

func TestParseQuestionsNoHeader(t *testing.T) {
	rows := [][]string{{"EVS", "First question", "a", "b", "c", "d", "A"}}
	res := ParseQuestions(rows, Options{})
	if len(res.Records) != 1 {
		t.Errorf("first row without header markers must be data, got %+v", res)
	}
}

func TestDriveViewURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  local.png ", "local.png"},
		{"https://drive.google.com/file/d/FILE_1-x/view?usp=sharing", "https://drive.google.com/uc?export=view&id=FILE_1-x"},
		{"https://drive.google.com/open?id=ABC&foo=1", "https://drive.google.com/uc?export=view&id=ABC"},
		{"https://example.com/img?id=42", "https://drive.google.com/uc?export=view&id=42"},
		{"https://example.com/pic.png", "https://example.com/pic.png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := DriveViewURL(tt.in); got != tt.want {
				t.Errorf("DriveViewURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSheetURL(t *testing.T) {
	url := "https://docs.google.com/spreadsheets/d/1AbC-d_E/edit#gid=12345"
	if got := SheetID(url); got != "1AbC-d_E" {
		t.Errorf("SheetID = %q", got)
	}
	if got := SheetGID(url); got != "12345" {
		t.Errorf("SheetGID = %q", got)
	}
	if got := SheetGID("https://docs.google.com/spreadsheets/d/x/edit"); got != "0" {
		t.Errorf("default gid = %q", got)
	}
	if got := SheetID("https://example.com/nope"); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}

func TestParseUsers(t *testing.T) {
	rows := ReadCSV("Username,Name,Password\nAsha,Asha K,secret\nRAVI\n,ignored\nmeena,,\n")
	users := ParseUsers(rows, "")
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %+v", users)
	}
	tests := []struct {
		idx                      int
		username, name, password string
	}{
		{0, "asha", "Asha K", "secret"},
		{1, "ravi", "ravi", "safal3"},
		{2, "meena", "meena", "safal5"},
	}
	for _, tt := range tests {
		u := users[tt.idx]
		if u.Username != tt.username || u.DisplayName != tt.name || u.Password != tt.password {
			t.Errorf("user %d = %+v, want %s/%s/%s", tt.idx, u, tt.username, tt.name, tt.password)
		}
	}

	custom := ParseUsers([][]string{{"x"}}, "pw")
	if custom[0].Password != "pw1" {
		t.Errorf("expected custom prefix, got %q", custom[0].Password)
	}
}
