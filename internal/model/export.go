package model

import "time"

// SummaryRow is one line of the admin results summary.
type SummaryRow struct {
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	Subject   string    `json:"subject"`
	Score     int       `json:"score"`
}

// SubjectCount is the number of stored questions for one subject.
type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

// ResultDetail describes how a student answered one question of a paper.
type ResultDetail struct {
	QNo           int    `json:"qNo"`
	Question      string `json:"question"`
	Passage       string `json:"passage,omitempty"`
	OptionA       string `json:"optionA"`
	OptionB       string `json:"optionB"`
	OptionC       string `json:"optionC"`
	OptionD       string `json:"optionD"`
	CorrectAnswer string `json:"correctAnswer"`
	StudentAnswer string `json:"studentAnswer"`
	IsCorrect     bool   `json:"isCorrect"`
}

// ResultDetails is the admin drill-down for a student's latest submission.
type ResultDetails struct {
	Details []ResultDetail `json:"details"`
	Score   int            `json:"score"`
	Total   int            `json:"total"`
}

// SubjectStats aggregates grades for one subject.
type SubjectStats struct {
	AvgPercentage float64 `json:"avgPercentage"`
	Count         int     `json:"count"`
}

// Performer is a grade row shown in top/low performer lists.
type Performer struct {
	DisplayName string `json:"display_name"`
	Subject     string `json:"subject"`
	Score       int    `json:"score"`
	Percentage  string `json:"percentage"`
}

// Distribution bucket labels, in display order.
var DistributionBuckets = []string{"0-20", "21-40", "41-60", "61-80", "81-100"}

// PassPercentage is the threshold for counting a grade as passed.
const PassPercentage = 40.0

// Analytics is the admin dashboard summary over all grades.
type Analytics struct {
	TotalStudents int                     `json:"totalStudents"`
	TotalExams    int                     `json:"totalExams"`
	AvgScore      string                  `json:"avgScore"`
	PassRate      string                  `json:"passRate"`
	SubjectStats  map[string]SubjectStats `json:"subjectStats"`
	Distribution  map[string]int          `json:"distribution"`
	TopPerformers []Performer             `json:"topPerformers"`
	LowPerformers []Performer             `json:"lowPerformers"`
}
