// Package types holds the response envelopes shared by the API and the CLI.
package types

import (
	"call-grader-go/internal/actionable"
	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/grading"
)

// GraderVersion is reported in every envelope.
const GraderVersion = "1.0.0"

type GraderType string

const (
	GraderRule GraderType = "rule_based"
	GraderAI   GraderType = "ai_based"
	GraderBoth GraderType = "comparison"
)

type GradeMetadata struct {
	Language            string `json:"language"`
	SegmentCount        int    `json:"segment_count"`
	GraderVersion       string `json:"grader_version"`
	Model               string `json:"model,omitempty"`
	QuestionsSource     string `json:"questions_source,omitempty"`
	NatureCode          string `json:"nature_code,omitempty"`
	NatureCodeDetection string `json:"nature_code_detection,omitempty"`
	CaseEntryQuestions  int    `json:"case_entry_questions"`
	NatureCodeQuestions int    `json:"nature_code_questions"`
}

// GradeResponse is returned by /api/grade and /api/grade/{rule,ai}.
type GradeResponse struct {
	GraderType      GraderType         `json:"grader_type"`
	Timestamp       string             `json:"timestamp"`
	Grades          grading.Report     `json:"grades"`
	GradePercentage float64            `json:"grade_percentage"`
	Summary         aggregator.Summary `json:"summary"`
	Metadata        GradeMetadata      `json:"metadata"`
	DurationMs      int64              `json:"duration_ms"`
}

// CompareResponse is returned by /api/grade/all.
type CompareResponse struct {
	GraderType    GraderType    `json:"grader_type"`
	Timestamp     string        `json:"timestamp"`
	RuleBased     GradeResponse `json:"rule_based"`
	AIBased       GradeResponse `json:"ai_based"`
	AgreementRate float64       `json:"agreement_rate"`
	Disagreements []string      `json:"disagreements"`
}

// UploadResponse is the flat envelope the frontend renders.
type UploadResponse struct {
	ID                      string                `json:"id"`
	Filename                string                `json:"filename"`
	GraderType              GraderType            `json:"grader_type"`
	GradePercentage         float64               `json:"grade_percentage"`
	DetectedNatureCode      string                `json:"detected_nature_code"`
	TotalQuestions          int                   `json:"total_questions"`
	CaseEntryQuestions      int                   `json:"case_entry_questions"`
	NatureCodeQuestions     int                   `json:"nature_code_questions"`
	QuestionsAskedCorrectly int                   `json:"questions_asked_correctly"`
	QuestionsMissed         int                   `json:"questions_missed"`
	Timestamp               string                `json:"timestamp"`
	Grades                  grading.Report        `json:"grades"`
	Metadata                GradeMetadata         `json:"metadata"`
	Coaching                actionable.ActionCard `json:"coaching"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
