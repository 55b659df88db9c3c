package domain

import "time"

const (
	OutcomeClassified = "classified"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// ClassificationRecord is the audit trail of one pipeline run against one
// ticket. It is written after the run reaches a terminal state.
type ClassificationRecord struct {
	ID                int64
	TicketID          int64
	TicketSubject     string
	Stage             string
	Outcome           string
	FromProjectID     int64
	ProjectID         int64
	ProjectName       string
	ProjectChanged    bool
	CategoryID        int64
	CategoryName      string
	OwnerID           int64
	RawProjectAnswer  string
	RawCategoryAnswer string
	Error             string
	LLMProvider       string
	LLMModel          string
	ClassifiedAt      time.Time
}
