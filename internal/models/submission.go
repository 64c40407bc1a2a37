package models

import (
	"time"
)

type AssessmentSubmission struct {
	AssessmentID int64     `db:"assessment_id" json:"assessment_id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	Percentage   float64   `db:"percentage" json:"percentage" validate:"min=0,max=100"`
	SubmittedAt  time.Time `db:"submitted_at" json:"submitted_at"`
}

// AssignmentSubmission has a nil Score until an instructor grades it.
type AssignmentSubmission struct {
	AssignmentID int64      `db:"assignment_id" json:"assignment_id"`
	UserID       int64      `db:"user_id" json:"user_id"`
	Score        *float64   `db:"score" json:"score" validate:"omitempty,min=0"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	GradedAt     *time.Time `db:"graded_at" json:"graded_at,omitempty"`
}

func (s *AssessmentSubmission) Validate() error {
	return check(s)
}

func (s *AssignmentSubmission) Validate() error {
	return check(s)
}
