package models

import (
	"time"

	"github.com/google/uuid"
)

type FinalGrade struct {
	UserID       int64     `db:"user_id" json:"user_id"`
	CourseID     int64     `db:"course_id" json:"course_id"`
	Grade        float64   `db:"grade" json:"grade"`
	RunID        uuid.UUID `db:"run_id" json:"run_id"`
	CalculatedAt time.Time `db:"calculated_at" json:"calculated_at"`
}

type GradeReportRow struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	Username      string    `db:"username" json:"username"`
	StudentNumber *string   `db:"student_number" json:"student_number"`
	Grade         float64   `db:"grade" json:"grade"`
	CalculatedAt  time.Time `db:"calculated_at" json:"calculated_at"`
}
