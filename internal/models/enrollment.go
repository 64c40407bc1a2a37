package models

import (
	"time"
)

type Enrollment struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	CourseID       int64     `db:"course_id" json:"course_id"`
	StudentNumber  *string   `db:"student_number" json:"student_number"`
	EnrollmentYear *int      `db:"enrollment_year" json:"enrollment_year"`
	EnrolledAt     time.Time `db:"enrolled_at" json:"enrolled_at"`
}

func (e *Enrollment) HasStudentNumber() bool {
	return e.StudentNumber != nil && *e.StudentNumber != ""
}

// EnrollRequest is the body of the enrollment endpoint.
type EnrollRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (r *EnrollRequest) Validate() error {
	return check(r)
}
