package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ComponentKind string

const (
	KindAssessment ComponentKind = "assessment"
	KindAssignment ComponentKind = "assignment"
)

type User struct {
	ID       int64  `db:"id" json:"id"`
	Username string `db:"username" json:"username" validate:"required,max=64"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email" validate:"omitempty,email"`
}

type Course struct {
	ID    int64  `db:"id" json:"id"`
	Title string `db:"title" json:"title" validate:"required,max=200"`
}

type Module struct {
	ID       int64  `db:"id" json:"id"`
	CourseID int64  `db:"course_id" json:"course_id" validate:"required"`
	Title    string `db:"title" json:"title" validate:"required"`
	Position int    `db:"position" json:"position"`
}

// Assessment is a module quiz. Submissions store a ready percentage.
type Assessment struct {
	ID       int64   `db:"id" json:"id"`
	ModuleID int64   `db:"module_id" json:"module_id" validate:"required"`
	Title    string  `db:"title" json:"title" validate:"required"`
	Weight   float64 `db:"weight" json:"weight" validate:"min=0,max=100"`
}

type Assignment struct {
	ID       int64   `db:"id" json:"id"`
	CourseID int64   `db:"course_id" json:"course_id" validate:"required"`
	ModuleID *int64  `db:"module_id" json:"module_id,omitempty"`
	Title    string  `db:"title" json:"title" validate:"required"`
	Weight   float64 `db:"weight" json:"weight" validate:"min=0,max=100"`
	MaxScore float64 `db:"max_score" json:"max_score" validate:"gt=0"`
}

// GradableComponent is a flattened view over assessments and assignments of a course.
// MaxScore is 100 for assessments.
type GradableComponent struct {
	ID       int64         `db:"id" json:"id"`
	CourseID int64         `db:"course_id" json:"course_id"`
	ModuleID *int64        `db:"module_id" json:"module_id,omitempty"`
	Kind     ComponentKind `db:"kind" json:"kind"`
	Title    string        `db:"title" json:"title"`
	Weight   float64       `db:"weight" json:"weight"`
	MaxScore float64       `db:"max_score" json:"max_score"`
}

var validate = validator.New()

// check validates v by its tags. Weight and max score failures are reported as ErrInvalidWeight,
// everything else as ErrInvalid.
func check(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.Field() == "Weight" || fe.Field() == "MaxScore" {
				return fmt.Errorf("%s failed on %s: %w", fe.Namespace(), fe.Tag(), ErrInvalidWeight)
			}
		}
	}
	return fmt.Errorf("%v: %w", err, ErrInvalid)
}

func (c *Course) Validate() error {
	return check(c)
}

func (u *User) Validate() error {
	return check(u)
}

func (m *Module) Validate() error {
	return check(m)
}

func (a *Assessment) Validate() error {
	return check(a)
}

func (a *Assignment) Validate() error {
	return check(a)
}
