package grading

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/shrimpsizemoose/gradebook/internal/models"
)

// StudentWork holds one student's submissions in a course, keyed by component id.
type StudentWork struct {
	Assessments map[int64]models.AssessmentSubmission
	Assignments map[int64]models.AssignmentSubmission
}

func NewStudentWork(assessments []models.AssessmentSubmission, assignments []models.AssignmentSubmission) StudentWork {
	w := StudentWork{
		Assessments: make(map[int64]models.AssessmentSubmission, len(assessments)),
		Assignments: make(map[int64]models.AssignmentSubmission, len(assignments)),
	}
	for _, s := range assessments {
		w.Assessments[s.AssessmentID] = s
	}
	for _, s := range assignments {
		w.Assignments[s.AssignmentID] = s
	}
	return w
}

// Component is a weighted, scorable unit of coursework.
// NormalizedPercentage reports false when the student has nothing graded for it.
type Component interface {
	Key() string
	Weight() float64
	NormalizedPercentage(work StudentWork) (float64, bool)
}

type AssessmentComponent struct {
	ID           int64
	Title        string
	WeightPoints float64
}

func (c AssessmentComponent) Key() string     { return fmt.Sprintf("assessment/%d", c.ID) }
func (c AssessmentComponent) Weight() float64 { return c.WeightPoints }

func (c AssessmentComponent) NormalizedPercentage(work StudentWork) (float64, bool) {
	s, ok := work.Assessments[c.ID]
	if !ok {
		return 0, false
	}
	return clamp(s.Percentage), true
}

type AssignmentComponent struct {
	ID           int64
	Title        string
	MaxScore     float64
	WeightPoints float64
}

func (c AssignmentComponent) Key() string     { return fmt.Sprintf("assignment/%d", c.ID) }
func (c AssignmentComponent) Weight() float64 { return c.WeightPoints }

func (c AssignmentComponent) NormalizedPercentage(work StudentWork) (float64, bool) {
	s, ok := work.Assignments[c.ID]
	if !ok || s.Score == nil {
		return 0, false
	}
	return clamp(*s.Score * 100 / c.MaxScore), true
}

// NewComponent turns a stored component row into its grading variant.
func NewComponent(gc models.GradableComponent) (Component, error) {
	if math.IsNaN(gc.Weight) || math.IsInf(gc.Weight, 0) || gc.Weight < 0 {
		return nil, errors.Wrapf(models.ErrInvalidWeight, "%s %d has weight %v", gc.Kind, gc.ID, gc.Weight)
	}

	switch gc.Kind {
	case models.KindAssessment:
		return AssessmentComponent{ID: gc.ID, Title: gc.Title, WeightPoints: gc.Weight}, nil
	case models.KindAssignment:
		if !(gc.MaxScore > 0) {
			return nil, errors.Wrapf(models.ErrInvalidWeight, "assignment %d has max score %v", gc.ID, gc.MaxScore)
		}
		return AssignmentComponent{ID: gc.ID, Title: gc.Title, MaxScore: gc.MaxScore, WeightPoints: gc.Weight}, nil
	default:
		return nil, errors.Errorf("unknown component kind %q", gc.Kind)
	}
}

func clamp(pct float64) float64 {
	switch {
	case math.IsNaN(pct) || pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
