package grading

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shrimpsizemoose/trekker/logger"
	"golang.org/x/sync/errgroup"

	"github.com/shrimpsizemoose/gradebook/internal/metrics"
	"github.com/shrimpsizemoose/gradebook/internal/models"
)

const DefaultWorkers = 4

type Store interface {
	GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, courseID int64) ([]models.Enrollment, error)
	ListGradableComponents(ctx context.Context, courseID int64) ([]models.GradableComponent, error)
	ListAssessmentResults(ctx context.Context, userID, courseID int64) ([]models.AssessmentSubmission, error)
	ListAssignmentResults(ctx context.Context, userID, courseID int64) ([]models.AssignmentSubmission, error)
	SaveFinalGrades(ctx context.Context, grades []models.FinalGrade) error
}

type Aggregator struct {
	store Store
	// NormalizeWeights divides by the sum of weights present instead of assuming they add up to 100.
	NormalizeWeights bool
	Workers          int
	Now              func() time.Time
}

func NewAggregator(store Store, normalizeWeights bool, workers int) *Aggregator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Aggregator{
		store:            store,
		NormalizeWeights: normalizeWeights,
		Workers:          workers,
		Now:              time.Now,
	}
}

// CalculateFinalGrade computes the weighted grade of an enrolled student. It does not write anything.
func (a *Aggregator) CalculateFinalGrade(ctx context.Context, userID, courseID int64) (float64, error) {
	enrollment, err := a.store.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return 0, errors.Wrapf(err, "get enrollment %d/%d", userID, courseID)
	}
	if enrollment == nil {
		return 0, errors.Wrapf(models.ErrNotEnrolled, "user %d in course %d", userID, courseID)
	}

	components, err := a.components(ctx, courseID)
	if err != nil {
		return 0, err
	}
	return a.gradeFor(ctx, userID, courseID, components)
}

// FinalizeCourse recomputes the grade of every enrolled student and stores them under one run id.
func (a *Aggregator) FinalizeCourse(ctx context.Context, courseID int64) ([]models.FinalGrade, error) {
	enrollments, err := a.store.ListEnrollments(ctx, courseID)
	if err != nil {
		return nil, errors.Wrapf(err, "list enrollments of course %d", courseID)
	}
	components, err := a.components(ctx, courseID)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	calculatedAt := a.Now().UTC()
	grades := make([]models.FinalGrade, len(enrollments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Workers)
	for i, e := range enrollments {
		g.Go(func() error {
			grade, err := a.gradeFor(gctx, e.UserID, courseID, components)
			if err != nil {
				return err
			}
			grades[i] = models.FinalGrade{
				UserID:       e.UserID,
				CourseID:     courseID,
				Grade:        grade,
				RunID:        runID,
				CalculatedAt: calculatedAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(grades) > 0 {
		if err := a.store.SaveFinalGrades(ctx, grades); err != nil {
			return nil, errors.Wrapf(err, "save final grades of course %d", courseID)
		}
	}

	label := strconv.FormatInt(courseID, 10)
	for _, fg := range grades {
		metrics.FinalGradeHistogram.WithLabelValues(label).Observe(fg.Grade)
	}
	logger.Info.Printf("Finalized %d grades for course %d (run %s)", len(grades), courseID, runID)

	return grades, nil
}

func (a *Aggregator) components(ctx context.Context, courseID int64) ([]Component, error) {
	rows, err := a.store.ListGradableComponents(ctx, courseID)
	if err != nil {
		return nil, errors.Wrapf(err, "list components of course %d", courseID)
	}

	components := make([]Component, 0, len(rows))
	for _, row := range rows {
		c, err := NewComponent(row)
		if err != nil {
			return nil, errors.Wrapf(err, "course %d", courseID)
		}
		components = append(components, c)
	}
	return components, nil
}

func (a *Aggregator) gradeFor(ctx context.Context, userID, courseID int64, components []Component) (float64, error) {
	if len(components) == 0 {
		return 0, nil
	}

	assessments, err := a.store.ListAssessmentResults(ctx, userID, courseID)
	if err != nil {
		return 0, errors.Wrapf(err, "assessment results of user %d", userID)
	}
	assignments, err := a.store.ListAssignmentResults(ctx, userID, courseID)
	if err != nil {
		return 0, errors.Wrapf(err, "assignment results of user %d", userID)
	}

	work := NewStudentWork(assessments, assignments)
	return WeightedGrade(components, work, a.NormalizeWeights), nil
}

// WeightedGrade sums percentage * weight / 100 over all components, rounded to two decimals.
// A component without a graded submission contributes 0 but keeps its weight.
// With normalize set the sum is divided by the total weight instead of 100.
func WeightedGrade(components []Component, work StudentWork, normalize bool) float64 {
	var sum, totalWeight float64
	for _, c := range components {
		totalWeight += c.Weight()
		pct, ok := c.NormalizedPercentage(work)
		if !ok {
			continue
		}
		sum += pct * c.Weight()
	}

	if normalize {
		if totalWeight == 0 {
			return 0
		}
		return round2(sum / totalWeight)
	}
	return round2(sum / 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
