package grading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/gradebook/internal/models"
	"github.com/shrimpsizemoose/gradebook/internal/store/sqlite"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error) {
	args := m.Called(userID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockStore) ListEnrollments(ctx context.Context, courseID int64) ([]models.Enrollment, error) {
	args := m.Called(courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Enrollment), args.Error(1)
}

func (m *MockStore) ListGradableComponents(ctx context.Context, courseID int64) ([]models.GradableComponent, error) {
	args := m.Called(courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GradableComponent), args.Error(1)
}

func (m *MockStore) ListAssessmentResults(ctx context.Context, userID, courseID int64) ([]models.AssessmentSubmission, error) {
	args := m.Called(userID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AssessmentSubmission), args.Error(1)
}

func (m *MockStore) ListAssignmentResults(ctx context.Context, userID, courseID int64) ([]models.AssignmentSubmission, error) {
	args := m.Called(userID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AssignmentSubmission), args.Error(1)
}

func (m *MockStore) SaveFinalGrades(ctx context.Context, grades []models.FinalGrade) error {
	args := m.Called(grades)
	return args.Error(0)
}

func score(v float64) *float64 { return &v }

func TestWeightedGrade(t *testing.T) {
	quiz := AssessmentComponent{ID: 1, WeightPoints: 60}
	project := AssignmentComponent{ID: 2, MaxScore: 100, WeightPoints: 40}

	testCases := []struct {
		name       string
		components []Component
		work       StudentWork
		normalize  bool
		expected   float64
	}{
		{
			name:       "assessment and assignment",
			components: []Component{quiz, project},
			work: NewStudentWork(
				[]models.AssessmentSubmission{{AssessmentID: 1, Percentage: 80}},
				[]models.AssignmentSubmission{{AssignmentID: 2, Score: score(90)}},
			),
			expected: 84,
		},
		{
			name:       "missing submission contributes zero",
			components: []Component{quiz, project},
			work: NewStudentWork(
				[]models.AssessmentSubmission{{AssessmentID: 1, Percentage: 80}},
				nil,
			),
			expected: 48,
		},
		{
			name:       "ungraded assignment counts as missing",
			components: []Component{quiz, project},
			work: NewStudentWork(
				nil,
				[]models.AssignmentSubmission{{AssignmentID: 2}},
			),
			expected: 0,
		},
		{
			name:       "no components",
			components: nil,
			work:       NewStudentWork(nil, nil),
			expected:   0,
		},
		{
			name:       "assignment scale is normalized",
			components: []Component{AssignmentComponent{ID: 2, MaxScore: 30, WeightPoints: 100}},
			work: NewStudentWork(
				nil,
				[]models.AssignmentSubmission{{AssignmentID: 2, Score: score(20)}},
			),
			expected: 66.67,
		},
		{
			name:       "scores above the scale are capped",
			components: []Component{AssignmentComponent{ID: 2, MaxScore: 10, WeightPoints: 100}},
			work: NewStudentWork(
				nil,
				[]models.AssignmentSubmission{{AssignmentID: 2, Score: score(12)}},
			),
			expected: 100,
		},
		{
			name:       "weights over 100 are trusted by default",
			components: []Component{AssessmentComponent{ID: 1, WeightPoints: 60}, AssessmentComponent{ID: 3, WeightPoints: 50}},
			work: NewStudentWork(
				[]models.AssessmentSubmission{{AssessmentID: 1, Percentage: 100}, {AssessmentID: 3, Percentage: 100}},
				nil,
			),
			expected: 110,
		},
		{
			name:       "normalized weights",
			components: []Component{AssessmentComponent{ID: 1, WeightPoints: 60}, AssessmentComponent{ID: 3, WeightPoints: 50}},
			work: NewStudentWork(
				[]models.AssessmentSubmission{{AssessmentID: 1, Percentage: 100}, {AssessmentID: 3, Percentage: 45}},
				nil,
			),
			normalize: true,
			expected:  75,
		},
		{
			name:       "normalized with zero weights",
			components: []Component{AssessmentComponent{ID: 1}},
			work: NewStudentWork(
				[]models.AssessmentSubmission{{AssessmentID: 1, Percentage: 100}},
				nil,
			),
			normalize: true,
			expected:  0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, WeightedGrade(tc.components, tc.work, tc.normalize), 0.001)
		})
	}
}

func TestNewComponent(t *testing.T) {
	t.Run("assessment", func(t *testing.T) {
		c, err := NewComponent(models.GradableComponent{ID: 1, Kind: models.KindAssessment, Weight: 60, MaxScore: 100})
		require.NoError(t, err)
		assert.Equal(t, "assessment/1", c.Key())
		assert.Equal(t, 60.0, c.Weight())
	})

	t.Run("assignment", func(t *testing.T) {
		c, err := NewComponent(models.GradableComponent{ID: 2, Kind: models.KindAssignment, Weight: 40, MaxScore: 50})
		require.NoError(t, err)
		assert.Equal(t, "assignment/2", c.Key())
		assert.Equal(t, AssignmentComponent{ID: 2, MaxScore: 50, WeightPoints: 40}, c)
	})

	t.Run("negative weight", func(t *testing.T) {
		_, err := NewComponent(models.GradableComponent{ID: 1, Kind: models.KindAssessment, Weight: -5})
		assert.ErrorIs(t, err, models.ErrInvalidWeight)
	})

	t.Run("assignment without a scale", func(t *testing.T) {
		_, err := NewComponent(models.GradableComponent{ID: 2, Kind: models.KindAssignment, Weight: 40})
		assert.ErrorIs(t, err, models.ErrInvalidWeight)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewComponent(models.GradableComponent{ID: 3, Kind: "survey", Weight: 10})
		assert.Error(t, err)
	})
}

func TestAggregator_CalculateFinalGrade(t *testing.T) {
	ctx := context.Background()
	components := []models.GradableComponent{
		{ID: 1, CourseID: 5, Kind: models.KindAssessment, Weight: 60, MaxScore: 100},
		{ID: 2, CourseID: 5, Kind: models.KindAssignment, Weight: 40, MaxScore: 100},
	}

	t.Run("weighted grade", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetEnrollment", int64(9), int64(5)).Return(&models.Enrollment{ID: 1, UserID: 9, CourseID: 5}, nil)
		store.On("ListGradableComponents", int64(5)).Return(components, nil)
		store.On("ListAssessmentResults", int64(9), int64(5)).
			Return([]models.AssessmentSubmission{{AssessmentID: 1, UserID: 9, Percentage: 80}}, nil)
		store.On("ListAssignmentResults", int64(9), int64(5)).
			Return([]models.AssignmentSubmission{{AssignmentID: 2, UserID: 9, Score: score(90)}}, nil)

		grade, err := NewAggregator(store, false, 1).CalculateFinalGrade(ctx, 9, 5)
		require.NoError(t, err)
		assert.Equal(t, 84.0, grade)
		store.AssertNotCalled(t, "SaveFinalGrades", mock.Anything)
		store.AssertExpectations(t)
	})

	t.Run("not enrolled", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetEnrollment", int64(9), int64(5)).Return(nil, nil)

		_, err := NewAggregator(store, false, 1).CalculateFinalGrade(ctx, 9, 5)
		assert.ErrorIs(t, err, models.ErrNotEnrolled)
	})

	t.Run("no components", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetEnrollment", int64(9), int64(5)).Return(&models.Enrollment{ID: 1}, nil)
		store.On("ListGradableComponents", int64(5)).Return([]models.GradableComponent{}, nil)

		grade, err := NewAggregator(store, false, 1).CalculateFinalGrade(ctx, 9, 5)
		require.NoError(t, err)
		assert.Equal(t, 0.0, grade)
		store.AssertNotCalled(t, "ListAssessmentResults", mock.Anything, mock.Anything)
	})

	t.Run("invalid weight", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetEnrollment", int64(9), int64(5)).Return(&models.Enrollment{ID: 1}, nil)
		store.On("ListGradableComponents", int64(5)).
			Return([]models.GradableComponent{{ID: 1, Kind: models.KindAssessment, Weight: -1}}, nil)

		_, err := NewAggregator(store, false, 1).CalculateFinalGrade(ctx, 9, 5)
		assert.ErrorIs(t, err, models.ErrInvalidWeight)
	})
}

func TestAggregator_FinalizeCourse(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.NewSQLiteStore(":memory:", "../../migrations")
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2024, 6, 30, 18, 0, 0, 0, time.UTC)

	course := &models.Course{Title: "Certificate in Web Development"}
	require.NoError(t, s.CreateCourse(ctx, course))
	module := &models.Module{CourseID: course.ID, Title: "Frontend"}
	require.NoError(t, s.CreateModule(ctx, module))
	quiz := &models.Assessment{ModuleID: module.ID, Title: "CSS quiz", Weight: 60}
	require.NoError(t, s.CreateAssessment(ctx, quiz))
	project := &models.Assignment{CourseID: course.ID, Title: "Landing page", Weight: 40, MaxScore: 100}
	require.NoError(t, s.CreateAssignment(ctx, project))

	alice := &models.User{Username: "alice"}
	bob := &models.User{Username: "bob"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))
	for _, u := range []*models.User{alice, bob} {
		_, err := s.CreateEnrollment(ctx, u.ID, course.ID, now)
		require.NoError(t, err)
	}

	require.NoError(t, s.SaveAssessmentSubmission(ctx, &models.AssessmentSubmission{
		AssessmentID: quiz.ID, UserID: alice.ID, Percentage: 80, SubmittedAt: now,
	}))
	require.NoError(t, s.SaveAssignmentSubmission(ctx, &models.AssignmentSubmission{
		AssignmentID: project.ID, UserID: alice.ID, Score: score(90), SubmittedAt: now,
	}))
	// bob only handed in the project
	require.NoError(t, s.SaveAssignmentSubmission(ctx, &models.AssignmentSubmission{
		AssignmentID: project.ID, UserID: bob.ID, Score: score(50), SubmittedAt: now,
	}))

	agg := NewAggregator(s, false, 2)
	agg.Now = func() time.Time { return now }

	t.Run("single student is read only", func(t *testing.T) {
		grade, err := agg.CalculateFinalGrade(ctx, alice.ID, course.ID)
		require.NoError(t, err)
		assert.Equal(t, 84.0, grade)

		rows, err := s.GetGradeReport(ctx, course.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("finalize writes every enrolled student", func(t *testing.T) {
		grades, err := agg.FinalizeCourse(ctx, course.ID)
		require.NoError(t, err)
		require.Len(t, grades, 2)
		assert.Equal(t, grades[0].RunID, grades[1].RunID)

		rows, err := s.GetGradeReport(ctx, course.ID)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		byUser := map[string]float64{}
		for _, r := range rows {
			byUser[r.Username] = r.Grade
			assert.True(t, now.Equal(r.CalculatedAt))
		}
		assert.Equal(t, 84.0, byUser["alice"])
		assert.Equal(t, 20.0, byUser["bob"])
	})

	t.Run("finalize is repeatable", func(t *testing.T) {
		first, err := agg.FinalizeCourse(ctx, course.ID)
		require.NoError(t, err)
		second, err := agg.FinalizeCourse(ctx, course.ID)
		require.NoError(t, err)
		require.Len(t, second, len(first))
		for i := range first {
			assert.Equal(t, first[i].Grade, second[i].Grade)
		}
	})
}
