package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shrimpsizemoose/gradebook/internal/grading"
	"github.com/shrimpsizemoose/gradebook/internal/identity"
	"github.com/shrimpsizemoose/gradebook/internal/models"
	"github.com/shrimpsizemoose/gradebook/internal/store"
)

type Service struct {
	Config     *Config
	Store      store.GradebookStore
	Auth       *Auth
	Allocator  *identity.Allocator
	Aggregator *grading.Aggregator
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewServiceWithConfig(config)
}

func NewServiceWithConfig(config *Config) (*Service, error) {
	loc, err := config.Location()
	if err != nil {
		return nil, err
	}

	store, err := NewStore(config.Database.DSN, config.Database.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	auth, err := NewAuth(config)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}

	return &Service{
		Config: config,
		Store:  store,
		Auth:   auth,
		Allocator: identity.NewAllocator(
			store,
			identity.WithLocation(loc),
			identity.WithMaxAttempts(config.Numbering.MaxAttempts),
		),
		Aggregator: grading.NewAggregator(store, config.Grading.NormalizeWeights, config.Grading.Workers),
	}, nil
}

func (s *Service) ValidateAuthAndStudent(r *http.Request, courseID, userID int64) error {
	if !s.Config.Server.EnableAuth {
		return nil
	}

	authHeader := r.Header.Get(s.Auth.tokenHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("Invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	return s.Auth.ValidateToken(r.Context(), courseID, userID, token)
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

type StudentGrade struct {
	UserID        int64   `json:"user_id"`
	CourseID      int64   `json:"course_id"`
	StudentNumber *string `json:"student_number"`
	Grade         float64 `json:"grade"`
}

// StudentGrade computes the current grade on the fly, without touching final_grades.
func (s *Service) StudentGrade(ctx context.Context, userID, courseID int64) (*StudentGrade, error) {
	grade, err := s.Aggregator.CalculateFinalGrade(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.Store.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	result := &StudentGrade{UserID: userID, CourseID: courseID, Grade: grade}
	if enrollment != nil {
		result.StudentNumber = enrollment.StudentNumber
	}
	return result, nil
}

// FinalizeCourse recomputes and stores the final grades of an existing course.
func (s *Service) FinalizeCourse(ctx context.Context, courseID int64) ([]models.FinalGrade, error) {
	if err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.Aggregator.FinalizeCourse(ctx, courseID)
}

func (s *Service) GradeReport(ctx context.Context, courseID int64) ([]models.GradeReportRow, error) {
	if err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}

	rows, err := s.Store.GetGradeReport(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get grade report: %w", err)
	}
	return rows, nil
}

func (s *Service) requireCourse(ctx context.Context, courseID int64) error {
	course, err := s.Store.GetCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to get course: %w", err)
	}
	if course == nil {
		return fmt.Errorf("course %d: %w", courseID, models.ErrNotFound)
	}
	return nil
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Auth.Close(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
