package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/gradebook/internal/models"
)

type GradebookStore interface {
	Close() error
	ApplyMigrations(dir string) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	CreateCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, id int64) (*models.Course, error)
	CreateModule(ctx context.Context, module *models.Module) error
	CreateAssessment(ctx context.Context, assessment *models.Assessment) error
	CreateAssignment(ctx context.Context, assignment *models.Assignment) error
	ListGradableComponents(ctx context.Context, courseID int64) ([]models.GradableComponent, error)

	CreateEnrollment(ctx context.Context, userID, courseID int64, enrolledAt time.Time) (*models.Enrollment, error)
	GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, courseID int64) ([]models.Enrollment, error)
	AssignStudentNumber(ctx context.Context, enrollmentID int64, year int, format func(seq int) string) (string, error)

	SaveAssessmentSubmission(ctx context.Context, submission *models.AssessmentSubmission) error
	SaveAssignmentSubmission(ctx context.Context, submission *models.AssignmentSubmission) error
	ListAssessmentResults(ctx context.Context, userID, courseID int64) ([]models.AssessmentSubmission, error)
	ListAssignmentResults(ctx context.Context, userID, courseID int64) ([]models.AssignmentSubmission, error)

	SaveFinalGrades(ctx context.Context, grades []models.FinalGrade) error
	GetGradeReport(ctx context.Context, courseID int64) ([]models.GradeReportRow, error)
}

// BaseStore provides common functionality for different DB implementations.
// Queries are written with ? placeholders and passed through Converter.
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
	// LockClause is appended to row-locking selects, empty where the driver serializes writers itself.
	LockClause string
	// IsUniqueViolation reports whether err came from a unique or primary key constraint.
	IsUniqueViolation func(error) bool
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *BaseStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}

	query := s.Converter(`
		INSERT INTO users (username, full_name, email)
		VALUES (?, ?, ?)
		RETURNING id
	`)
	if err := s.DB.GetContext(ctx, &user.ID, query, user.Username, user.FullName, user.Email); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *BaseStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := s.Converter(`SELECT id, username, full_name, email FROM users WHERE id = ?`)

	err := s.DB.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *BaseStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.Converter(`SELECT id, username, full_name, email FROM users WHERE username = ?`)

	err := s.DB.GetContext(ctx, &user, query, username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

func (s *BaseStore) CreateCourse(ctx context.Context, course *models.Course) error {
	if err := course.Validate(); err != nil {
		return fmt.Errorf("invalid course: %w", err)
	}

	query := s.Converter(`INSERT INTO courses (title) VALUES (?) RETURNING id`)
	if err := s.DB.GetContext(ctx, &course.ID, query, course.Title); err != nil {
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

func (s *BaseStore) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	query := s.Converter(`SELECT id, title FROM courses WHERE id = ?`)

	err := s.DB.GetContext(ctx, &course, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

func (s *BaseStore) CreateModule(ctx context.Context, module *models.Module) error {
	if err := module.Validate(); err != nil {
		return fmt.Errorf("invalid module: %w", err)
	}

	query := s.Converter(`
		INSERT INTO modules (course_id, title, position)
		VALUES (?, ?, ?)
		RETURNING id
	`)
	if err := s.DB.GetContext(ctx, &module.ID, query, module.CourseID, module.Title, module.Position); err != nil {
		return fmt.Errorf("failed to create module: %w", err)
	}
	return nil
}

func (s *BaseStore) CreateAssessment(ctx context.Context, assessment *models.Assessment) error {
	if err := assessment.Validate(); err != nil {
		return fmt.Errorf("invalid assessment: %w", err)
	}

	query := s.Converter(`
		INSERT INTO assessments (module_id, title, weight)
		VALUES (?, ?, ?)
		RETURNING id
	`)
	err := s.DB.GetContext(ctx, &assessment.ID, query, assessment.ModuleID, assessment.Title, assessment.Weight)
	if err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

func (s *BaseStore) CreateAssignment(ctx context.Context, assignment *models.Assignment) error {
	if err := assignment.Validate(); err != nil {
		return fmt.Errorf("invalid assignment: %w", err)
	}

	query := s.Converter(`
		INSERT INTO assignments (course_id, module_id, title, weight, max_score)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := s.DB.GetContext(ctx, &assignment.ID, query,
		assignment.CourseID,
		assignment.ModuleID,
		assignment.Title,
		assignment.Weight,
		assignment.MaxScore,
	)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (s *BaseStore) ListGradableComponents(ctx context.Context, courseID int64) ([]models.GradableComponent, error) {
	var components []models.GradableComponent
	query := s.Converter(`
		SELECT
			a.id,
			m.course_id,
			a.module_id,
			'assessment' AS kind,
			a.title,
			a.weight,
			CAST(100 AS DOUBLE PRECISION) AS max_score
		FROM assessments a
		JOIN modules m ON m.id = a.module_id
		WHERE m.course_id = ?
		UNION ALL
		SELECT
			g.id,
			g.course_id,
			g.module_id,
			'assignment' AS kind,
			g.title,
			g.weight,
			g.max_score
		FROM assignments g
		WHERE g.course_id = ?
		ORDER BY kind, id
	`)

	if err := s.DB.SelectContext(ctx, &components, query, courseID, courseID); err != nil {
		return nil, fmt.Errorf("failed to list gradable components: %w", err)
	}
	return components, nil
}

// CreateEnrollment inserts the (user, course) pair or returns the existing enrollment.
func (s *BaseStore) CreateEnrollment(ctx context.Context, userID, courseID int64, enrolledAt time.Time) (*models.Enrollment, error) {
	query := s.Converter(`
		INSERT INTO enrollments (user_id, course_id, enrolled_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`)
	if _, err := s.DB.ExecContext(ctx, query, userID, courseID, enrolledAt.UTC()); err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	enrollment, err := s.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, fmt.Errorf("enrollment %d/%d vanished after insert", userID, courseID)
	}
	return enrollment, nil
}

func (s *BaseStore) GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	query := s.Converter(`
		SELECT id, user_id, course_id, student_number, enrollment_year, enrolled_at
		FROM enrollments
		WHERE user_id = ? AND course_id = ?
	`)

	err := s.DB.GetContext(ctx, &enrollment, query, userID, courseID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &enrollment, nil
}

func (s *BaseStore) ListEnrollments(ctx context.Context, courseID int64) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	query := s.Converter(`
		SELECT id, user_id, course_id, student_number, enrollment_year, enrolled_at
		FROM enrollments
		WHERE course_id = ?
		ORDER BY enrolled_at, id
	`)

	if err := s.DB.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

// AssignStudentNumber bumps the (course, year) counter and writes the formatted number
// onto the enrollment in a single transaction. An already numbered enrollment is returned as is.
// The counter row is seeded from the count of numbered enrollments of that year.
func (s *BaseStore) AssignStudentNumber(ctx context.Context, enrollmentID int64, year int, format func(seq int) string) (string, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var enrollment models.Enrollment
	err = tx.GetContext(ctx, &enrollment, s.Converter(`
		SELECT id, user_id, course_id, student_number, enrollment_year, enrolled_at
		FROM enrollments
		WHERE id = ?`+s.LockClause), enrollmentID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("enrollment %d: %w", enrollmentID, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock enrollment: %w", err)
	}
	if enrollment.HasStudentNumber() {
		return *enrollment.StudentNumber, nil
	}

	var seq int
	err = tx.GetContext(ctx, &seq, s.Converter(`
		INSERT INTO student_number_counters (course_id, year, last_seq)
		VALUES (?, ?, (
			SELECT COUNT(*) FROM enrollments
			WHERE course_id = ? AND enrollment_year = ? AND student_number IS NOT NULL
		) + 1)
		ON CONFLICT (course_id, year) DO UPDATE SET
		last_seq = student_number_counters.last_seq + 1
		RETURNING last_seq
	`), enrollment.CourseID, year, enrollment.CourseID, year)
	if err != nil {
		return "", fmt.Errorf("failed to bump student number counter: %w", err)
	}

	number := format(seq)
	for skips := 0; ; skips++ {
		var taken int
		err = tx.GetContext(ctx, &taken, s.Converter(`
			SELECT COUNT(*) FROM enrollments
			WHERE course_id = ? AND student_number = ?
		`), enrollment.CourseID, number)
		if err != nil {
			return "", fmt.Errorf("failed to check student number %s: %w", number, err)
		}
		if taken == 0 {
			break
		}
		if skips >= maxNumberSkips {
			return "", fmt.Errorf("student number %s: %w", number, models.ErrConflict)
		}

		err = tx.GetContext(ctx, &seq, s.Converter(`
			UPDATE student_number_counters
			SET last_seq = last_seq + 1
			WHERE course_id = ? AND year = ?
			RETURNING last_seq
		`), enrollment.CourseID, year)
		if err != nil {
			return "", fmt.Errorf("failed to skip taken student number: %w", err)
		}
		number = format(seq)
	}

	_, err = tx.ExecContext(ctx, s.Converter(`
		UPDATE enrollments
		SET student_number = ?, enrollment_year = ?
		WHERE id = ? AND student_number IS NULL
	`), number, year, enrollmentID)
	if err != nil {
		if s.IsUniqueViolation != nil && s.IsUniqueViolation(err) {
			return "", fmt.Errorf("student number %s: %w", number, models.ErrConflict)
		}
		return "", fmt.Errorf("failed to save student number: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if s.IsUniqueViolation != nil && s.IsUniqueViolation(err) {
			return "", fmt.Errorf("student number %s: %w", number, models.ErrConflict)
		}
		return "", fmt.Errorf("failed to commit student number: %w", err)
	}
	return number, nil
}

func (s *BaseStore) SaveAssessmentSubmission(ctx context.Context, submission *models.AssessmentSubmission) error {
	if err := submission.Validate(); err != nil {
		return fmt.Errorf("invalid assessment submission: %w", err)
	}

	query := s.Converter(`
		INSERT INTO assessment_submissions (assessment_id, user_id, percentage, submitted_at)
		VALUES (?, ?, ?, ?)
	`)
	_, err := s.DB.ExecContext(ctx, query,
		submission.AssessmentID,
		submission.UserID,
		submission.Percentage,
		submission.SubmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment submission: %w", err)
	}
	return nil
}

func (s *BaseStore) SaveAssignmentSubmission(ctx context.Context, submission *models.AssignmentSubmission) error {
	if err := submission.Validate(); err != nil {
		return fmt.Errorf("invalid assignment submission: %w", err)
	}

	query := s.Converter(`
		INSERT INTO assignment_submissions (assignment_id, user_id, score, submitted_at, graded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (assignment_id, user_id) DO UPDATE SET
		score = excluded.score,
		submitted_at = excluded.submitted_at,
		graded_at = excluded.graded_at
	`)
	var gradedAt *time.Time
	if submission.GradedAt != nil {
		t := submission.GradedAt.UTC()
		gradedAt = &t
	}
	_, err := s.DB.ExecContext(ctx, query,
		submission.AssignmentID,
		submission.UserID,
		submission.Score,
		submission.SubmittedAt.UTC(),
		gradedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment submission: %w", err)
	}
	return nil
}

// ListAssessmentResults returns the best attempt per assessment of the course.
func (s *BaseStore) ListAssessmentResults(ctx context.Context, userID, courseID int64) ([]models.AssessmentSubmission, error) {
	var results []models.AssessmentSubmission
	query := s.Converter(`
		SELECT
			s.assessment_id,
			s.user_id,
			MAX(s.percentage) AS percentage
		FROM assessment_submissions s
		JOIN assessments a ON a.id = s.assessment_id
		JOIN modules m ON m.id = a.module_id
		WHERE s.user_id = ? AND m.course_id = ?
		GROUP BY s.assessment_id, s.user_id
		ORDER BY s.assessment_id
	`)

	if err := s.DB.SelectContext(ctx, &results, query, userID, courseID); err != nil {
		return nil, fmt.Errorf("failed to list assessment results: %w", err)
	}
	return results, nil
}

func (s *BaseStore) ListAssignmentResults(ctx context.Context, userID, courseID int64) ([]models.AssignmentSubmission, error) {
	var results []models.AssignmentSubmission
	query := s.Converter(`
		SELECT
			s.assignment_id,
			s.user_id,
			s.score,
			s.submitted_at,
			s.graded_at
		FROM assignment_submissions s
		JOIN assignments g ON g.id = s.assignment_id
		WHERE s.user_id = ? AND g.course_id = ?
		ORDER BY s.assignment_id
	`)

	if err := s.DB.SelectContext(ctx, &results, query, userID, courseID); err != nil {
		return nil, fmt.Errorf("failed to list assignment results: %w", err)
	}
	return results, nil
}

func (s *BaseStore) SaveFinalGrades(ctx context.Context, grades []models.FinalGrade) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.Converter(`
		INSERT INTO final_grades (user_id, course_id, grade, run_id, calculated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, course_id) DO UPDATE SET
		grade = excluded.grade,
		run_id = excluded.run_id,
		calculated_at = excluded.calculated_at
	`)
	for _, g := range grades {
		if _, err := tx.ExecContext(ctx, query, g.UserID, g.CourseID, g.Grade, g.RunID, g.CalculatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to save final grade for user %d: %w", g.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit final grades: %w", err)
	}
	return nil
}

func (s *BaseStore) GetGradeReport(ctx context.Context, courseID int64) ([]models.GradeReportRow, error) {
	var rows []models.GradeReportRow
	query := s.Converter(`
		SELECT
			f.user_id,
			u.username,
			e.student_number,
			f.grade,
			f.calculated_at
		FROM final_grades f
		JOIN users u ON u.id = f.user_id
		JOIN enrollments e ON e.user_id = f.user_id AND e.course_id = f.course_id
		WHERE f.course_id = ?
		ORDER BY e.student_number, u.username
	`)

	if err := s.DB.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("failed to get grade report: %w", err)
	}
	return rows, nil
}
