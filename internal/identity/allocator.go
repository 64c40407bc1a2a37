package identity

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/gradebook/internal/metrics"
	"github.com/shrimpsizemoose/gradebook/internal/models"
)

const DefaultMaxAttempts = 3

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Store is the slice of the gradebook store the allocator needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetCourse(ctx context.Context, id int64) (*models.Course, error)
	CreateEnrollment(ctx context.Context, userID, courseID int64, enrolledAt time.Time) (*models.Enrollment, error)
	GetEnrollment(ctx context.Context, userID, courseID int64) (*models.Enrollment, error)
	AssignStudentNumber(ctx context.Context, enrollmentID int64, year int, format func(seq int) string) (string, error)
}

type Allocator struct {
	store       Store
	clock       Clock
	location    *time.Location
	maxAttempts int
}

type Option func(*Allocator)

func WithClock(c Clock) Option {
	return func(a *Allocator) { a.clock = c }
}

// WithLocation sets the zone the calendar year is taken in.
func WithLocation(loc *time.Location) Option {
	return func(a *Allocator) { a.location = loc }
}

func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func NewAllocator(store Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		clock:       SystemClock{},
		location:    time.UTC,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) CourseCode(ctx context.Context, courseID int64) (string, error) {
	course, err := a.course(ctx, courseID)
	if err != nil {
		return "", err
	}
	return CourseCode(course.Title)
}

// Enroll creates the enrollment if needed and makes sure it carries a student number.
func (a *Allocator) Enroll(ctx context.Context, userID, courseID int64) (*models.Enrollment, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "enroll user %d", userID)
	}
	if user == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "user %d", userID)
	}
	if _, err := a.course(ctx, courseID); err != nil {
		return nil, err
	}

	if _, err := a.store.CreateEnrollment(ctx, userID, courseID, a.clock.Now()); err != nil {
		return nil, errors.Wrapf(err, "enroll user %d into course %d", userID, courseID)
	}

	if _, err := a.AllocateStudentNumber(ctx, userID, courseID); err != nil {
		return nil, err
	}

	enrollment, err := a.store.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, errors.Wrapf(err, "reload enrollment %d/%d", userID, courseID)
	}
	return enrollment, nil
}

// AllocateStudentNumber returns the enrollment's student number, assigning the next one of
// the current year when it has none. An assigned number never changes.
func (a *Allocator) AllocateStudentNumber(ctx context.Context, userID, courseID int64) (string, error) {
	course, err := a.course(ctx, courseID)
	if err != nil {
		return "", err
	}

	enrollment, err := a.store.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return "", errors.Wrapf(err, "get enrollment %d/%d", userID, courseID)
	}
	if enrollment == nil {
		return "", errors.Wrapf(models.ErrNotFound, "enrollment of user %d in course %d", userID, courseID)
	}
	if enrollment.HasStudentNumber() {
		return *enrollment.StudentNumber, nil
	}

	code, err := CourseCode(course.Title)
	if err != nil {
		return "", errors.Wrapf(err, "course %d", courseID)
	}
	year := a.clock.Now().In(a.location).Year()
	format := func(seq int) string {
		return FormatStudentNumber(code, year, seq)
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		number, err := a.store.AssignStudentNumber(ctx, enrollment.ID, year, format)
		if err == nil {
			metrics.StudentNumbersAllocated.WithLabelValues(code).Inc()
			logger.Info.Printf("Allocated student number %s for user %d in course %d", number, userID, courseID)
			return number, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return "", errors.Wrapf(err, "allocate student number for enrollment %d", enrollment.ID)
		}

		metrics.AllocationConflicts.WithLabelValues(code).Inc()
		logger.Debug.Printf("Student number conflict for enrollment %d (attempt %d/%d): %v",
			enrollment.ID, attempt, a.maxAttempts, err)
		lastErr = err
	}

	return "", errors.Wrapf(lastErr, "allocate student number for enrollment %d after %d attempts",
		enrollment.ID, a.maxAttempts)
}

func (a *Allocator) course(ctx context.Context, courseID int64) (*models.Course, error) {
	course, err := a.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, errors.Wrapf(err, "get course %d", courseID)
	}
	if course == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "course %d", courseID)
	}
	return course, nil
}
