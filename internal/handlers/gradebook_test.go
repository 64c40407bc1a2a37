package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/gradebook/internal/app"
	"github.com/shrimpsizemoose/gradebook/internal/identity"
	"github.com/shrimpsizemoose/gradebook/internal/models"
)

type fixture struct {
	service *app.Service
	router  http.Handler
	course  *models.Course
	alice   *models.User
	bob     *models.User
}

func setupFixture(t *testing.T) *fixture {
	config := &app.Config{}
	config.Server.Port = ":0"
	config.Database.DSN = ":memory:"
	config.Database.MigrationsDir = "../../migrations"
	config.Numbering.Timezone = "UTC"
	config.Auth.TokenHeader = "Authorization"
	config.API.RequiredHeaders = []app.HeaderConfig{{Name: "X-Gradebook-Admin", Value: "yes"}}

	service, err := app.NewServiceWithConfig(config)
	require.NoError(t, err)
	t.Cleanup(func() { service.Close() })

	ctx := context.Background()
	f := &fixture{
		service: service,
		router:  NewRouter(service),
		course:  &models.Course{Title: "Diploma in VFX"},
		alice:   &models.User{Username: "alice"},
		bob:     &models.User{Username: "bob"},
	}
	require.NoError(t, service.Store.CreateCourse(ctx, f.course))
	require.NoError(t, service.Store.CreateUser(ctx, f.alice))
	require.NoError(t, service.Store.CreateUser(ctx, f.bob))

	module := &models.Module{CourseID: f.course.ID, Title: "Compositing"}
	require.NoError(t, service.Store.CreateModule(ctx, module))
	quiz := &models.Assessment{ModuleID: module.ID, Title: "Quiz 1", Weight: 40}
	require.NoError(t, service.Store.CreateAssessment(ctx, quiz))
	project := &models.Assignment{CourseID: f.course.ID, Title: "Final shot", Weight: 60, MaxScore: 50}
	require.NoError(t, service.Store.CreateAssignment(ctx, project))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	score := 40.0
	require.NoError(t, service.Store.SaveAssessmentSubmission(ctx, &models.AssessmentSubmission{
		AssessmentID: quiz.ID, UserID: f.alice.ID, Percentage: 90, SubmittedAt: now,
	}))
	require.NoError(t, service.Store.SaveAssignmentSubmission(ctx, &models.AssignmentSubmission{
		AssignmentID: project.ID, UserID: f.alice.ID, Score: &score, SubmittedAt: now, GradedAt: &now,
	}))

	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if admin {
		req.Header.Set("X-Gradebook-Admin", "yes")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) enroll(t *testing.T, user *models.User) models.Enrollment {
	rec := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/courses/%d/enrollments", f.course.ID),
		fmt.Sprintf(`{"user_id": %d}`, user.ID), true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var enrollment models.Enrollment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&enrollment))
	return enrollment
}

func TestHandleEnroll(t *testing.T) {
	t.Run("assigns a student number", func(t *testing.T) {
		f := setupFixture(t)
		enrollment := f.enroll(t, f.alice)

		require.NotNil(t, enrollment.StudentNumber)
		assert.Regexp(t, `^DVFX-S-\d{4}-001$`, *enrollment.StudentNumber)
		assert.Equal(t, f.alice.ID, enrollment.UserID)
	})

	t.Run("re-enrolling keeps the number", func(t *testing.T) {
		f := setupFixture(t)
		first := f.enroll(t, f.alice)
		second := f.enroll(t, f.alice)
		assert.Equal(t, *first.StudentNumber, *second.StudentNumber)
	})

	t.Run("requires admin headers", func(t *testing.T) {
		f := setupFixture(t)
		rec := f.do(t, http.MethodPost,
			fmt.Sprintf("/api/v1/courses/%d/enrollments", f.course.ID),
			fmt.Sprintf(`{"user_id": %d}`, f.alice.ID), false)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects a bad body", func(t *testing.T) {
		f := setupFixture(t)
		rec := f.do(t, http.MethodPost,
			fmt.Sprintf("/api/v1/courses/%d/enrollments", f.course.ID), `{"user_id": 0}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := setupFixture(t)
		rec := f.do(t, http.MethodPost,
			fmt.Sprintf("/api/v1/courses/%d/enrollments", f.course.ID), `{"user_id": 999}`, true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Not found\n", rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "999")
	})

	t.Run("unknown course", func(t *testing.T) {
		f := setupFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/courses/999/enrollments",
			fmt.Sprintf(`{"user_id": %d}`, f.alice.ID), true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleAllocateNumber(t *testing.T) {
	f := setupFixture(t)
	enrollment := f.enroll(t, f.alice)

	rec := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/courses/%d/students/%d/number", f.course.ID, f.alice.ID), "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		StudentNumber string `json:"student_number"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, *enrollment.StudentNumber, resp.StudentNumber)

	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/courses/%d/students/%d/number", f.course.ID, f.bob.ID), "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code, "bob is not enrolled")

	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/courses/%d/students/abc/number", f.course.ID), "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStudentGrade(t *testing.T) {
	f := setupFixture(t)
	f.enroll(t, f.alice)

	rec := f.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/courses/%d/students/%d/grade", f.course.ID, f.alice.ID), "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var grade app.StudentGrade
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grade))
	assert.InDelta(t, 84.0, grade.Grade, 0.001)
	assert.NotNil(t, grade.StudentNumber)

	rec = f.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/courses/%d/students/%d/grade", f.course.ID, f.bob.ID), "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFinalizeAndReport(t *testing.T) {
	f := setupFixture(t)
	f.enroll(t, f.alice)
	f.enroll(t, f.bob)

	rec := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/courses/%d/final-grades", f.course.ID), "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/courses/%d/final-grades", f.course.ID), "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var report struct {
		Rows []models.GradeReportRow `json:"rows"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Len(t, report.Rows, 2)

	grades := map[string]float64{}
	for _, row := range report.Rows {
		grades[row.Username] = row.Grade
	}
	assert.InDelta(t, 84.0, grades["alice"], 0.001)
	assert.InDelta(t, 0.0, grades["bob"], 0.001)

	rec = f.do(t, http.MethodPost, "/api/v1/courses/999/final-grades", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCourseCode(t *testing.T) {
	f := setupFixture(t)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/courses/%d/code", f.course.ID), "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"course_id": %d, "code": "DVFX"}`, f.course.ID), rec.Body.String())
}

func TestCourseWithoutCode(t *testing.T) {
	f := setupFixture(t)
	dashes := &models.Course{Title: "---"}
	require.NoError(t, f.service.Store.CreateCourse(context.Background(), dashes))

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/courses/%d/code", dashes.ID), "", false)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Course title does not yield a course code\n", rec.Body.String())

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/courses/%d/final-grades", dashes.ID), "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/courses/%d/enrollments", dashes.ID),
		fmt.Sprintf(`{"user_id": %d}`, f.alice.ID), true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("user 1: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("user 1: %w", models.ErrNotEnrolled), http.StatusNotFound},
		{fmt.Errorf("number: %w", models.ErrConflict), http.StatusConflict},
		{fmt.Errorf("course 1: %w", models.ErrInvalidWeight), http.StatusUnprocessableEntity},
		{fmt.Errorf("course 1: %w", identity.ErrEmptyCourseCode), http.StatusUnprocessableEntity},
		{fmt.Errorf("user_id: %w", models.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	err := fmt.Errorf("enrollment of user 3 in course 1: %w", models.ErrNotFound)
	assert.Equal(t, "Not found", publicMessage(err))

	err = fmt.Errorf("user 3 in course 1: %w", models.ErrNotEnrolled)
	assert.Equal(t, "Student is not enrolled in this course", publicMessage(err))

	assert.Equal(t, "Internal error", publicMessage(fmt.Errorf("dial tcp 10.0.0.3:5432")))
}
