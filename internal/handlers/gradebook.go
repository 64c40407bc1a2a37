package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/gradebook/internal/app"
	"github.com/shrimpsizemoose/gradebook/internal/identity"
	"github.com/shrimpsizemoose/gradebook/internal/metrics"
	"github.com/shrimpsizemoose/gradebook/internal/models"
)

type GradebookHandler struct {
	service *app.Service
}

func NewGradebookHandler(service *app.Service) *GradebookHandler {
	return &GradebookHandler{
		service: service,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument records request duration with the status the handler actually answered with.
func Instrument(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestDuration.WithLabelValues(
			pattern,
			r.Method,
			strconv.Itoa(rec.status),
		).Observe(time.Since(start).Seconds())
	}
}

func (h *GradebookHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	courseID, ok := pathID(w, r, "course")
	if !ok {
		return
	}

	var req models.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	enrollment, err := h.service.Allocator.Enroll(r.Context(), req.UserID, courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, enrollment)
}

func (h *GradebookHandler) HandleAllocateNumber(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	courseID, ok := pathID(w, r, "course")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	number, err := h.service.Allocator.AllocateStudentNumber(r.Context(), userID, courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        userID,
		"course_id":      courseID,
		"student_number": number,
	})
}

func (h *GradebookHandler) HandleStudentGrade(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "course")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	if err := h.service.ValidateAuthAndStudent(r, courseID, userID); err != nil {
		logger.Error.Printf("Auth failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	grade, err := h.service.StudentGrade(r.Context(), userID, courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grade)
}

func (h *GradebookHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	courseID, ok := pathID(w, r, "course")
	if !ok {
		return
	}
	grades, err := h.service.FinalizeCourse(r.Context(), courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows": grades,
	})
}

func (h *GradebookHandler) HandleGradeReport(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	courseID, ok := pathID(w, r, "course")
	if !ok {
		return
	}

	rows, err := h.service.GradeReport(r.Context(), courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows": rows,
	})
}

func (h *GradebookHandler) HandleCourseCode(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "course")
	if !ok {
		return
	}

	code, err := h.service.Allocator.CourseCode(r.Context(), courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"course_id": courseID,
		"code":      code,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		logger.Error.Printf("Failed to extract %s from path: %s", name, r.URL.Path)
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNotEnrolled):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidWeight), errors.Is(err, identity.ErrEmptyCourseCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorMessages are sent instead of the error chain, which carries internal ids.
var errorMessages = map[error]string{
	models.ErrNotFound:          "Not found",
	models.ErrNotEnrolled:       "Student is not enrolled in this course",
	models.ErrConflict:          "Student number is taken, try again",
	models.ErrInvalidWeight:     "Course has invalid component weights",
	models.ErrInvalid:           "Invalid input",
	identity.ErrEmptyCourseCode: "Course title does not yield a course code",
}

func publicMessage(err error) string {
	// ErrNotEnrolled first: it is the more specific reason for a 404
	for _, target := range []error{
		models.ErrNotEnrolled,
		models.ErrNotFound,
		models.ErrConflict,
		models.ErrInvalidWeight,
		identity.ErrEmptyCourseCode,
		models.ErrInvalid,
	} {
		if errors.Is(err, target) {
			return errorMessages[target]
		}
	}
	return "Internal error"
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error.Printf("ERROR: %v", err)
	} else {
		logger.Debug.Printf("Request failed with %d: %v", status, err)
	}
	http.Error(w, publicMessage(err), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
	}
}
