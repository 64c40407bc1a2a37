package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/gradebook/internal/app"
)

func NewRouter(service *app.Service) *http.ServeMux {
	h := NewGradebookHandler(service)
	mux := http.NewServeMux()

	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/v1/courses/{course}/enrollments", h.HandleEnroll},
		{"POST /api/v1/courses/{course}/students/{user}/number", h.HandleAllocateNumber},
		{"GET /api/v1/courses/{course}/students/{user}/grade", h.HandleStudentGrade},
		{"POST /api/v1/courses/{course}/final-grades", h.HandleFinalize},
		{"GET /api/v1/courses/{course}/final-grades", h.HandleGradeReport},
		{"GET /api/v1/courses/{course}/code", h.HandleCourseCode},
	}
	for _, route := range routes {
		mux.HandleFunc(route.pattern, Instrument(route.pattern, route.handler))
	}

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
