// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StudentNumbersAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "student_numbers_allocated_total",
			Help: "Total number of student numbers assigned to enrollments",
		},
		[]string{"course_code"},
	)

	AllocationConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "student_number_conflicts_total",
			Help: "Student number allocations retried after a uniqueness conflict",
		},
		[]string{"course_code"},
	)

	FinalGradeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "final_grade",
			Help:    "Distribution of finalized course grades",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"course"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
