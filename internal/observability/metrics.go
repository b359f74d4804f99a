package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	apiRequestsTotal          *prometheus.CounterVec
	apiLatencySeconds         *prometheus.HistogramVec
	apiErrorsTotal            *prometheus.CounterVec
	quizSubmissionsTotal      *prometheus.CounterVec
	quizScorePercentage       prometheus.Histogram
	courseCompletionsTotal    prometheus.Counter
	certificatesIssuedTotal   prometheus.Counter
	notificationsPublished    *prometheus.CounterVec
	notificationFailuresTotal *prometheus.CounterVec
	sseClientsActive          prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		quizSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Quiz attempts scored, partitioned by outcome.",
		}, []string{"outcome"})

		quizScorePercentage = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_score_percentage",
			Help:    "Distribution of submitted quiz percentages.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		})

		courseCompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "course_completions_total",
			Help: "Enrollments completed by a passing quiz submission.",
		})

		certificatesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certificates_issued_total",
			Help: "Certificates generated for completed courses.",
		})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications delivered to local subscribers, by type.",
		}, []string{"type"})

		notificationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_failures_total",
			Help: "Notifications that could not be stored or fanned out, by type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_sse_clients_active",
			Help: "Open notification event streams.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			quizSubmissionsTotal,
			quizScorePercentage,
			courseCompletionsTotal,
			certificatesIssuedTotal,
			notificationsPublished,
			notificationFailuresTotal,
			sseClientsActive,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// QuizSubmissions counts scored attempts by outcome ("passed" or "failed").
func QuizSubmissions() *prometheus.CounterVec {
	RegisterMetrics()
	return quizSubmissionsTotal
}

// QuizScorePercentage observes submitted percentages.
func QuizScorePercentage() prometheus.Histogram {
	RegisterMetrics()
	return quizScorePercentage
}

// CourseCompletions counts completed enrollments.
func CourseCompletions() prometheus.Counter {
	RegisterMetrics()
	return courseCompletionsTotal
}

// CertificatesIssued counts generated certificates.
func CertificatesIssued() prometheus.Counter {
	RegisterMetrics()
	return certificatesIssuedTotal
}

// NotificationsPublishedTotal counts notifications by type.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}

// NotificationFailures counts swallowed dispatch failures by type.
func NotificationFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationFailuresTotal
}

// SSEClientsActive tracks open notification streams.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}
