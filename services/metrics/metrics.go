package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service owns a private registry so several instances can coexist in one
// process (tests, embedded use).
type Service struct {
	registry *prometheus.Registry

	challengesIssued *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	recordsPurged    prometheus.Counter
	notifications    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewService(namespace string) *Service {
	registry := prometheus.NewRegistry()
	factory := prometheus.WrapRegistererWithPrefix(namespace+"_", registry)

	s := &Service{
		registry: registry,
		challengesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challenges_issued_total",
				Help: "Total number of verification challenges issued.",
			},
			[]string{"reason"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifications_total",
				Help: "Total number of verification attempts by result.",
			},
			[]string{"result"},
		),
		recordsPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "records_purged_total",
				Help: "Total number of expired verification records removed by the reaper.",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Total number of code deliveries by channel and result.",
			},
			[]string{"channel", "result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	factory.MustRegister(
		s.challengesIssued,
		s.verifications,
		s.recordsPurged,
		s.notifications,
		s.httpRequests,
		s.httpDuration,
	)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return s
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Service) ChallengeIssued(reason string) {
	s.challengesIssued.WithLabelValues(reason).Inc()
}

func (s *Service) VerificationResult(result string) {
	s.verifications.WithLabelValues(result).Inc()
}

func (s *Service) RecordsPurged(n int64) {
	s.recordsPurged.Add(float64(n))
}

func (s *Service) NotificationSent(channel string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.notifications.WithLabelValues(channel, result).Inc()
}

func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Middleware records request counts and latency labelled by route pattern,
// never by raw path, so principal ids stay out of label values.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			s.httpRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			s.httpDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
