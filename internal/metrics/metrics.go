// Package metrics provides Prometheus instrumentation for the service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatsync",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seatsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SignupsTotal counts account signups by result.
	SignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatsync",
			Name:      "signups_total",
			Help:      "Total signup attempts by result.",
		},
		[]string{"result"},
	)

	// AdmissionsTotal counts invite acceptances by result.
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatsync",
			Name:      "admissions_total",
			Help:      "Total invite-based admissions by result.",
		},
		[]string{"result"},
	)

	// SeatLimitRejectionsTotal counts admissions rejected at the seat limit.
	SeatLimitRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seatsync",
		Name:      "seat_limit_rejections_total",
		Help:      "Total admissions rejected because the organization was full.",
	})

	// CheckoutVerificationsTotal counts checkout session verifications by result.
	CheckoutVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatsync",
			Name:      "checkout_verifications_total",
			Help:      "Total checkout session verifications by result.",
		},
		[]string{"result"},
	)

	// SubscriptionUpdatesTotal counts subscription plan/seat updates by result.
	SubscriptionUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatsync",
			Name:      "subscription_updates_total",
			Help:      "Total subscription updates by result.",
		},
		[]string{"result"},
	)

	// ClaimsPropagationFailuresTotal counts failed custom-claims pushes.
	// These are post-commit side effects, so failures here mean the identity
	// provider's view is stale until the next successful propagation.
	ClaimsPropagationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seatsync",
		Name:      "claims_propagation_failures_total",
		Help:      "Total failed custom-claims propagations to the identity provider.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatsync", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatsync", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatsync", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seatsync", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SignupsTotal,
		AdmissionsTotal,
		SeatLimitRejectionsTotal,
		CheckoutVerificationsTotal,
		SubscriptionUpdatesTotal,
		ClaimsPropagationFailuresTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
