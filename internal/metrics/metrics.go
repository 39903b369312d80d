package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/session"
)

const namespace = "agency"

// Metrics holds the API's Prometheus metrics. It implements session.Observer.
type Metrics struct {
	Created   prometheus.Counter
	Evicted   prometheus.Counter
	Expired   prometheus.Counter
	Destroyed prometheus.Counter
	Refreshes *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created by login or registration",
		}),
		Evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed to honour the per-user session limit",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed after exceeding the idle timeout",
		}),
		Destroyed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_destroyed_total",
			Help:      "Sessions removed by logout",
		}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token exchanges by result",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SessionCreated() { m.Created.Inc() }
func (m *Metrics) SessionsEvicted(n int) { m.Evicted.Add(float64(n)) }
func (m *Metrics) SessionsExpired(n int) { m.Expired.Add(float64(n)) }
func (m *Metrics) SessionsDestroyed(n int) { m.Destroyed.Add(float64(n)) }
func (m *Metrics) TokenRefreshed(ok bool) {
	result := "rejected"
	if ok {
		result = "ok"
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// StatsSource is satisfied by *session.Registry.
type StatsSource interface {
	Stats(ctx context.Context) (session.Stats, error)
}

// SessionCollector exposes registry statistics as gauges computed at scrape time.
type SessionCollector struct {
	source  StatsSource
	timeout time.Duration
	log     zerolog.Logger

	active  *prometheus.Desc
	users   *prometheus.Desc
	average *prometheus.Desc
	limit   *prometheus.Desc
}

func NewSessionCollector(source StatsSource, log zerolog.Logger) *SessionCollector {
	return &SessionCollector{
		source:  source,
		timeout: 5 * time.Second,
		log:     log,
		active:  prometheus.NewDesc(namespace+"_sessions_active", "Sessions currently stored", nil, nil),
		users:   prometheus.NewDesc(namespace+"_sessions_unique_users", "Users holding at least one session", nil, nil),
		average: prometheus.NewDesc(namespace+"_sessions_per_user_average", "Average sessions per user", nil, nil),
		limit:   prometheus.NewDesc(namespace+"_sessions_per_user_limit", "Configured per-user session limit", nil, nil),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.users
	ch <- c.average
	ch <- c.limit
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("collect session stats failed")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(stats.TotalActiveSessions))
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(stats.UniqueUsers))
	ch <- prometheus.MustNewConstMetric(c.average, prometheus.GaugeValue, stats.AverageSessionsPerUser)
	ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(stats.MaxSessionsPerUser))
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
