// Package metrics exposes Prometheus counters for launches, logins,
// sessions and key-set refreshes, plus HTTP request metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements lti.Observer and session.Observer.
type Collector struct {
	reg prometheus.Gatherer

	launches        *prometheus.CounterVec
	logins          *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsReused  prometheus.Counter
	sessionsSwept   prometheus.Counter
	keysetRefresh   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		launches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lti_launch_total",
			Help: "LTI launches by outcome.",
		}, []string{"outcome"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lti_login_total",
			Help: "OIDC login initiations by outcome.",
		}, []string{"outcome"}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "lti_sessions_created_total",
			Help: "Tool sessions created.",
		}),
		sessionsReused: f.NewCounter(prometheus.CounterOpts{
			Name: "lti_sessions_reused_total",
			Help: "Launches that reused a live session.",
		}),
		sessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "lti_sessions_swept_total",
			Help: "Expired sessions deactivated by the sweeper.",
		}),
		keysetRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lti_keyset_refresh_total",
			Help: "Platform key-set fetches by result.",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (c *Collector) ObserveLaunch(outcome string) { c.launches.WithLabelValues(outcome).Inc() }
func (c *Collector) ObserveLogin(outcome string)  { c.logins.WithLabelValues(outcome).Inc() }

func (c *Collector) SessionCreated() { c.sessionsCreated.Inc() }
func (c *Collector) SessionReused()  { c.sessionsReused.Inc() }

func (c *Collector) SessionsSwept(n int64) {
	if n > 0 {
		c.sessionsSwept.Add(float64(n))
	}
}

// KeySetRefreshed fits lti.WithRefreshObserver.
func (c *Collector) KeySetRefreshed(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.keysetRefresh.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
