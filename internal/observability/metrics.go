package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	InvitesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liftmates_invites_sent_total",
		Help: "Total live-workout invites sent",
	})
	InvitesResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liftmates_invites_resolved_total",
		Help: "Total invite resolutions by outcome",
	}, []string{"outcome"})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liftmates_active_sessions",
		Help: "Live workout sessions currently active",
	})
	ExercisesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liftmates_exercises_added_total",
		Help: "Exercises added to live sessions",
	})
	SetsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liftmates_sets_added_total",
		Help: "Sets added to live sessions",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liftmates_messages_sent_total",
		Help: "Direct messages sent",
	})
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liftmates_ws_connections",
		Help: "Current number of active websocket connections",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		InvitesSent, InvitesResolved, ActiveSessions, ExercisesAdded,
		SetsAdded, MessagesSent, WsConnections,
		HTTPRequestsTotal, HTTPRequestDuration,
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MuxMiddleware records request count and latency per route template.
func MuxMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(rec.status),
		}
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
