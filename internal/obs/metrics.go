package obs

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readiness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "app_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expense_decisions_total",
			Help: "Approve/reject decisions applied to transactions.",
		},
		[]string{"action"},
	)

	transactionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expense_transactions_created_total",
		Help: "Transactions submitted.",
	})

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	uploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expense_upload_bytes_total",
		Help: "Bytes of invoice and receipt files stored.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readiness,
			decisionsTotal, transactionsCreated, loginsTotal, uploadBytes,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readiness.Set(1)
		return
	}
	readiness.Set(0)
}

func RecordDecision(action string) { decisionsTotal.WithLabelValues(action).Inc() }

func RecordTransactionCreated() { transactionsCreated.Inc() }

// RecordLogin counts a login attempt; result is "success", "invalid" or "error".
func RecordLogin(result string) { loginsTotal.WithLabelValues(result).Inc() }

func RecordUploadBytes(n int64) {
	if n > 0 {
		uploadBytes.Add(float64(n))
	}
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var numericSegment = regexp.MustCompile(`^[0-9]+$`)

// CanonicalPath collapses ids so metric labels stay bounded:
// /transactions/42/status -> /transactions/:id/status. Upload names collapse
// to /uploads/:file.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if parts[0] == "uploads" && len(parts) > 1 {
		return "/uploads/:file"
	}
	for i, p := range parts {
		if numericSegment.MatchString(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
