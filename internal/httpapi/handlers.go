package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"prestacao.org/api/spec"
	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/obs"
	"prestacao.org/internal/stream"
	"prestacao.org/internal/uploads"
)

const serviceName = "prestacao-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database; a nil DB (in-memory mode) is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services behind the HTTP layer. Stream may be nil.
type Deps struct {
	Auth     *auth.Service
	Expenses *expense.Service
	Uploads  *uploads.Storage
	Stream   *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	auth     *auth.Service
	expenses *expense.Service
	uploads  *uploads.Storage
	stream   *stream.Stream

	corsOrigins []string
	rateBurst   int
	ratePerSec  float64
}

// Option tunes the API before routes are built.
type Option func(*API)

// WithCORSOrigins adds allowed browser origins besides localhost.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = append(a.corsOrigins, origins...) }
}

// WithLoginRateLimit configures the per-IP token bucket on POST /login.
func WithLoginRateLimit(perSec float64, burst int) Option {
	return func(a *API) {
		if perSec > 0 {
			a.ratePerSec = perSec
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

func New(rp readinessChecker, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       deps.Auth,
		expenses:   deps.Expenses,
		uploads:    deps.Uploads,
		stream:     deps.Stream,
		rateBurst:  10,
		ratePerSec: 1,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/login", RateLimit(http.HandlerFunc(a.handleLogin), a.rateBurst, a.ratePerSec))

	a.mux.HandleFunc("/transactions", a.handleTransactions)
	a.mux.HandleFunc("/transactions/{id}", a.handleTransaction)
	a.mux.HandleFunc("/transactions/{id}/status", a.handleTransactionStatus)
	a.mux.HandleFunc("/transactions/{id}/audit", a.handleTransactionAudit)

	a.mux.HandleFunc("/units", a.handleUnits)
	a.mux.HandleFunc("/units/{id}", a.handleUnit)
	a.mux.HandleFunc("/cost-centers", a.handleCostCenters)
	a.mux.HandleFunc("/cost-centers/{id}", a.handleCostCenter)

	a.mux.HandleFunc("/dashboard/summary", a.handleSummary)
	a.mux.HandleFunc("/events", a.Stream)

	if a.uploads != nil {
		a.mux.Handle(uploads.URLPrefix, a.uploads.Handler())
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes())
	h = CORS(h, a.corsOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// maxBodyBytes allows two full-size attachments plus form fields.
func (a *API) maxBodyBytes() int64 {
	const formOverhead = 1 << 20
	if a.uploads == nil {
		return formOverhead
	}
	return 2*a.uploads.MaxBytes() + formOverhead
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe.Check(r.Context()); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
