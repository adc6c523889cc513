package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/geoip"
	"github.com/patrickwarner/addelivery/internal/logic"
	"github.com/patrickwarner/addelivery/internal/logic/ratelimit"
	"github.com/patrickwarner/addelivery/internal/logic/selectors"
	"github.com/patrickwarner/addelivery/internal/macros"
	"github.com/patrickwarner/addelivery/internal/middleware"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
	"github.com/patrickwarner/addelivery/internal/reporting"
	"github.com/patrickwarner/addelivery/internal/token"
)

var tracer = observability.Tracer("addelivery/api")

// maxBodyBytes bounds event request bodies.
const maxBodyBytes = 64 << 10

// HealthCheck probes one backing store.
type HealthCheck func(ctx context.Context) error

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Selector   selectors.Selector
	Recorder   *logic.Recorder
	Reports    *reporting.Aggregator
	Identity   *token.Verifier
	GeoIP      *geoip.GeoIP
	Limiter    *ratelimit.ClientLimiter
	// Proxies resolves client addresses; nil trusts no forwarding headers.
	Proxies    *logic.IPResolver
	Macros     *macros.Expander
	Metrics    observability.MetricsRegistry
	Checks     map[string]HealthCheck
	DebugTrace bool
	// SampleRate controls how many per-request info logs are written.
	SampleRate float64
}

func (s *Server) metrics() observability.MetricsRegistry {
	if s.Metrics == nil {
		return observability.NewNoOpRegistry()
	}
	return s.Metrics
}

// Routes registers every endpoint on a gorilla/mux router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger), middleware.Recover(s.Logger))

	r.HandleFunc("/ads", s.SelectAdsHandler).Methods(http.MethodGet)
	r.HandleFunc("/ads/impression", s.ImpressionHandler).Methods(http.MethodPost)
	r.HandleFunc("/ads/click", s.ClickHandler).Methods(http.MethodPost)
	r.HandleFunc("/ads/completion", s.CompletionHandler).Methods(http.MethodPost)
	r.HandleFunc("/ads/analytics", s.AnalyticsHandler).Methods(http.MethodGet)
	r.HandleFunc("/ads/{id}/report", s.AdReportHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler returns the router wrapped in OpenTelemetry HTTP instrumentation.
func (s *Server) Handler(serviceName string) http.Handler {
	return otelhttp.NewHandler(s.Routes(), serviceName)
}

// call tracks one request so every exit path records the same metrics.
type call struct {
	s        *Server
	w        http.ResponseWriter
	r        *http.Request
	endpoint string
	start    time.Time
	logger   *zap.Logger
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request, endpoint string) *call {
	return &call{
		s:        s,
		w:        w,
		r:        r,
		endpoint: endpoint,
		start:    time.Now(),
		logger:   middleware.LoggerFromRequest(r, s.Logger),
	}
}

func (c *call) record(status int) {
	m := c.s.metrics()
	m.IncrementRequests(c.endpoint, c.r.Method, strconv.Itoa(status))
	m.RecordRequestLatency(c.endpoint, c.r.Method, time.Since(c.start))
}

func (c *call) json(status int, v any) {
	c.w.Header().Set("Content-Type", "application/json")
	c.w.WriteHeader(status)
	if err := json.NewEncoder(c.w).Encode(v); err != nil {
		c.logger.Warn("encode response", zap.Error(err))
	}
	c.record(status)
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *call) error(status int, msg string) {
	c.json(status, errorBody{Error: msg})
}

// fail maps err onto the error taxonomy: validation is 400 with the
// message, missing entities 404, everything else a logged 500.
func (c *call) fail(err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		c.error(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		c.error(http.StatusNotFound, "not found")
	default:
		c.logger.Error("request failed", zap.Error(err), zap.String("endpoint", c.endpoint))
		c.error(http.StatusInternalServerError, "internal error")
	}
}

// identity resolves the optional bearer token. Any token problem downgrades
// the caller to anonymous.
func (c *call) identity() string {
	userID, err := c.s.Identity.UserID(c.r.Header.Get("Authorization"))
	if err != nil {
		c.logger.Debug("bearer token rejected, treating caller as anonymous", zap.Error(err))
		return ""
	}
	return userID
}

func (c *call) sampled() bool {
	return observability.ShouldSample(c.s.SampleRate)
}
