package macros

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Expander replaces {MACRO} placeholders in served click URLs with values
// from the selection that produced the ad. Placeholders it does not know are
// left untouched.
type Expander struct {
	logger       *zap.Logger
	expansions   map[string]ExpansionFunc
	expansionsMu sync.RWMutex

	expansionCounter *prometheus.CounterVec
	failureCounter   *prometheus.CounterVec
}

// ExpansionFunc produces the raw (unescaped) value for one macro.
type ExpansionFunc func(ctx *ExpansionContext) (string, error)

// ExpansionContext carries everything a macro may resolve to.
type ExpansionContext struct {
	RequestID  string
	AdID       string
	AdType     string
	CampaignID string
	Placement  string
	Timestamp  time.Time
}

var errNoCampaign = errors.New("ad has no campaign")

// NewExpander builds an expander with the default macros. Metrics are
// registered on reg; a nil reg keeps them unregistered, which tests use.
func NewExpander(logger *zap.Logger, reg prometheus.Registerer) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	e := &Expander{
		logger:     logger,
		expansions: make(map[string]ExpansionFunc),
		expansionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "click_macro_expansions_total",
				Help: "Click URL macro expansions by macro and outcome",
			},
			[]string{"macro", "success"},
		),
		failureCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "click_macro_failures_total",
				Help: "Click URL macros left unexpanded because their value was unavailable",
			},
			[]string{"macro"},
		),
	}
	e.registerDefaultMacros()
	return e
}

// ExpandURL substitutes every known macro in rawURL. Values are query
// escaped. A macro whose value cannot be produced stays as written.
func (e *Expander) ExpandURL(rawURL string, ctx *ExpansionContext) (string, error) {
	if rawURL == "" || !strings.Contains(rawURL, "{") {
		return rawURL, nil
	}
	if _, err := url.Parse(rawURL); err != nil {
		return rawURL, fmt.Errorf("parse click url: %w", err)
	}

	e.expansionsMu.RLock()
	defer e.expansionsMu.RUnlock()

	var pairs []string
	for name, fn := range e.expansions {
		placeholder := "{" + name + "}"
		if !strings.Contains(rawURL, placeholder) {
			continue
		}
		value, err := fn(ctx)
		if err != nil {
			e.expansionCounter.WithLabelValues(name, "false").Inc()
			e.failureCounter.WithLabelValues(name).Inc()
			e.logger.Debug("macro left unexpanded",
				zap.String("macro", name),
				zap.String("ad_id", ctx.AdID),
				zap.Error(err))
			continue
		}
		pairs = append(pairs, placeholder, url.QueryEscape(value))
		e.expansionCounter.WithLabelValues(name, "true").Inc()
	}
	if len(pairs) == 0 {
		return rawURL, nil
	}
	return strings.NewReplacer(pairs...).Replace(rawURL), nil
}

// RegisterMacro adds or replaces a macro.
func (e *Expander) RegisterMacro(name string, fn ExpansionFunc) error {
	if name == "" {
		return errors.New("macro name cannot be empty")
	}
	if fn == nil {
		return errors.New("expansion function cannot be nil")
	}
	e.expansionsMu.Lock()
	defer e.expansionsMu.Unlock()
	e.expansions[name] = fn
	return nil
}

// Unsupported returns the placeholders in rawURL that no macro handles.
func (e *Expander) Unsupported(rawURL string) []string {
	e.expansionsMu.RLock()
	defer e.expansionsMu.RUnlock()

	var out []string
	rest := rawURL
	for {
		start := strings.IndexByte(rest, '{')
		if start == -1 {
			return out
		}
		end := strings.IndexByte(rest[start:], '}')
		if end == -1 {
			return out
		}
		name := rest[start+1 : start+end]
		if _, ok := e.expansions[name]; !ok {
			out = append(out, name)
		}
		rest = rest[start+end+1:]
	}
}

func (e *Expander) registerDefaultMacros() {
	e.expansions["REQUEST_ID"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.RequestID, nil
	}
	e.expansions["AD_ID"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.AdID, nil
	}
	e.expansions["AD_TYPE"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.AdType, nil
	}
	e.expansions["CAMPAIGN_ID"] = func(ctx *ExpansionContext) (string, error) {
		if ctx.CampaignID == "" {
			return "", errNoCampaign
		}
		return ctx.CampaignID, nil
	}
	e.expansions["PLACEMENT"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.Placement, nil
	}
	e.expansions["TIMESTAMP"] = func(ctx *ExpansionContext) (string, error) {
		return strconv.FormatInt(ctx.Timestamp.Unix(), 10), nil
	}
	e.expansions["TIMESTAMP_MS"] = func(ctx *ExpansionContext) (string, error) {
		return strconv.FormatInt(ctx.Timestamp.UnixMilli(), 10), nil
	}
	e.expansions["ISO_TIMESTAMP"] = func(ctx *ExpansionContext) (string, error) {
		return ctx.Timestamp.UTC().Format(time.RFC3339), nil
	}
	e.expansions["CACHEBUSTER"] = func(*ExpansionContext) (string, error) {
		return strconv.FormatUint(rand.Uint64(), 10), nil
	}
	e.expansions["UUID"] = func(*ExpansionContext) (string, error) {
		return uuid.NewString(), nil
	}
}
