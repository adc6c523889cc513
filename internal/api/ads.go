package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/logic"
	"github.com/patrickwarner/addelivery/internal/logic/selectors"
	"github.com/patrickwarner/addelivery/internal/macros"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/placement"
)

// selectionDebug wraps the selected ads with the pipeline trace.
type selectionDebug struct {
	Ads   []models.Ad `json:"ads"`
	Debug struct {
		Trace *logic.SelectionTrace `json:"trace"`
	} `json:"debug"`
}

// SelectAdsHandler handles GET /ads and returns the ranked eligible ads as a
// JSON array. An empty array means nothing matched.
func (s *Server) SelectAdsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "SelectAdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/ads"),
		))
	defer span.End()

	c := s.begin(w, r.WithContext(ctx), "/ads")
	q := r.URL.Query()

	req := selectors.Request{
		Type:      q.Get("type"),
		Placement: q.Get("placement"),
		UserID:    strings.TrimSpace(q.Get("userId")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.error(http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		req.Limit = n
	}
	if req.UserID == "" {
		req.UserID = c.identity()
	}
	span.SetAttributes(
		attribute.String("ad.type", req.Type),
		attribute.String("ad.placement", req.Placement),
		attribute.Bool("user.identified", req.UserID != ""),
	)

	debug := s.DebugTrace || q.Get("debug") == "1"
	var (
		ads   []models.Ad
		err   error
		steps *logic.SelectionTrace
	)
	if rb, ok := s.Selector.(*selectors.RuleBasedSelector); ok && debug {
		steps = &logic.SelectionTrace{}
		ads, err = rb.SelectAdsWithTrace(ctx, req, steps)
	} else {
		ads, err = s.Selector.SelectAds(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "selection failed")
		c.fail(err)
		return
	}
	if ads == nil {
		ads = []models.Ad{}
	}
	span.SetAttributes(attribute.Int("ads.returned", len(ads)))
	s.expandClickURLs(c, ads, req.Placement)

	if c.sampled() {
		c.logger.Info("ads selected",
			zap.String("type", req.Type),
			zap.String("placement", req.Placement),
			zap.Int("count", len(ads)),
		)
	}

	if steps != nil {
		var body selectionDebug
		body.Ads = ads
		body.Debug.Trace = steps
		c.json(http.StatusOK, body)
		return
	}
	c.json(http.StatusOK, ads)
}

// expandClickURLs fills click URL macros on the response copies. The stored
// ads keep their templates.
func (s *Server) expandClickURLs(c *call, ads []models.Ad, requested string) {
	if s.Macros == nil || len(ads) == 0 {
		return
	}
	mctx := &macros.ExpansionContext{
		RequestID: uuid.NewString(),
		Timestamp: time.Now(),
	}
	for i := range ads {
		if ads[i].ClickURL == "" {
			continue
		}
		mctx.AdID = ads[i].ID
		mctx.AdType = string(ads[i].Type)
		mctx.CampaignID = ""
		if ads[i].CampaignID != nil {
			mctx.CampaignID = *ads[i].CampaignID
		}
		mctx.Placement = placement.Resolve(ads[i].Type, requested)
		expanded, err := s.Macros.ExpandURL(ads[i].ClickURL, mctx)
		if err != nil {
			c.logger.Warn("click url left as stored", zap.String("ad_id", ads[i].ID), zap.Error(err))
			continue
		}
		ads[i].ClickURL = expanded
	}
}
