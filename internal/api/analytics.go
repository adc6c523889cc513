package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/reporting"
)

// AnalyticsHandler handles GET /ads/analytics. With adId it returns that
// ad's rollup, otherwise the platform rollup, optionally narrowed to one
// type. An unrecognised period falls back to 7d.
func (s *Server) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AnalyticsHandler",
		trace.WithAttributes(attribute.String("http.route", "/ads/analytics")))
	defer span.End()
	c := s.begin(w, r.WithContext(ctx), "/ads/analytics")

	q := r.URL.Query()
	period, _ := reporting.ParsePeriod(q.Get("period"))
	span.SetAttributes(attribute.String("analytics.period", string(period)))

	if adID := strings.TrimSpace(q.Get("adId")); adID != "" {
		if _, err := uuid.Parse(adID); err != nil {
			c.error(http.StatusBadRequest, "invalid adId")
			return
		}
		summary, err := s.Reports.AdSummary(ctx, adID, period)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ad summary failed")
			c.fail(err)
			return
		}
		c.json(http.StatusOK, summary)
		return
	}

	var adType models.AdType
	if raw := q.Get("type"); raw != "" {
		t, ok := models.ParseAdType(raw)
		if !ok {
			c.error(http.StatusBadRequest, "type must be AUDIO or BANNER")
			return
		}
		adType = t
	}
	summary, err := s.Reports.PlatformSummary(ctx, adType, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "platform summary failed")
		c.fail(err)
		return
	}
	c.json(http.StatusOK, summary)
}

// AdReportHandler handles GET /ads/{id}/report?days=N with a per-day
// breakdown. days defaults to 7 and is capped at 90.
func (s *Server) AdReportHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AdReportHandler",
		trace.WithAttributes(attribute.String("http.route", "/ads/{id}/report")))
	defer span.End()
	c := s.begin(w, r.WithContext(ctx), "/ads/{id}/report")

	adID := mux.Vars(r)["id"]
	if _, err := uuid.Parse(adID); err != nil {
		c.error(http.StatusBadRequest, "invalid ad id")
		return
	}
	days := reporting.DefaultReportDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.error(http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	report, err := s.Reports.DailyBreakdown(ctx, adID, days)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "daily breakdown failed")
		c.fail(err)
		return
	}
	c.json(http.StatusOK, report)
}
