package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/logic"
)

type impressionRequest struct {
	AdID       string         `json:"adId"`
	AdType     string         `json:"adType"`
	Placement  string         `json:"placement"`
	DeviceInfo map[string]any `json:"deviceInfo,omitempty"`
}

type interactionRequest struct {
	AdID         string `json:"adId"`
	AdType       string `json:"adType"`
	ImpressionID string `json:"impressionId,omitempty"`
	Placement    string `json:"placement,omitempty"`
}

type eventResponse struct {
	ID           string `json:"_id"`
	Message      string `json:"message"`
	AdID         string `json:"adId"`
	AdType       string `json:"adType"`
	Placement    string `json:"placement,omitempty"`
	ImpressionID string `json:"impressionId,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// admit applies the per-client rate limit and decodes the JSON body into v.
// It writes the error response itself and returns false when the request
// must stop.
func (c *call) admit(v any) bool {
	client := c.s.Proxies.ClientIP(c.r)
	if !c.s.Limiter.Allow(c.endpoint, client) {
		c.logger.Debug("rate limited", zap.String("client_ip", client))
		c.error(http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	body := http.MaxBytesReader(c.w, c.r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.error(http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		c.error(http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func eventSpan(r *http.Request, name, route string) (*http.Request, trace.Span) {
	ctx, span := tracer.Start(r.Context(), name,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
		))
	return r.WithContext(ctx), span
}

// ImpressionHandler handles POST /ads/impression. A new impression answers
// 201; a repeat inside the dedup window answers 200 with duplicate=true and
// the original id.
func (s *Server) ImpressionHandler(w http.ResponseWriter, r *http.Request) {
	r, span := eventSpan(r, "ImpressionHandler", "/ads/impression")
	defer span.End()
	c := s.begin(w, r, "/ads/impression")

	var req impressionRequest
	if !c.admit(&req) {
		return
	}

	ip := s.Proxies.ClientIP(r)
	ua := r.UserAgent()
	res, err := s.Recorder.RecordImpression(r.Context(), logic.ImpressionInput{
		AdID:      req.AdID,
		AdType:    req.AdType,
		Placement: req.Placement,
		UserID:    c.identity(),
		IPAddress: ip,
		UserAgent: ua,
		Device:    logic.ResolveDevice(s.GeoIP, ua, ip, req.DeviceInfo),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record impression failed")
		c.fail(err)
		return
	}
	span.SetAttributes(
		attribute.String("ad.id", res.AdID),
		attribute.String("impression.id", res.ID),
		attribute.Bool("impression.duplicate", res.Duplicate),
	)

	resp := eventResponse{
		ID:        res.ID,
		AdID:      res.AdID,
		AdType:    string(res.AdType),
		Placement: res.Placement,
		Duplicate: res.Duplicate,
	}
	if res.Duplicate {
		resp.Message = "Impression already recorded"
		c.json(http.StatusOK, resp)
		return
	}
	if c.sampled() {
		c.logger.Info("impression recorded", zap.String("ad_id", res.AdID), zap.String("placement", res.Placement))
	}
	resp.Message = "Impression recorded"
	c.json(http.StatusCreated, resp)
}

// ClickHandler handles POST /ads/click. Every click is stored.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	r, span := eventSpan(r, "ClickHandler", "/ads/click")
	defer span.End()
	c := s.begin(w, r, "/ads/click")

	var req interactionRequest
	if !c.admit(&req) {
		return
	}
	res, err := s.Recorder.RecordClick(r.Context(), logic.InteractionInput{
		AdID:         req.AdID,
		AdType:       req.AdType,
		ImpressionID: req.ImpressionID,
		UserID:       c.identity(),
		IPAddress:    s.Proxies.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record click failed")
		c.fail(err)
		return
	}
	span.SetAttributes(attribute.String("ad.id", res.AdID))
	if c.sampled() {
		c.logger.Info("click recorded", zap.String("ad_id", res.AdID))
	}
	c.json(http.StatusCreated, eventResponse{
		ID:           res.ID,
		Message:      "Click recorded",
		AdID:         res.AdID,
		AdType:       string(res.AdType),
		ImpressionID: req.ImpressionID,
	})
}

// CompletionHandler handles POST /ads/completion for audio plays that ran
// to the end.
func (s *Server) CompletionHandler(w http.ResponseWriter, r *http.Request) {
	r, span := eventSpan(r, "CompletionHandler", "/ads/completion")
	defer span.End()
	c := s.begin(w, r, "/ads/completion")

	var req interactionRequest
	if !c.admit(&req) {
		return
	}
	res, err := s.Recorder.RecordCompletion(r.Context(), logic.InteractionInput{
		AdID:         req.AdID,
		AdType:       req.AdType,
		ImpressionID: req.ImpressionID,
		Placement:    req.Placement,
		UserID:       c.identity(),
		IPAddress:    s.Proxies.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record completion failed")
		c.fail(err)
		return
	}
	span.SetAttributes(attribute.String("ad.id", res.AdID))
	if c.sampled() {
		c.logger.Info("completion recorded", zap.String("ad_id", res.AdID))
	}
	c.json(http.StatusCreated, eventResponse{
		ID:           res.ID,
		Message:      "Completion recorded",
		AdID:         res.AdID,
		AdType:       string(res.AdType),
		Placement:    res.Placement,
		ImpressionID: req.ImpressionID,
	})
}
