package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/config"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/logic"
	"github.com/patrickwarner/addelivery/internal/logic/filters"
	"github.com/patrickwarner/addelivery/internal/logic/selectors"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/reporting"
)

// toolTimeout bounds every tool call.
const toolTimeout = 10 * time.Second

type SelectAdsInput struct {
	Type      string `json:"type"`
	Placement string `json:"placement"`
	Limit     int    `json:"limit,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type SelectAdsOutput struct {
	Ads []models.Ad `json:"ads"`
}

type AdAnalyticsInput struct {
	AdID   string `json:"ad_id,omitempty"`
	Type   string `json:"type,omitempty"`
	Period string `json:"period,omitempty"`
	Days   int    `json:"days,omitempty"`
}

// DeliveryServer exposes the selection pipeline and the rollups to MCP
// clients.
type DeliveryServer struct {
	selector selectors.Selector
	reports  *reporting.Aggregator
	logger   *zap.Logger
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}, nil, nil
}

// SelectAds runs the same pipeline as GET /ads.
func (s *DeliveryServer) SelectAds(ctx context.Context, req *mcp.CallToolRequest, input SelectAdsInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	ads, err := s.selector.SelectAds(ctx, selectors.Request{
		Type:      input.Type,
		Placement: input.Placement,
		Limit:     input.Limit,
		UserID:    input.UserID,
	})
	if err != nil {
		if isInvalid(err) {
			return errorResult(err.Error())
		}
		return nil, nil, fmt.Errorf("select ads: %w", err)
	}
	s.logger.Info("select_ads",
		zap.String("type", input.Type),
		zap.String("placement", input.Placement),
		zap.Int("count", len(ads)))
	return jsonResult(SelectAdsOutput{Ads: ads})
}

// AdAnalytics returns the per-ad rollup when ad_id is set (plus the daily
// breakdown when days is set), otherwise the platform rollup.
func (s *DeliveryServer) AdAnalytics(ctx context.Context, req *mcp.CallToolRequest, input AdAnalyticsInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	period, _ := reporting.ParsePeriod(input.Period)
	if input.AdID != "" {
		if input.Days > 0 {
			report, err := s.reports.DailyBreakdown(ctx, input.AdID, input.Days)
			if err != nil {
				return s.lookupError(err)
			}
			return jsonResult(report)
		}
		summary, err := s.reports.AdSummary(ctx, input.AdID, period)
		if err != nil {
			return s.lookupError(err)
		}
		return jsonResult(summary)
	}

	var adType models.AdType
	if input.Type != "" {
		t, ok := models.ParseAdType(input.Type)
		if !ok {
			return errorResult("type must be AUDIO or BANNER")
		}
		adType = t
	}
	summary, err := s.reports.PlatformSummary(ctx, adType, period)
	if err != nil {
		return nil, nil, fmt.Errorf("platform summary: %w", err)
	}
	return jsonResult(summary)
}

func (s *DeliveryServer) lookupError(err error) (*mcp.CallToolResult, any, error) {
	if isNotFound(err) {
		return errorResult("ad not found")
	}
	if isInvalid(err) {
		return errorResult(err.Error())
	}
	return nil, nil, fmt.Errorf("ad analytics: %w", err)
}

func isInvalid(err error) bool  { return errors.Is(err, models.ErrInvalidInput) }
func isNotFound(err error) bool { return errors.Is(err, models.ErrNotFound) }

func registerTools(server *mcp.Server, d *DeliveryServer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_ads",
		Description: "Select the ads that would be served for a placement, ranked campaign-first then by fewest impressions",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"AUDIO", "BANNER"},
					"description": "Ad type",
				},
				"placement": map[string]interface{}{
					"type":        "string",
					"description": "Placement name; aliases such as 'homepage' or 'pre-roll' are accepted",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum number of ads (optional, defaults to 5)",
				},
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Requester id for frequency capping (optional)",
				},
			},
			"required": []string{"type", "placement"},
		},
	}, d.SelectAds)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ad_analytics",
		Description: "Impressions, clicks, completions and CTR for one ad or across the platform",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ad_id": map[string]interface{}{
					"type":        "string",
					"description": "Ad id (optional, platform-wide when omitted)",
				},
				"type": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"AUDIO", "BANNER"},
					"description": "Restrict platform totals to one ad type (optional)",
				},
				"period": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"1d", "7d", "30d"},
					"description": "Look-back window (optional, defaults to 7d)",
				},
				"days": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     reporting.MaxReportDays,
					"description": "With ad_id, return a per-day breakdown over this many days instead",
				},
			},
		},
	}, d.AdAnalytics)
}

func newLogger() (*zap.Logger, error) {
	// stdout carries the MCP protocol, so logs go to stderr.
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("addelivery-mcp").With(zap.String("service", "addelivery-mcp")), nil
}

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, 10, 5, 30*time.Minute, time.Minute)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	mem := analytics.NewMemoryEventLogWithRetention(cfg.EventRetentionDays)
	stopPrune := make(chan struct{})
	defer close(stopPrune)
	go mem.Run(time.Hour, stopPrune)
	var events analytics.EventLog = mem
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.EventRetentionDays, analytics.PoolOptions{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		})
		if err != nil {
			logger.Warn("ClickHouse unavailable, analytics will be empty", zap.Error(err))
		} else {
			defer ch.Close()
			events = ch
		}
	}

	// Without Redis the capper falls back to the event log.
	store, err := db.InitRedis(context.Background(), cfg.RedisAddr)
	if err != nil {
		logger.Warn("Redis unavailable, frequency caps read from the event log", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	capper := logic.NewFrequencyCapper(store, events, cfg.FrequencyCap, nil, logger)
	selector := selectors.NewRuleBasedSelector(
		filters.NewEligibility(pg, cfg.FallbackTolerance, cfg.MaxCandidates, nil, logger),
		capper,
	)
	selector.SetLogger(logger)
	selector.SetLimits(cfg.DefaultSelectLimit, cfg.MaxSelectLimit)

	d := &DeliveryServer{
		selector: selector,
		reports:  reporting.NewAggregator(pg, events, cfg.TopPerformers, logger),
		logger:   logger,
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "addelivery",
		Version: "1.0.0",
	}, nil)
	registerTools(server, d)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")
	if err := server.Run(context.Background(), transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
