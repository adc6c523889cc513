// Ad Report Tool prints performance rollups straight from the stores.
//
// Usage:
//
//	go run ./tools/ad_report -ad-id=<uuid> -days=30
//	go run ./tools/ad_report -type=AUDIO -period=30d
//
// With -ad-id the report shows the ad's totals and a per-day table. Without
// it the platform rollup is printed: totals, active ads per type and the top
// performers by impressions.
//
// Connections come from POSTGRES_DSN and CLICKHOUSE_DSN (see internal/config).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/config"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/reporting"
)

const rule = "───────────────────────────────────────────────────────────────────────"

func main() {
	var (
		adID    = flag.String("ad-id", "", "ad to report on (platform-wide when empty)")
		days    = flag.Int("days", reporting.DefaultReportDays, "days in the per-ad breakdown")
		typeArg = flag.String("type", "", "restrict the platform report to AUDIO or BANNER")
		period  = flag.String("period", "7d", "platform look-back window: 1d, 7d or 30d")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, 2, 1, 5*time.Minute, time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to Postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.EventRetentionDays, analytics.PoolOptions{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer ch.Close()

	agg := reporting.NewAggregator(pg, ch, cfg.TopPerformers, zap.NewNop())
	ctx := context.Background()

	if *adID != "" {
		report, err := agg.DailyBreakdown(ctx, *adID, *days)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
			os.Exit(1)
		}
		printAdReport(report)
		return
	}

	var adType models.AdType
	if *typeArg != "" {
		t, ok := models.ParseAdType(*typeArg)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: -type must be AUDIO or BANNER\n")
			os.Exit(1)
		}
		adType = t
	}
	p, ok := reporting.ParsePeriod(*period)
	if !ok {
		fmt.Fprintf(os.Stderr, "Warning: unknown period %q, using %s\n", *period, p)
	}
	summary, err := agg.PlatformSummary(ctx, adType, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}
	printPlatformReport(summary)
}

func printTotals(t reporting.Totals) {
	fmt.Printf("Impressions:      %s\n", formatNumber(t.Impressions))
	fmt.Printf("Clicks:           %s\n", formatNumber(t.Clicks))
	fmt.Printf("Completions:      %s\n", formatNumber(t.Completions))
	fmt.Printf("CTR:              %s%%\n", t.CTR)
	fmt.Printf("Completion rate:  %s%%\n", t.CompletionRate)
}

func printAdReport(r *reporting.AdReport) {
	fmt.Println(rule)
	fmt.Printf("AD PERFORMANCE REPORT: %s (%s)\n", r.Title, r.Type)
	fmt.Println(rule)
	fmt.Printf("Ad ID:   %s\n", r.AdID)
	fmt.Printf("Period:  %d days (ending %s)\n\n", r.Days, time.Now().Format("2006-01-02"))

	printTotals(r.Totals)
	fmt.Println()

	fmt.Println("Date        | Impressions |   Clicks | Completions |    CTR")
	fmt.Println("------------|-------------|----------|-------------|--------")
	for _, d := range r.Daily {
		fmt.Printf("%-11s | %11s | %8s | %11s | %5s%%\n",
			d.Day,
			formatNumber(d.Impressions),
			formatNumber(d.Clicks),
			formatNumber(d.Completions),
			d.CTR,
		)
	}
	fmt.Println(rule)
}

func printPlatformReport(s *reporting.PlatformSummary) {
	scope := "ALL ADS"
	if s.Type != "" {
		scope = string(s.Type) + " ADS"
	}
	fmt.Println(rule)
	fmt.Printf("PLATFORM REPORT: %s, last %s\n", scope, s.Period)
	fmt.Println(rule)

	printTotals(s.Totals)
	for _, t := range models.AdTypes() {
		if n, ok := s.ActiveAds[t]; ok {
			fmt.Printf("Active %-9s %d\n", strings.ToLower(string(t))+":", n)
		}
	}
	fmt.Println()

	if len(s.TopPerformers) == 0 {
		fmt.Println("No impressions in this window.")
		fmt.Println(rule)
		return
	}
	fmt.Println("Rank | Ad                                   | Impressions |   Clicks |    CTR")
	fmt.Println("-----|--------------------------------------|-------------|----------|--------")
	for i, p := range s.TopPerformers {
		name := p.Title
		if name == "" {
			name = p.AdID
		}
		fmt.Printf("%4d | %-36.36s | %11s | %8s | %5s%%\n",
			i+1, name, formatNumber(p.Impressions), formatNumber(p.Clicks), p.CTR)
	}
	fmt.Println(rule)
}

// formatNumber adds thousands separators: 1234567 becomes "1,234,567".
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	var b strings.Builder
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	return b.String()
}
