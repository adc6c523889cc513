package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/patrickwarner/addelivery/internal/models"
)

const (
	bannerID = "6f1c1c39-1f5e-4c1b-9d7b-0a4d7f3a8a01"
	audioID  = "0b9d2f4e-8c51-4a5e-9f0e-2e3b7c1d4a02"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Postgres{DB: db}, mock
}

var adRowColumns = []string{"id", "title", "image_url", "audio_url", "duration", "click_url",
	"status", "approved", "is_deleted", "placements", "campaign_id", "remaining_budget",
	"start_at", "end_at", "impressions", "clicks", "completions", "revenue", "created_at", "updated_at"}

func TestFindEligibleAdsStrict(t *testing.T) {
	pg, mock := newMockPostgres(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	campaign := "c1"

	rows := sqlmock.NewRows(adRowColumns).
		AddRow(bannerID, "Spring", "https://img", nil, nil, "https://click", "ACTIVE", true, nil,
			"{HOME,home}", campaign, 12.5, now.Add(-time.Hour), nil, int64(4), int64(1), int64(0), 0.0, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM banner_ads WHERE status = 'ACTIVE' AND approved AND is_deleted IS NOT TRUE AND placements && $1 AND (remaining_budget IS NULL OR remaining_budget > 0) AND (start_at IS NULL OR start_at <= $2) AND (end_at IS NULL OR end_at >= $3) ORDER BY (campaign_id IS NULL), impressions ASC, created_at ASC LIMIT 10")).
		WithArgs(sqlmock.AnyArg(), now, now).
		WillReturnRows(rows)

	ads, err := pg.FindEligibleAds(context.Background(), models.EligibilityQuery{
		Type:            models.AdTypeBanner,
		Placements:      []string{"HOME", "home"},
		Now:             now,
		EnforceSchedule: true,
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("FindEligibleAds: %v", err)
	}
	if len(ads) != 1 {
		t.Fatalf("expected 1 ad, got %d", len(ads))
	}
	a := ads[0]
	if a.Type != models.AdTypeBanner || a.ID != bannerID || !a.HasCampaign() || a.Impressions != 4 {
		t.Fatalf("unexpected ad %+v", a)
	}
	if len(a.Placements) != 2 || a.Placements[0] != "HOME" {
		t.Fatalf("placements not scanned: %v", a.Placements)
	}
	if a.RemainingBudget == nil || *a.RemainingBudget != 12.5 || a.EndAt != nil || a.StartAt == nil {
		t.Fatalf("nullable columns not scanned: %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindEligibleAdsToleranceWidensSchedule(t *testing.T) {
	pg, mock := newMockPostgres(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM audio_ads WHERE .* start_at <= \$2\) AND \(end_at IS NULL OR end_at >= \$3\) ORDER BY`).
		WithArgs(sqlmock.AnyArg(), now.Add(5*time.Minute), now.Add(-5*time.Minute)).
		WillReturnRows(sqlmock.NewRows(adRowColumns))

	_, err := pg.FindEligibleAds(context.Background(), models.EligibilityQuery{
		Type:            models.AdTypeAudio,
		Placements:      []string{"PRE_ROLL"},
		Now:             now,
		EnforceSchedule: true,
		Tolerance:       5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("FindEligibleAds: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindEligibleAdsWithoutSchedule(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(`FROM audio_ads WHERE .* placements && \$1 AND \(remaining_budget IS NULL OR remaining_budget > 0\) ORDER BY \(campaign_id IS NULL\), impressions ASC, created_at ASC LIMIT 5$`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(adRowColumns))

	ads, err := pg.FindEligibleAds(context.Background(), models.EligibilityQuery{
		Type:       models.AdTypeAudio,
		Placements: []string{"PRE_ROLL"},
		Limit:      5,
	})
	if err != nil || len(ads) != 0 {
		t.Fatalf("got %v, %v", ads, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindEligibleAdsUnknownType(t *testing.T) {
	pg, _ := newMockPostgres(t)
	_, err := pg.FindEligibleAds(context.Background(), models.EligibilityQuery{Type: "VIDEO"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetAdFallsThroughTables(t *testing.T) {
	pg, mock := newMockPostgres(t)
	now := time.Now()
	mock.ExpectQuery(`FROM audio_ads WHERE id = \$1`).WithArgs(bannerID).
		WillReturnRows(sqlmock.NewRows(adRowColumns))
	mock.ExpectQuery(`FROM banner_ads WHERE id = \$1`).WithArgs(bannerID).
		WillReturnRows(sqlmock.NewRows(adRowColumns).AddRow(bannerID, "B", "", nil, nil, "", "ACTIVE",
			true, false, "{}", nil, nil, nil, nil, int64(0), int64(0), int64(0), 0.0, now, now))

	a, err := pg.GetAd(context.Background(), bannerID)
	if err != nil {
		t.Fatalf("GetAd: %v", err)
	}
	if a.Type != models.AdTypeBanner || a.IsDeleted == nil || *a.IsDeleted {
		t.Fatalf("unexpected ad %+v", a)
	}
}

func TestGetAdNotFound(t *testing.T) {
	pg, mock := newMockPostgres(t)
	if _, err := pg.GetAd(context.Background(), "not-a-uuid"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
	mock.ExpectQuery(`FROM audio_ads`).WillReturnRows(sqlmock.NewRows(adRowColumns))
	mock.ExpectQuery(`FROM banner_ads`).WillReturnRows(sqlmock.NewRows(adRowColumns))
	if _, err := pg.GetAd(context.Background(), audioID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementCounter(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audio_ads SET completions = completions + 1, updated_at = now() WHERE id = $1")).
		WithArgs(audioID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE banner_ads SET clicks = clicks \+ 1`).
		WithArgs(bannerID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := pg.IncrementCounter(context.Background(), models.AdTypeAudio, audioID, models.CounterCompletions); err != nil {
		t.Fatalf("increment: %v", err)
	}
	err := pg.IncrementCounter(context.Background(), models.AdTypeBanner, bannerID, models.CounterClicks)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
	if err := pg.IncrementCounter(context.Background(), models.AdTypeBanner, bannerID, "revenue"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected counter whitelist rejection, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetTitlesAndCount(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT id, title FROM banner_ads WHERE id = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(bannerID, "Banner").AddRow(audioID, "Audio"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM banner_ads WHERE status = 'ACTIVE'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	titles, err := pg.GetTitles(context.Background(), []string{bannerID, audioID, "bogus"})
	if err != nil || len(titles) != 2 || titles[audioID] != "Audio" {
		t.Fatalf("titles = %v, %v", titles, err)
	}
	n, err := pg.CountActiveAds(context.Background(), models.AdTypeBanner)
	if err != nil || n != 7 {
		t.Fatalf("count = %d, %v", n, err)
	}
}
