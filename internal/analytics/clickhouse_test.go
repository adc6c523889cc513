package analytics

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/patrickwarner/addelivery/internal/models"
)

func newMockClickHouse(t *testing.T) (*ClickHouse, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &ClickHouse{DB: db}, mock
}

func TestNilClickHouseUnavailable(t *testing.T) {
	var ch *ClickHouse
	if err := ch.InsertClick(context.Background(), models.ClickEvent{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := ch.CountEvents(context.Background(), EventQuery{Kind: models.EventClick}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEnsureSchemaAppliesRetention(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	for _, table := range []string{"ad_impressions", "ad_clicks", "ad_completions"} {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ` + table + `.*INTERVAL 90 DAY`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := ch.EnsureSchema(context.Background(), 90); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertImpressionEncodesDevice(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	ts := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ad_impressions")).
		WithArgs("imp1", "ad1", "BANNER", "", "HOME", "mobile", "US", `{"deviceType":"mobile","country":"US"}`, "1.2.3.4", "ua", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ch.InsertImpression(context.Background(), models.ImpressionEvent{
		ID: "imp1", AdID: "ad1", AdType: models.AdTypeBanner, Placement: "HOME",
		Device:    models.DeviceInfo{DeviceType: "mobile", Country: "US"},
		IPAddress: "1.2.3.4", UserAgent: "ua", Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("InsertImpression: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindRecentImpressionQuery(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	since := time.Now().Add(-30 * time.Second)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ad_id = ? AND timestamp >= ? AND (ip_address = ? OR user_id = ?) ORDER BY timestamp DESC LIMIT 1")).
		WithArgs("ad1", since, "1.2.3.4", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("imp1"))
	mock.ExpectQuery(regexp.QuoteMeta("(ip_address = ?)")).
		WithArgs("ad1", since, "1.2.3.4").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, ok, err := ch.FindRecentImpression(context.Background(), "ad1", "1.2.3.4", "u1", since)
	if err != nil || !ok || id != "imp1" {
		t.Fatalf("got (%q, %v, %v)", id, ok, err)
	}
	_, ok, err = ch.FindRecentImpression(context.Background(), "ad1", "1.2.3.4", "", since)
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
	// nothing to match on
	if _, ok, _ = ch.FindRecentImpression(context.Background(), "ad1", "", "", since); ok {
		t.Fatalf("expected no match without ip or user")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountEventsFilters(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	from, to := time.Now().Add(-time.Hour), time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count() FROM ad_clicks WHERE timestamp >= ? AND timestamp <= ? AND ad_type = ?")).
		WithArgs(from, to, "AUDIO").
		WillReturnRows(sqlmock.NewRows([]string{"count()"}).AddRow(uint64(12)))

	n, err := ch.CountEvents(context.Background(), EventQuery{Kind: models.EventClick, AdType: models.AdTypeAudio, From: from, To: to})
	if err != nil || n != 12 {
		t.Fatalf("CountEvents = %d, %v", n, err)
	}
	if _, err := ch.CountEvents(context.Background(), EventQuery{Kind: "view"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTopAdsByImpressions(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	from, to := time.Now().Add(-time.Hour), time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY ad_id ORDER BY c DESC, ad_id ASC LIMIT 5")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"ad_id", "any(ad_type)", "c"}).
			AddRow("a", "BANNER", uint64(9)).
			AddRow("b", "AUDIO", uint64(4)))

	top, err := ch.TopAdsByImpressions(context.Background(), "", from, to, 5)
	if err != nil {
		t.Fatalf("TopAdsByImpressions: %v", err)
	}
	if len(top) != 2 || top[0].AdID != "a" || top[0].Count != 9 || top[1].AdType != models.AdTypeAudio {
		t.Fatalf("unexpected top ads %+v", top)
	}
}

func TestDailyCountsMergesKinds(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	to := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -1)
	day1 := "2024-06-01"
	day2 := "2024-06-02"

	mock.ExpectQuery(regexp.QuoteMeta("SELECT toString(toDate(timestamp, 'UTC')) AS day, count() FROM ad_impressions")).WithArgs("ad1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count()"}).AddRow(day1, uint64(3)).AddRow(day2, uint64(5)))
	mock.ExpectQuery("FROM ad_clicks").WithArgs("ad1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count()"}).AddRow(day2, uint64(1)))
	mock.ExpectQuery("FROM ad_completions").WithArgs("ad1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count()"}))

	days, err := ch.DailyCounts(context.Background(), "ad1", from, to)
	if err != nil {
		t.Fatalf("DailyCounts: %v", err)
	}
	want := []DayCount{{Day: "2024-06-01", Impressions: 3}, {Day: "2024-06-02", Impressions: 5, Clicks: 1}}
	if len(days) != len(want) {
		t.Fatalf("got %+v", days)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("day %d = %+v, want %+v", i, days[i], want[i])
		}
	}
}

func TestDailyCountsBucketsInCallerZone(t *testing.T) {
	ch, mock := newMockClickHouse(t)
	east := time.FixedZone("east", 3*3600)
	to := time.Date(2024, 6, 2, 12, 0, 0, 0, east)
	from := time.Date(2024, 6, 2, 0, 0, 0, 0, east)

	for _, table := range []string{"ad_impressions", "ad_clicks", "ad_completions"} {
		mock.ExpectQuery(regexp.QuoteMeta("toDate(timestamp, 'Etc/GMT-3')) AS day, count() FROM " + table)).
			WithArgs("ad1", from, to).
			WillReturnRows(sqlmock.NewRows([]string{"day", "count()"}))
	}
	if _, err := ch.DailyCounts(context.Background(), "ad1", from, to); err != nil {
		t.Fatalf("DailyCounts: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClickHouseZone(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"utc", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "UTC"},
		{"fixed east", time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 5*3600)), "Etc/GMT-5"},
		{"fixed west", time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("y", -7*3600)), "Etc/GMT+7"},
		{"half hour offset", time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("z", 5*3600+1800)), "UTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clickHouseZone(tt.at); got != tt.want {
				t.Fatalf("clickHouseZone = %q, want %q", got, tt.want)
			}
		})
	}
}
