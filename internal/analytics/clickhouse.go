package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/addelivery/internal/models"
)

// ClickHouse stores the three event logs in MergeTree tables ordered by
// (ad_id, timestamp). Rows expire through a table TTL.
type ClickHouse struct {
	DB *sql.DB
}

var _ EventLog = (*ClickHouse)(nil)

// PoolOptions configures the ClickHouse connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

var eventTables = map[models.EventKind]string{
	models.EventImpression: "ad_impressions",
	models.EventClick:      "ad_clicks",
	models.EventCompletion: "ad_completions",
}

// schemaStatements creates the event tables. The bloom filter indexes serve
// the dedup and capping lookups by user and network address.
func schemaStatements(retentionDays int) []string {
	ttl := fmt.Sprintf("TTL toDateTime(timestamp) + INTERVAL %d DAY", retentionDays)
	return []string{
		`CREATE TABLE IF NOT EXISTS ad_impressions (
            id          String,
            ad_id       String,
            ad_type     LowCardinality(String),
            user_id     String,
            placement   LowCardinality(String),
            device_type LowCardinality(String),
            country     LowCardinality(String),
            device_info String,
            ip_address  String,
            user_agent  String,
            timestamp   DateTime64(3),
            INDEX idx_user user_id TYPE bloom_filter GRANULARITY 4,
            INDEX idx_ip ip_address TYPE bloom_filter GRANULARITY 4
        ) ENGINE = MergeTree() ORDER BY (ad_id, timestamp) ` + ttl,
		`CREATE TABLE IF NOT EXISTS ad_clicks (
            id            String,
            ad_id         String,
            ad_type       LowCardinality(String),
            impression_id String,
            user_id       String,
            ip_address    String,
            user_agent    String,
            timestamp     DateTime64(3)
        ) ENGINE = MergeTree() ORDER BY (ad_id, timestamp) ` + ttl,
		`CREATE TABLE IF NOT EXISTS ad_completions (
            id            String,
            ad_id         String,
            ad_type       LowCardinality(String),
            impression_id String,
            user_id       String,
            placement     LowCardinality(String),
            ip_address    String,
            user_agent    String,
            timestamp     DateTime64(3)
        ) ENGINE = MergeTree() ORDER BY (ad_id, timestamp) ` + ttl,
	}
}

// InitClickHouse connects to ClickHouse and ensures the event tables exist.
func InitClickHouse(dsn string, retentionDays int, pool PoolOptions) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	ch := &ClickHouse{DB: db}
	if err := ch.EnsureSchema(ctx, retentionDays); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to ClickHouse", zap.Int("retention_days", retentionDays))
	return ch, nil
}

// EnsureSchema creates any missing event table.
func (c *ClickHouse) EnsureSchema(ctx context.Context, retentionDays int) error {
	for _, stmt := range schemaStatements(retentionDays) {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse create table: %w", err)
		}
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

func (c *ClickHouse) available() error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	return nil
}

// InsertImpression implements EventLog.
func (c *ClickHouse) InsertImpression(ctx context.Context, ev models.ImpressionEvent) error {
	if err := c.available(); err != nil {
		return err
	}
	info, err := json.Marshal(ev.Device)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	_, err = c.DB.ExecContext(ctx, `INSERT INTO ad_impressions (id, ad_id, ad_type, user_id, placement, device_type, country, device_info, ip_address, user_agent, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AdID, string(ev.AdType), ev.UserID, ev.Placement, ev.Device.DeviceType, ev.Device.Country, string(info), ev.IPAddress, ev.UserAgent, ev.Timestamp)
	if err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", string(models.EventImpression)))
		return fmt.Errorf("insert impression: %w", err)
	}
	return nil
}

// InsertClick implements EventLog.
func (c *ClickHouse) InsertClick(ctx context.Context, ev models.ClickEvent) error {
	if err := c.available(); err != nil {
		return err
	}
	_, err := c.DB.ExecContext(ctx, `INSERT INTO ad_clicks (id, ad_id, ad_type, impression_id, user_id, ip_address, user_agent, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AdID, string(ev.AdType), ev.ImpressionID, ev.UserID, ev.IPAddress, ev.UserAgent, ev.Timestamp)
	if err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", string(models.EventClick)))
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

// InsertCompletion implements EventLog.
func (c *ClickHouse) InsertCompletion(ctx context.Context, ev models.CompletionEvent) error {
	if err := c.available(); err != nil {
		return err
	}
	_, err := c.DB.ExecContext(ctx, `INSERT INTO ad_completions (id, ad_id, ad_type, impression_id, user_id, placement, ip_address, user_agent, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AdID, string(ev.AdType), ev.ImpressionID, ev.UserID, ev.Placement, ev.IPAddress, ev.UserAgent, ev.Timestamp)
	if err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", string(models.EventCompletion)))
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// FindRecentImpression implements EventLog.
func (c *ClickHouse) FindRecentImpression(ctx context.Context, adID, ip, userID string, since time.Time) (string, bool, error) {
	if err := c.available(); err != nil {
		return "", false, err
	}
	var match []string
	args := []any{adID, since}
	if ip != "" {
		match = append(match, "ip_address = ?")
		args = append(args, ip)
	}
	if userID != "" {
		match = append(match, "user_id = ?")
		args = append(args, userID)
	}
	if len(match) == 0 {
		return "", false, nil
	}
	q := `SELECT id FROM ad_impressions WHERE ad_id = ? AND timestamp >= ? AND (` +
		strings.Join(match, " OR ") + `) ORDER BY timestamp DESC LIMIT 1`
	var id string
	err := c.DB.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find recent impression: %w", err)
	}
	return id, true, nil
}

// ImpressionCountsSince implements EventLog.
func (c *ClickHouse) ImpressionCountsSince(ctx context.Context, userID string, since time.Time) (map[string]int64, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	rows, err := c.DB.QueryContext(ctx, `SELECT ad_id, count() FROM ad_impressions WHERE user_id = ? AND timestamp >= ? GROUP BY ad_id`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query user impressions: %w", err)
	}
	defer closeRows(rows)

	out := make(map[string]int64)
	for rows.Next() {
		var adID string
		var n uint64
		if err := rows.Scan(&adID, &n); err != nil {
			return nil, fmt.Errorf("scan user impressions: %w", err)
		}
		out[adID] = int64(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// CountEvents implements EventLog.
func (c *ClickHouse) CountEvents(ctx context.Context, q EventQuery) (int64, error) {
	if err := c.available(); err != nil {
		return 0, err
	}
	table, ok := eventTables[q.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown event kind %q", models.ErrInvalidInput, q.Kind)
	}
	stmt := "SELECT count() FROM " + table + " WHERE timestamp >= ? AND timestamp <= ?"
	args := []any{q.From, q.To}
	if q.AdID != "" {
		stmt += " AND ad_id = ?"
		args = append(args, q.AdID)
	}
	if q.AdType != "" {
		stmt += " AND ad_type = ?"
		args = append(args, string(q.AdType))
	}
	var n uint64
	if err := c.DB.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int64(n), nil
}

// TopAdsByImpressions implements EventLog.
func (c *ClickHouse) TopAdsByImpressions(ctx context.Context, adType models.AdType, from, to time.Time, n int) ([]AdCount, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	stmt := "SELECT ad_id, any(ad_type), count() AS c FROM ad_impressions WHERE timestamp >= ? AND timestamp <= ?"
	args := []any{from, to}
	if adType != "" {
		stmt += " AND ad_type = ?"
		args = append(args, string(adType))
	}
	stmt += fmt.Sprintf(" GROUP BY ad_id ORDER BY c DESC, ad_id ASC LIMIT %d", n)

	rows, err := c.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query top ads: %w", err)
	}
	defer closeRows(rows)

	var out []AdCount
	for rows.Next() {
		var ac AdCount
		var typ string
		var cnt uint64
		if err := rows.Scan(&ac.AdID, &typ, &cnt); err != nil {
			return nil, fmt.Errorf("scan top ads: %w", err)
		}
		ac.AdType = models.AdType(typ)
		ac.Count = int64(cnt)
		out = append(out, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// DailyCounts implements EventLog.
func (c *ClickHouse) DailyCounts(ctx context.Context, adID string, from, to time.Time) ([]DayCount, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	// Days are cut in the caller's zone, not the server's.
	zone := clickHouseZone(from)
	found := make(map[string]*DayCount)
	for _, kind := range []models.EventKind{models.EventImpression, models.EventClick, models.EventCompletion} {
		stmt := "SELECT toString(toDate(timestamp, '" + zone + "')) AS day, count() FROM " + eventTables[kind] +
			" WHERE ad_id = ? AND timestamp >= ? AND timestamp <= ? GROUP BY day ORDER BY day"
		rows, err := c.DB.QueryContext(ctx, stmt, adID, from, to)
		if err != nil {
			return nil, fmt.Errorf("query daily %s: %w", kind, err)
		}
		for rows.Next() {
			var key string
			var n uint64
			if err := rows.Scan(&key, &n); err != nil {
				closeRows(rows)
				return nil, fmt.Errorf("scan daily %s: %w", kind, err)
			}
			dc, ok := found[key]
			if !ok {
				dc = &DayCount{Day: key}
				found[key] = dc
			}
			switch kind {
			case models.EventImpression:
				dc.Impressions = int64(n)
			case models.EventClick:
				dc.Clicks = int64(n)
			case models.EventCompletion:
				dc.Completions = int64(n)
			}
		}
		err = rows.Err()
		closeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
	}
	return fillDays(from, to, found), nil
}

// RecentImpressions implements EventLog.
func (c *ClickHouse) RecentImpressions(ctx context.Context, adID string, n int) ([]models.ImpressionEvent, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	rows, err := c.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id, ad_id, ad_type, user_id, placement, device_info, ip_address, user_agent, timestamp FROM ad_impressions WHERE ad_id = ? ORDER BY timestamp DESC LIMIT %d`, n), adID)
	if err != nil {
		return nil, fmt.Errorf("query impressions: %w", err)
	}
	defer closeRows(rows)

	var events []models.ImpressionEvent
	for rows.Next() {
		var ev models.ImpressionEvent
		var typ, info string
		if err := rows.Scan(&ev.ID, &ev.AdID, &typ, &ev.UserID, &ev.Placement, &info, &ev.IPAddress, &ev.UserAgent, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan impression: %w", err)
		}
		ev.AdType = models.AdType(typ)
		if info != "" {
			if err := json.Unmarshal([]byte(info), &ev.Device); err != nil {
				zap.L().Warn("bad device info", zap.String("impression_id", ev.ID), zap.Error(err))
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("rows close", zap.Error(err))
	}
}

var zoneName = regexp.MustCompile(`^[A-Za-z0-9_+\-]+(/[A-Za-z0-9_+\-]+)*$`)

// clickHouseZone names t's time zone the way ClickHouse expects (IANA). The
// process-local zone is resolved through TZ or /etc/localtime; anything that
// still has no usable name falls back to the Etc/GMT zone for t's offset.
func clickHouseZone(t time.Time) string {
	if name := t.Location().String(); name != "Local" && validZone(name) {
		return name
	}
	if t.Location() == time.Local {
		if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); validZone(tz) {
			return tz
		}
		if target, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
			if _, name, ok := strings.Cut(target, "zoneinfo/"); ok && validZone(name) {
				return name
			}
		}
	}
	_, offset := t.Zone()
	if offset == 0 || offset%3600 != 0 {
		return "UTC"
	}
	// Etc/GMT signs are inverted: Etc/GMT-3 is three hours east of UTC.
	return fmt.Sprintf("Etc/GMT%+d", -offset/3600)
}

func validZone(name string) bool {
	if name == "" || !zoneName.MatchString(name) {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}
