package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/models"
)

// Postgres wraps a postgres DB connection and serves the ad tables.
type Postgres struct {
	DB *sql.DB
}

var _ models.AdStore = (*Postgres)(nil)

// InitPostgres connects to Postgres with connection pooling configuration and
// applies the embedded schema migrations.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return &Postgres{DB: db}, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// adTable maps an ad type onto its table. Table names never come from input.
func adTable(t models.AdType) (string, error) {
	switch t {
	case models.AdTypeBanner:
		return "banner_ads", nil
	case models.AdTypeAudio:
		return "audio_ads", nil
	}
	return "", fmt.Errorf("%w: unknown ad type %q", models.ErrInvalidInput, t)
}

// counterColumn whitelists the counters IncrementCounter may touch.
func counterColumn(c models.Counter) (string, error) {
	switch c {
	case models.CounterImpressions, models.CounterClicks, models.CounterCompletions:
		return string(c), nil
	}
	return "", fmt.Errorf("%w: unknown counter %q", models.ErrInvalidInput, c)
}

// adColumns returns the select list for a table. Banner ads carry no audio
// creative so those columns are filled with NULLs.
func adColumns(t models.AdType) string {
	audio := "audio_url, duration"
	if t == models.AdTypeBanner {
		audio = "NULL::text AS audio_url, NULL::int AS duration"
	}
	return "id, title, image_url, " + audio + `, click_url, status, approved, is_deleted,
        placements, campaign_id, remaining_budget, start_at, end_at,
        impressions, clicks, completions, revenue, created_at, updated_at`
}

// selectableClause is the base eligibility invariant shared by every query.
const selectableClause = `status = 'ACTIVE' AND approved AND is_deleted IS NOT TRUE`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(row rowScanner, t models.AdType) (models.Ad, error) {
	var (
		a          models.Ad
		audioURL   sql.NullString
		duration   sql.NullInt64
		deleted    sql.NullBool
		campaignID sql.NullString
		budget     sql.NullFloat64
		start, end sql.NullTime
		placements []string
	)
	err := row.Scan(&a.ID, &a.Title, &a.ImageURL, &audioURL, &duration, &a.ClickURL,
		&a.Status, &a.Approved, &deleted, pq.Array(&placements), &campaignID, &budget,
		&start, &end, &a.Impressions, &a.Clicks, &a.Completions, &a.Revenue,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	a.Type = t
	a.Placements = placements
	if audioURL.Valid {
		a.AudioURL = audioURL.String
	}
	if duration.Valid {
		a.DurationSeconds = int(duration.Int64)
	}
	if deleted.Valid {
		a.IsDeleted = &deleted.Bool
	}
	if campaignID.Valid {
		a.CampaignID = &campaignID.String
	}
	if budget.Valid {
		a.RemainingBudget = &budget.Float64
	}
	if start.Valid {
		a.StartAt = &start.Time
	}
	if end.Valid {
		a.EndAt = &end.Time
	}
	return a, nil
}

// FindEligibleAds implements models.AdStore. Placement matching uses array
// overlap so any stored variant matches.
func (p *Postgres) FindEligibleAds(ctx context.Context, q models.EligibilityQuery) ([]models.Ad, error) {
	table, err := adTable(q.Type)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s AND placements && $1", adColumns(q.Type), table, selectableClause)
	sb.WriteString(" AND (remaining_budget IS NULL OR remaining_budget > 0)")
	args := []any{pq.Array(q.Placements)}
	if q.EnforceSchedule {
		sb.WriteString(" AND (start_at IS NULL OR start_at <= $2) AND (end_at IS NULL OR end_at >= $3)")
		args = append(args, q.Now.Add(q.Tolerance), q.Now.Add(-q.Tolerance))
	}
	// Same order as the ranker, so LIMIT keeps the best candidates.
	sb.WriteString(" ORDER BY (campaign_id IS NULL), impressions ASC, created_at ASC")
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := p.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ads []models.Ad
	for rows.Next() {
		a, err := scanAd(rows, q.Type)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ads = append(ads, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ads, nil
}

// GetAd implements models.AdStore, checking each ad table in turn.
func (p *Postgres) GetAd(ctx context.Context, id string) (*models.Ad, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	for _, t := range models.AdTypes() {
		table, _ := adTable(t)
		row := p.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", adColumns(t), table), id)
		a, err := scanAd(row, t)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get ad from %s: %w", table, err)
		}
		return &a, nil
	}
	return nil, models.ErrNotFound
}

// GetTitles implements models.AdStore.
func (p *Postgres) GetTitles(ctx context.Context, ids []string) (map[string]string, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	out := make(map[string]string, len(valid))
	if len(valid) == 0 {
		return out, nil
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT id, title FROM banner_ads WHERE id = ANY($1)
        UNION ALL SELECT id, title FROM audio_ads WHERE id = ANY($1)`, pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("query titles: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		out[id] = title
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// IncrementCounter implements models.AdStore with a single atomic UPDATE.
func (p *Postgres) IncrementCounter(ctx context.Context, adType models.AdType, adID string, c models.Counter) error {
	table, err := adTable(adType)
	if err != nil {
		return err
	}
	col, err := counterColumn(c)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(adID); err != nil {
		return models.ErrNotFound
	}
	res, err := p.DB.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = %s + 1, updated_at = now() WHERE id = $1", table, col, col), adID)
	if err != nil {
		return fmt.Errorf("increment %s.%s: %w", table, col, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountActiveAds implements models.AdStore.
func (p *Postgres) CountActiveAds(ctx context.Context, adType models.AdType) (int64, error) {
	table, err := adTable(adType)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := p.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, selectableClause)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// InsertCampaign stores a campaign, generating its ID when empty.
func (p *Postgres) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO campaigns (id, name, budget) VALUES ($1,$2,$3)`, c.ID, c.Name, c.Budget)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// InsertAd stores an ad in its type's table, generating its ID when empty.
// Used by the seeding tool; the delivery path never writes ads.
func (p *Postgres) InsertAd(ctx context.Context, a *models.Ad) error {
	table, err := adTable(a.Type)
	if err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	args := []any{a.ID, a.Title, a.ImageURL, a.ClickURL, a.Status, a.Approved, a.IsDeleted,
		pq.Array(a.Placements), a.CampaignID, a.RemainingBudget, a.StartAt, a.EndAt}
	cols := "id, title, image_url, click_url, status, approved, is_deleted, placements, campaign_id, remaining_budget, start_at, end_at"
	if a.Type == models.AdTypeAudio {
		cols += ", audio_url, duration"
		args = append(args, a.AudioURL, a.DurationSeconds)
	}
	ph := make([]string, len(args))
	for i := range args {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	_, err = p.DB.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, strings.Join(ph, ",")), args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// DeleteAll clears every ad and campaign. Only the seeding tool calls it.
func (p *Postgres) DeleteAll(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, `TRUNCATE banner_ads, audio_ads, campaigns`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}
