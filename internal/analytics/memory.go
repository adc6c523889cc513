package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickwarner/addelivery/internal/models"
)

// MemoryEventLog keeps events in process. It backs tests and runs the server
// when no ClickHouse DSN is configured. With a retention set, Prune drops
// events older than the horizon, matching the ClickHouse table TTL.
type MemoryEventLog struct {
	mu          sync.RWMutex
	retention   time.Duration
	impressions []models.ImpressionEvent
	clicks      []models.ClickEvent
	completions []models.CompletionEvent
}

var _ EventLog = (*MemoryEventLog)(nil)

// NewMemoryEventLog creates an empty log that keeps events forever.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

// NewMemoryEventLogWithRetention creates an empty log that forgets events
// older than retentionDays once pruned. Zero or less keeps everything.
func NewMemoryEventLogWithRetention(retentionDays int) *MemoryEventLog {
	m := &MemoryEventLog{}
	if retentionDays > 0 {
		m.retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return m
}

// Prune removes events older than now minus the retention and returns how
// many were dropped.
func (m *MemoryEventLog) Prune(now time.Time) int {
	if m.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	m.impressions, n = keepSince(m.impressions, cutoff, func(ev models.ImpressionEvent) time.Time { return ev.Timestamp })
	dropped := n
	m.clicks, n = keepSince(m.clicks, cutoff, func(ev models.ClickEvent) time.Time { return ev.Timestamp })
	dropped += n
	m.completions, n = keepSince(m.completions, cutoff, func(ev models.CompletionEvent) time.Time { return ev.Timestamp })
	return dropped + n
}

// Run prunes every interval until stop is closed.
func (m *MemoryEventLog) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			m.Prune(now)
		}
	}
}

// keepSince filters evs in place, keeping events at or after cutoff.
func keepSince[T any](evs []T, cutoff time.Time, ts func(T) time.Time) ([]T, int) {
	kept := evs[:0]
	for _, ev := range evs {
		if !ts(ev).Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	dropped := len(evs) - len(kept)
	clear(evs[len(kept):])
	return kept, dropped
}

// InsertImpression implements EventLog.
func (m *MemoryEventLog) InsertImpression(ctx context.Context, ev models.ImpressionEvent) error {
	m.mu.Lock()
	m.impressions = append(m.impressions, ev)
	m.mu.Unlock()
	return nil
}

// InsertClick implements EventLog.
func (m *MemoryEventLog) InsertClick(ctx context.Context, ev models.ClickEvent) error {
	m.mu.Lock()
	m.clicks = append(m.clicks, ev)
	m.mu.Unlock()
	return nil
}

// InsertCompletion implements EventLog.
func (m *MemoryEventLog) InsertCompletion(ctx context.Context, ev models.CompletionEvent) error {
	m.mu.Lock()
	m.completions = append(m.completions, ev)
	m.mu.Unlock()
	return nil
}

// Impressions returns a copy of every stored impression.
func (m *MemoryEventLog) Impressions() []models.ImpressionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ImpressionEvent(nil), m.impressions...)
}

// Clicks returns a copy of every stored click.
func (m *MemoryEventLog) Clicks() []models.ClickEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ClickEvent(nil), m.clicks...)
}

// Completions returns a copy of every stored completion.
func (m *MemoryEventLog) Completions() []models.CompletionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.CompletionEvent(nil), m.completions...)
}

// FindRecentImpression implements EventLog.
func (m *MemoryEventLog) FindRecentImpression(ctx context.Context, adID, ip, userID string, since time.Time) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  models.ImpressionEvent
		found bool
	)
	for _, ev := range m.impressions {
		if ev.AdID != adID || ev.Timestamp.Before(since) {
			continue
		}
		if !(ip != "" && ev.IPAddress == ip) && !(userID != "" && ev.UserID == userID) {
			continue
		}
		if !found || ev.Timestamp.After(best.Timestamp) {
			best, found = ev, true
		}
	}
	return best.ID, found, nil
}

// ImpressionCountsSince implements EventLog.
func (m *MemoryEventLog) ImpressionCountsSince(ctx context.Context, userID string, since time.Time) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for _, ev := range m.impressions {
		if ev.UserID == userID && !ev.Timestamp.Before(since) {
			out[ev.AdID]++
		}
	}
	return out, nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

type eventKey struct {
	adID   string
	adType models.AdType
	ts     time.Time
}

// keys flattens one log into the fields the aggregate queries filter on.
func (m *MemoryEventLog) keys(kind models.EventKind) ([]eventKey, error) {
	var out []eventKey
	switch kind {
	case models.EventImpression:
		for _, ev := range m.impressions {
			out = append(out, eventKey{ev.AdID, ev.AdType, ev.Timestamp})
		}
	case models.EventClick:
		for _, ev := range m.clicks {
			out = append(out, eventKey{ev.AdID, ev.AdType, ev.Timestamp})
		}
	case models.EventCompletion:
		for _, ev := range m.completions {
			out = append(out, eventKey{ev.AdID, ev.AdType, ev.Timestamp})
		}
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", models.ErrInvalidInput, kind)
	}
	return out, nil
}

// CountEvents implements EventLog.
func (m *MemoryEventLog) CountEvents(ctx context.Context, q EventQuery) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys, err := m.keys(q.Kind)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		if !inWindow(k.ts, q.From, q.To) {
			continue
		}
		if (q.AdID != "" && k.adID != q.AdID) || (q.AdType != "" && k.adType != q.AdType) {
			continue
		}
		n++
	}
	return n, nil
}

// TopAdsByImpressions implements EventLog.
func (m *MemoryEventLog) TopAdsByImpressions(ctx context.Context, adType models.AdType, from, to time.Time, n int) ([]AdCount, error) {
	m.mu.RLock()
	counts := make(map[string]*AdCount)
	for _, ev := range m.impressions {
		if !inWindow(ev.Timestamp, from, to) || (adType != "" && ev.AdType != adType) {
			continue
		}
		ac, ok := counts[ev.AdID]
		if !ok {
			ac = &AdCount{AdID: ev.AdID, AdType: ev.AdType}
			counts[ev.AdID] = ac
		}
		ac.Count++
	}
	m.mu.RUnlock()

	out := make([]AdCount, 0, len(counts))
	for _, ac := range counts {
		out = append(out, *ac)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].AdID < out[j].AdID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// DailyCounts implements EventLog.
func (m *MemoryEventLog) DailyCounts(ctx context.Context, adID string, from, to time.Time) ([]DayCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make(map[string]*DayCount)
	bump := func(ts time.Time, field func(*DayCount)) {
		if !inWindow(ts, from, to) {
			return
		}
		key := ts.In(from.Location()).Format(dayLayout)
		dc, ok := found[key]
		if !ok {
			dc = &DayCount{Day: key}
			found[key] = dc
		}
		field(dc)
	}
	for _, ev := range m.impressions {
		if ev.AdID == adID {
			bump(ev.Timestamp, func(d *DayCount) { d.Impressions++ })
		}
	}
	for _, ev := range m.clicks {
		if ev.AdID == adID {
			bump(ev.Timestamp, func(d *DayCount) { d.Clicks++ })
		}
	}
	for _, ev := range m.completions {
		if ev.AdID == adID {
			bump(ev.Timestamp, func(d *DayCount) { d.Completions++ })
		}
	}
	return fillDays(from, to, found), nil
}

// RecentImpressions implements EventLog.
func (m *MemoryEventLog) RecentImpressions(ctx context.Context, adID string, n int) ([]models.ImpressionEvent, error) {
	m.mu.RLock()
	var out []models.ImpressionEvent
	for _, ev := range m.impressions {
		if ev.AdID == adID {
			out = append(out, ev)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
