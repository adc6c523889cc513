package models

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"
)

// EligibilityQuery narrows the ads of one type to candidates for a
// placement. When EnforceSchedule is set the schedule window, widened by
// Tolerance on both ends, must contain Now. Ads with no remaining budget are
// never candidates. Results come back in rank order (see RankLess) so a Limit
// keeps the best candidates.
type EligibilityQuery struct {
	Type            AdType
	Placements      []string // any-of match against Ad.Placements
	Now             time.Time
	EnforceSchedule bool
	Tolerance       time.Duration
	Limit           int // 0 means no limit
}

// AdStore is the read/increment surface the delivery engine needs from the
// document store. Authoring (create/update) happens elsewhere.
type AdStore interface {
	// FindEligibleAds returns active, approved, non-deleted ads of q.Type
	// with budget left, matching any placement variant, in rank order.
	FindEligibleAds(ctx context.Context, q EligibilityQuery) ([]Ad, error)
	// GetAd looks an ad up in either type's collection. ErrNotFound when absent.
	GetAd(ctx context.Context, id string) (*Ad, error)
	// GetTitles resolves titles for a batch of ad IDs. Unknown IDs are omitted.
	GetTitles(ctx context.Context, ids []string) (map[string]string, error)
	// IncrementCounter atomically adds one to the named counter.
	IncrementCounter(ctx context.Context, adType AdType, adID string, c Counter) error
	// CountActiveAds counts currently selectable ads of a type.
	CountActiveAds(ctx context.Context, adType AdType) (int64, error)
}

type adCounters struct {
	impressions atomic.Int64
	clicks      atomic.Int64
	completions atomic.Int64
}

func (c *adCounters) get(name Counter) *atomic.Int64 {
	switch name {
	case CounterImpressions:
		return &c.impressions
	case CounterClicks:
		return &c.clicks
	case CounterCompletions:
		return &c.completions
	}
	return nil
}

// adSnapshot is an immutable view of the ads. Counters are shared pointers
// so increments survive across reads without swapping the snapshot.
type adSnapshot struct {
	ads      []Ad
	index    map[string]int
	counters map[string]*adCounters
}

// InMemoryAdStore implements AdStore over an atomically swapped snapshot.
// It backs tests and local tooling.
type InMemoryAdStore struct {
	data atomic.Pointer[adSnapshot]
}

var _ AdStore = (*InMemoryAdStore)(nil)

// NewInMemoryAdStore creates an empty store.
func NewInMemoryAdStore() *InMemoryAdStore {
	s := &InMemoryAdStore{}
	s.data.Store(&adSnapshot{
		index:    make(map[string]int),
		counters: make(map[string]*adCounters),
	})
	return s
}

// SetAds replaces every ad. Counter values are seeded from the given ads.
func (s *InMemoryAdStore) SetAds(ads []Ad) error {
	snap := &adSnapshot{
		ads:      make([]Ad, len(ads)),
		index:    make(map[string]int, len(ads)),
		counters: make(map[string]*adCounters, len(ads)),
	}
	copy(snap.ads, ads)
	for i, a := range snap.ads {
		if a.ID == "" {
			return fmt.Errorf("ad at position %d has no id", i)
		}
		if _, dup := snap.index[a.ID]; dup {
			return fmt.Errorf("duplicate ad id %s", a.ID)
		}
		snap.index[a.ID] = i
		c := &adCounters{}
		c.impressions.Store(a.Impressions)
		c.clicks.Store(a.Clicks)
		c.completions.Store(a.Completions)
		snap.counters[a.ID] = c
	}
	s.data.Store(snap)
	return nil
}

// withCounters returns a copy of the ad carrying live counter values.
func (snap *adSnapshot) withCounters(a Ad) Ad {
	if c, ok := snap.counters[a.ID]; ok {
		a.Impressions = c.impressions.Load()
		a.Clicks = c.clicks.Load()
		a.Completions = c.completions.Load()
	}
	a.Placements = append([]string(nil), a.Placements...)
	return a
}

// FindEligibleAds implements AdStore.
func (s *InMemoryAdStore) FindEligibleAds(ctx context.Context, q EligibilityQuery) ([]Ad, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.data.Load()
	var out []Ad
	for _, a := range snap.ads {
		if a.Type != q.Type || !a.Selectable() || !a.HasBudget() || !a.MatchesAnyPlacement(q.Placements) {
			continue
		}
		if q.EnforceSchedule && !a.InSchedule(q.Now, q.Tolerance) {
			continue
		}
		out = append(out, snap.withCounters(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return RankLess(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetAd implements AdStore.
func (s *InMemoryAdStore) GetAd(ctx context.Context, id string) (*Ad, error) {
	snap := s.data.Load()
	i, ok := snap.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := snap.withCounters(snap.ads[i])
	return &a, nil
}

// GetTitles implements AdStore.
func (s *InMemoryAdStore) GetTitles(ctx context.Context, ids []string) (map[string]string, error) {
	snap := s.data.Load()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if i, ok := snap.index[id]; ok {
			out[id] = snap.ads[i].Title
		}
	}
	return out, nil
}

// IncrementCounter implements AdStore.
func (s *InMemoryAdStore) IncrementCounter(ctx context.Context, adType AdType, adID string, name Counter) error {
	snap := s.data.Load()
	i, ok := snap.index[adID]
	if !ok || snap.ads[i].Type != adType {
		return ErrNotFound
	}
	counter := snap.counters[adID].get(name)
	if counter == nil {
		return fmt.Errorf("unknown counter %q", name)
	}
	counter.Add(1)
	return nil
}

// CountActiveAds implements AdStore.
func (s *InMemoryAdStore) CountActiveAds(ctx context.Context, adType AdType) (int64, error) {
	snap := s.data.Load()
	var n int64
	for _, a := range snap.ads {
		if a.Type == adType && a.Selectable() {
			n++
		}
	}
	return n, nil
}
