package models

import (
	"testing"
	"time"
)

func TestAdInSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		start     *time.Time
		end       *time.Time
		tolerance time.Duration
		want      bool
	}{
		{"no bounds", nil, nil, 0, true},
		{"started", Ptr(now.Add(-time.Hour)), nil, 0, true},
		{"not started", Ptr(now.Add(time.Minute)), nil, 0, false},
		{"not started within tolerance", Ptr(now.Add(4 * time.Minute)), nil, 5 * time.Minute, true},
		{"an hour out exceeds tolerance", Ptr(now.Add(time.Hour)), nil, 5 * time.Minute, false},
		{"ended", nil, Ptr(now.Add(-time.Minute)), 0, false},
		{"ended within tolerance", nil, Ptr(now.Add(-4 * time.Minute)), 5 * time.Minute, true},
		{"inside window", Ptr(now.Add(-time.Hour)), Ptr(now.Add(time.Hour)), 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Ad{StartAt: tc.start, EndAt: tc.end}
			if got := a.InSchedule(now, tc.tolerance); got != tc.want {
				t.Fatalf("InSchedule = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAdSelectable(t *testing.T) {
	base := Ad{Status: StatusActive, Approved: true}
	if !base.Selectable() {
		t.Fatal("active approved ad should be selectable")
	}
	notDeleted := base
	notDeleted.IsDeleted = Ptr(false)
	if !notDeleted.Selectable() {
		t.Fatal("explicit isDeleted=false should be selectable")
	}
	deleted := base
	deleted.IsDeleted = Ptr(true)
	if deleted.Selectable() {
		t.Fatal("deleted ad must not be selectable")
	}
	inactive := base
	inactive.Status = StatusInactive
	if inactive.Selectable() {
		t.Fatal("inactive ad must not be selectable")
	}
	unapproved := base
	unapproved.Approved = false
	if unapproved.Selectable() {
		t.Fatal("unapproved ad must not be selectable")
	}
}

func TestAdHasBudget(t *testing.T) {
	if !(Ad{}).HasBudget() {
		t.Fatal("untracked budget should be unconstrained")
	}
	if (Ad{RemainingBudget: Ptr(0.0)}).HasBudget() {
		t.Fatal("zero budget should be exhausted")
	}
	if (Ad{RemainingBudget: Ptr(-1.0)}).HasBudget() {
		t.Fatal("negative budget should be exhausted")
	}
	if !(Ad{RemainingBudget: Ptr(0.5)}).HasBudget() {
		t.Fatal("positive budget should be spendable")
	}
}

func TestParseAdType(t *testing.T) {
	if got, ok := ParseAdType("banner"); !ok || got != AdTypeBanner {
		t.Fatalf("ParseAdType(banner) = %v, %v", got, ok)
	}
	if got, ok := ParseAdType(" AUDIO "); !ok || got != AdTypeAudio {
		t.Fatalf("ParseAdType(AUDIO) = %v, %v", got, ok)
	}
	if _, ok := ParseAdType("video"); ok {
		t.Fatal("video should not parse")
	}
}
