// Package budget computes storage usage against the two gallery budgets: the
// small real store ceiling and the large virtual gallery quota.
package budget

import (
	"context"
	"log/slog"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/kvstore"
	"golang.org/x/sync/singleflight"
)

// Scope selects which budget a quota is computed for.
type Scope int

const (
	// RealStore is the physical key-value store ceiling.
	RealStore Scope = iota
	// VirtualGallery is the user-facing quota over original file sizes.
	VirtualGallery
)

func (s Scope) String() string {
	if s == VirtualGallery {
		return "virtual"
	}
	return "real"
}

// Level is the warning level shown next to a quota.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Quota is a point-in-time usage snapshot. It is never persisted.
type Quota struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Available int64 `json:"available"`
}

func newQuota(used, limit int64) Quota {
	avail := limit - used
	if avail < 0 {
		avail = 0
	}
	return Quota{Used: used, Limit: limit, Available: avail}
}

// Percent is Used as a percentage of Limit.
func (q Quota) Percent() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Used) / float64(q.Limit) * 100
}

// Level maps Percent to ok (<=70%), warning (>70%) or critical (>90%).
func (q Quota) Level() Level {
	switch p := q.Percent(); {
	case p > 90:
		return LevelCritical
	case p > 70:
		return LevelWarning
	default:
		return LevelOK
	}
}

// VirtualSource reports the logical gallery usage (sum of original file sizes).
type VirtualSource interface {
	VirtualUsage(ctx context.Context) (int64, error)
}

// Tracker computes quotas on demand. It has no side effects.
type Tracker struct {
	store        kvstore.Store
	virtual      VirtualSource
	realLimit    int64
	virtualLimit int64

	g singleflight.Group
}

func NewTracker(store kvstore.Store, virtual VirtualSource, realLimit, virtualLimit int64) *Tracker {
	return &Tracker{
		store:        store,
		virtual:      virtual,
		realLimit:    realLimit,
		virtualLimit: virtualLimit,
	}
}

// Quota returns the usage for scope. A failing or panicking store yields a
// zero-usage quota and a log line; it never propagates.
func (t *Tracker) Quota(ctx context.Context, scope Scope) Quota {
	switch scope {
	case VirtualGallery:
		return newQuota(t.measure(ctx, "virtual", t.virtual.VirtualUsage), t.virtualLimit)
	default:
		return newQuota(t.measure(ctx, "real", func(ctx context.Context) (int64, error) {
			return kvstore.Usage(ctx, t.store)
		}), t.realLimit)
	}
}

// Limit is the configured limit for scope.
func (t *Tracker) Limit(scope Scope) int64 {
	if scope == VirtualGallery {
		return t.virtualLimit
	}
	return t.realLimit
}

// RealUsage is a shorthand for Quota(ctx, RealStore).Used.
func (t *Tracker) RealUsage(ctx context.Context) int64 {
	return t.Quota(ctx, RealStore).Used
}

// measure collapses concurrent scans of the same scope into one.
func (t *Tracker) measure(ctx context.Context, key string, fn func(context.Context) (int64, error)) (used int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Usage scan panicked, reporting zero usage", "scope", key, "panic", r)
			used = 0
		}
	}()

	v, err, _ := t.g.Do(key, func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		errutil.LogMsg(err, "Failed to measure usage, reporting zero", "scope", key)
		return 0
	}
	return v.(int64)
}
