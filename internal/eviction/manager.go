package eviction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/eviction/policy"
	"github.com/lucasew/gallerycache/internal/kvstore"
	"github.com/lucasew/gallerycache/internal/record"
)

const (
	// CachePrefix namespaces full-resolution cache entries in the store.
	CachePrefix = "cache/"

	cacheKind = "cache"
)

// Config tunes the cleanup passes.
type Config struct {
	// RetentionCeiling is the entry count above which the cache is trimmed
	// down to RetentionKeep newest entries.
	RetentionCeiling int
	RetentionKeep    int

	// AggressiveKeep is how many photo records survive the aggressive pass.
	AggressiveKeep int

	// Interval is the period of the background loop started by Start.
	Interval time.Duration

	// OrphanPrefixes are blob namespaces keyed by photo ID that are swept
	// when the photo no longer exists. CachePrefix is always swept.
	OrphanPrefixes []string

	// HighWater triggers opportunistic enforcement. Nil disables it.
	HighWater policy.Policy
}

// DefaultConfig returns the stock retention numbers.
func DefaultConfig() Config {
	return Config{
		RetentionCeiling: 50,
		RetentionKeep:    30,
		AggressiveKeep:   20,
		Interval:         time.Minute,
	}
}

// Manager owns the full-resolution cache: it is the only writer and remover
// of entries under CachePrefix, and runs the cleanup passes that keep the
// store within budget.
type Manager struct {
	store    kvstore.Store
	catalog  Catalog
	strategy Strategy
	policies []policy.Policy
	cfg      Config

	seq        atomic.Uint64
	cacheBytes atomic.Int64

	// mu serializes cleanup passes. Writes through Put do not take it.
	mu sync.Mutex

	// OnReport, when set, receives every non-empty cleanup report.
	OnReport func(Report)
}

// NewManager creates a new Manager. policies decide whether the store is over
// budget and the aggressive pass must run.
func NewManager(store kvstore.Store, catalog Catalog, strategy Strategy, policies []policy.Policy, cfg Config) *Manager {
	return &Manager{
		store:    store,
		catalog:  catalog,
		strategy: strategy,
		policies: policies,
		cfg:      cfg,
	}
}

type loadedEntry struct {
	id   string
	seq  uint64
	size int64
}

// LoadInitialState scans persisted cache entries and replays them into the
// strategy in write order. Undecodable entries are removed.
func (m *Manager) LoadInitialState(ctx context.Context) error {
	keys, err := kvstore.KeysWithPrefix(ctx, m.store, CachePrefix)
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	entries := make([]loadedEntry, 0, len(keys))
	for _, key := range keys {
		raw, found, err := m.store.Get(ctx, key)
		if err != nil {
			errutil.LogMsg(err, "Failed to read cache entry", "key", key)
			continue
		}
		if !found {
			continue
		}
		var payload []byte
		seq, err := record.DecodeSeq(raw, cacheKind, &payload)
		if err != nil {
			errutil.LogMsg(err, "Dropping undecodable cache entry", "key", key)
			errutil.LogMsg(m.store.Remove(ctx, key), "Failed to remove undecodable cache entry", "key", key)
			continue
		}
		entries = append(entries, loadedEntry{
			id:   strings.TrimPrefix(key, CachePrefix),
			seq:  seq,
			size: kvstore.EntrySize(key, raw),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	var total int64
	for _, e := range entries {
		total += m.strategy.OnAdd(e.id, e.size)
		if e.seq > m.seq.Load() {
			m.seq.Store(e.seq)
		}
	}
	m.cacheBytes.Store(total)

	slog.Info("Initial cache state loaded", "count", len(entries), "size", total)
	return nil
}

// Start runs the background enforcement loop.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.NeedsEnforcement(ctx) {
				m.EnforceBudget(ctx)
			}
		}
	}
}

// Put writes the full-resolution payload for photo id. A store refusal
// (typically kvstore.ErrQuotaExceeded) is returned wrapped.
func (m *Manager) Put(ctx context.Context, id string, payload []byte) error {
	key := CachePrefix + id
	raw, err := record.EncodeSeq(cacheKind, m.seq.Add(1), payload)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to cache %s: %w", id, err)
	}
	m.cacheBytes.Add(m.strategy.OnAdd(id, kvstore.EntrySize(key, raw)))
	return nil
}

// Get returns the cached payload for id.
func (m *Manager) Get(ctx context.Context, id string) ([]byte, bool) {
	key := CachePrefix + id
	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		errutil.LogMsg(err, "Failed to read cache entry", "id", id)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var payload []byte
	if err := record.Decode(raw, cacheKind, &payload); err != nil {
		errutil.LogMsg(err, "Ignoring undecodable cache entry", "id", id)
		return nil, false
	}
	if a, ok := m.strategy.(Accessor); ok {
		a.OnAccess(id)
	}
	return payload, true
}

// Has reports whether id has a tracked cache entry.
func (m *Manager) Has(id string) bool {
	return m.strategy.Contains(id)
}

// Len is the number of cache entries.
func (m *Manager) Len() int {
	return m.strategy.Len()
}

// CacheBytes is the store space taken by cache entries.
func (m *Manager) CacheBytes() int64 {
	return m.cacheBytes.Load()
}

// Remove deletes the cache entry for id, returning the bytes freed. The
// photo record is left untouched.
func (m *Manager) Remove(ctx context.Context, id string) (int64, error) {
	key := CachePrefix + id
	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache entry %s: %w", id, err)
	}
	if !found {
		m.strategy.Remove(id)
		return 0, nil
	}
	if err := m.store.Remove(ctx, key); err != nil {
		return 0, fmt.Errorf("failed to remove cache entry %s: %w", id, err)
	}
	size := kvstore.EntrySize(key, raw)
	m.untrack(id, size)
	return size, nil
}

func (m *Manager) untrack(id string, size int64) {
	if m.strategy.Contains(id) {
		m.strategy.Remove(id)
		m.cacheBytes.Add(-size)
	}
}

// NeedsEnforcement reports whether the cache is over its retention ceiling
// or the store is above the high-water mark.
func (m *Manager) NeedsEnforcement(ctx context.Context) bool {
	if m.strategy.Len() > m.cfg.RetentionCeiling {
		return true
	}
	if m.cfg.HighWater == nil {
		return false
	}
	return m.bytesToFree(ctx, []policy.Policy{m.cfg.HighWater}) > 0
}

// EnforceBudget runs the cleanup passes:
//  1. trims the cache to the RetentionKeep newest entries when it holds more
//     than RetentionCeiling, demoting the evicted photos;
//  2. removes blobs whose photo no longer exists;
//  3. if the store is still over budget, keeps only the AggressiveKeep newest
//     photo records and demotes the oldest cached photos until within budget.
//
// It never fails: per-key errors are logged and collected in the report.
func (m *Manager) EnforceBudget(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r Report

	if n := m.strategy.Len(); n > m.cfg.RetentionCeiling {
		for _, v := range m.strategy.Oldest(n - m.cfg.RetentionKeep) {
			m.evict(ctx, v, &r)
		}
	}

	m.removeOrphans(ctx, &r)

	if m.bytesToFree(ctx, m.policies) > 0 {
		m.aggressive(ctx, &r)
	}

	m.publish("Cleanup pass completed", r)
	return r
}

// Clear removes every cache entry and demotes the photos they belonged to.
func (m *Manager) Clear(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r Report
	for _, v := range m.strategy.Oldest(m.strategy.Len()) {
		m.evict(ctx, v, &r)
	}
	m.publish("Cache cleared", r)
	return r
}

func (m *Manager) publish(msg string, r Report) {
	if r.Empty() && len(r.Failures) == 0 {
		return
	}
	slog.Info(msg,
		"entries_removed", r.EntriesRemoved,
		"orphans_removed", r.OrphansRemoved,
		"metadata_removed", r.MetadataRecordsRemoved,
		"bytes_freed", r.BytesFreed,
		"aggressive", r.Aggressive,
		"failures", len(r.Failures),
	)
	if m.OnReport != nil {
		m.OnReport(r)
	}
}

// evict removes one cache entry and demotes its photo.
func (m *Manager) evict(ctx context.Context, v Victim, r *Report) {
	key := CachePrefix + v.Key
	if err := m.store.Remove(ctx, key); err != nil {
		errutil.LogMsg(err, "Failed to evict cache entry", "key", key)
		r.fail(key, err)
		return
	}
	m.untrack(v.Key, v.Size)
	r.EntriesRemoved++
	r.BytesFreed += v.Size

	if err := m.catalog.Demote(ctx, v.Key); err != nil {
		errutil.LogMsg(err, "Failed to demote photo", "id", v.Key)
		r.fail("photo/"+v.Key, err)
	}
}

func (m *Manager) removeOrphans(ctx context.Context, r *Report) {
	ids, err := m.catalog.PhotoIDs(ctx)
	if err != nil {
		// Without the live set every blob would look orphaned.
		errutil.ReportError(err, "Skipping orphan sweep, failed to list photos")
		r.fail("photo/*", err)
		return
	}
	live := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		live[id] = struct{}{}
	}

	keys, err := m.store.Keys(ctx)
	if err != nil {
		errutil.ReportError(err, "Skipping orphan sweep, failed to list keys")
		r.fail("*", err)
		return
	}

	prefixes := append([]string{CachePrefix}, m.cfg.OrphanPrefixes...)
	for _, key := range keys {
		id, ok := photoIDOf(key, prefixes)
		if !ok {
			continue
		}
		if _, alive := live[id]; alive {
			continue
		}

		raw, found, err := m.store.Get(ctx, key)
		if err != nil || !found {
			errutil.LogMsg(err, "Failed to read orphan", "key", key)
			continue
		}
		if err := m.store.Remove(ctx, key); err != nil {
			errutil.LogMsg(err, "Failed to remove orphan", "key", key)
			r.fail(key, err)
			continue
		}
		size := kvstore.EntrySize(key, raw)
		if strings.HasPrefix(key, CachePrefix) {
			m.untrack(id, size)
		}
		r.OrphansRemoved++
		r.BytesFreed += size
	}
}

func photoIDOf(key string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if id, ok := strings.CutPrefix(key, p); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

func (m *Manager) aggressive(ctx context.Context, r *Report) {
	r.Aggressive = true
	slog.Warn("Store still over budget, running aggressive cleanup", "keep", m.cfg.AggressiveKeep)

	ids, err := m.catalog.PhotoIDs(ctx)
	if err != nil {
		errutil.ReportError(err, "Failed to list photos for aggressive cleanup")
		r.fail("photo/*", err)
	} else if len(ids) > m.cfg.AggressiveKeep {
		for _, id := range ids[:len(ids)-m.cfg.AggressiveKeep] {
			if m.strategy.Contains(id) {
				freed, err := m.Remove(ctx, id)
				if err != nil {
					errutil.LogMsg(err, "Failed to remove cache entry of dropped photo", "id", id)
					r.fail(CachePrefix+id, err)
				} else {
					r.EntriesRemoved++
					r.BytesFreed += freed
				}
			}

			freed, err := m.catalog.DropPhoto(ctx, id)
			if err != nil {
				errutil.LogMsg(err, "Failed to drop photo record", "id", id)
				r.fail("photo/"+id, err)
				continue
			}
			r.MetadataRecordsRemoved++
			r.BytesFreed += freed
		}
	}

	toFree := m.bytesToFree(ctx, m.policies)
	if toFree <= 0 {
		return
	}
	current := m.cacheBytes.Load()
	for _, v := range m.strategy.GetVictims(current, current-toFree) {
		m.evict(ctx, v, r)
	}
}

func (m *Manager) bytesToFree(ctx context.Context, policies []policy.Policy) int64 {
	if len(policies) == 0 {
		return 0
	}
	current, err := kvstore.Usage(ctx, m.store)
	if err != nil {
		errutil.LogMsg(err, "Failed to measure store usage")
		return 0
	}

	var maxToFree int64
	for _, p := range policies {
		toFree, err := p.BytesToFree(current)
		if err != nil {
			slog.Error("Failed to check capacity policy", "error", err)
			continue
		}
		if toFree > maxToFree {
			maxToFree = toFree
		}
	}
	return maxToFree
}
