package eviction_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/lucasew/gallerycache/internal/eviction/fifo"
	"github.com/lucasew/gallerycache/internal/eviction/lru"
	"github.com/lucasew/gallerycache/internal/eviction/policy"
	"github.com/lucasew/gallerycache/internal/eviction/policy/watermark"
	"github.com/lucasew/gallerycache/internal/kvstore"
)

// fakeCatalog keeps photo IDs in upload order and records demotions.
type fakeCatalog struct {
	store    kvstore.Store
	ids      []string
	demoted  map[string]bool
	dropped  []string
	failList bool
}

func newFakeCatalog(store kvstore.Store) *fakeCatalog {
	return &fakeCatalog{store: store, demoted: make(map[string]bool)}
}

func (c *fakeCatalog) add(id string) {
	c.ids = append(c.ids, id)
}

func (c *fakeCatalog) PhotoIDs(ctx context.Context) ([]string, error) {
	if c.failList {
		return nil, errors.New("catalog unavailable")
	}
	return append([]string(nil), c.ids...), nil
}

func (c *fakeCatalog) Demote(ctx context.Context, id string) error {
	c.demoted[id] = true
	return nil
}

func (c *fakeCatalog) DropPhoto(ctx context.Context, id string) (int64, error) {
	for i, v := range c.ids {
		if v == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}
	c.dropped = append(c.dropped, id)
	key := "thumb/" + id
	raw, found, _ := c.store.Get(ctx, key)
	if !found {
		return 0, nil
	}
	return kvstore.EntrySize(key, raw), c.store.Remove(ctx, key)
}

func newManager(store kvstore.Store, catalog eviction.Catalog, policies ...policy.Policy) *eviction.Manager {
	cfg := eviction.DefaultConfig()
	cfg.OrphanPrefixes = []string{"thumb/", "faces/", "background/"}
	return eviction.NewManager(store, catalog, fifo.New(), policies, cfg)
}

func photoID(i int) string {
	return fmt.Sprintf("p%02d", i)
}

func TestEnforceBudget_Retention(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)
	mgr := newManager(store, catalog)

	for i := 0; i < 60; i++ {
		catalog.add(photoID(i))
		if err := mgr.Put(ctx, photoID(i), []byte("payload")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	report := mgr.EnforceBudget(ctx)
	if report.EntriesRemoved != 30 {
		t.Errorf("expected 30 entries removed, got %d", report.EntriesRemoved)
	}
	if report.BytesFreed <= 0 {
		t.Errorf("expected bytes freed, got %d", report.BytesFreed)
	}
	if report.Aggressive {
		t.Error("aggressive pass should not run without budget policies")
	}
	if mgr.Len() != 30 {
		t.Fatalf("expected 30 entries left, got %d", mgr.Len())
	}

	for i := 0; i < 60; i++ {
		id := photoID(i)
		kept := i >= 30
		if mgr.Has(id) != kept {
			t.Errorf("%s: kept=%v, expected %v", id, mgr.Has(id), kept)
		}
		if catalog.demoted[id] == kept {
			t.Errorf("%s: demoted=%v, expected %v", id, catalog.demoted[id], !kept)
		}
		_, found, _ := store.Get(ctx, eviction.CachePrefix+id)
		if found != kept {
			t.Errorf("%s: store entry found=%v, expected %v", id, found, kept)
		}
	}

	t.Run("Second Pass Is A No-op", func(t *testing.T) {
		again := mgr.EnforceBudget(ctx)
		if !again.Empty() {
			t.Errorf("expected empty report, got %+v", again)
		}
	})
}

func TestEnforceBudget_BelowCeiling(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)
	mgr := newManager(store, catalog)

	for i := 0; i < 50; i++ {
		catalog.add(photoID(i))
		_ = mgr.Put(ctx, photoID(i), []byte("x"))
	}
	if r := mgr.EnforceBudget(ctx); !r.Empty() {
		t.Errorf("50 entries is at the ceiling, expected no-op, got %+v", r)
	}
}

func TestEnforceBudget_Orphans(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)
	mgr := newManager(store, catalog)

	catalog.add("alive")
	_ = mgr.Put(ctx, "alive", []byte("a"))
	_ = store.Set(ctx, "thumb/alive", "t")
	_ = store.Set(ctx, "faces/alive", "[]")

	_ = mgr.Put(ctx, "gone", []byte("g"))
	_ = store.Set(ctx, "thumb/gone", "t")
	_ = store.Set(ctx, "faces/gone", "[]")
	_ = store.Set(ctx, "background/gone", "bg")
	_ = store.Set(ctx, "folder/f1", "unrelated")

	report := mgr.EnforceBudget(ctx)
	if report.OrphansRemoved != 4 {
		t.Errorf("expected 4 orphans removed, got %d", report.OrphansRemoved)
	}
	if mgr.Has("gone") {
		t.Error("orphan cache entry still tracked")
	}

	keys, _ := store.Keys(ctx)
	for _, k := range keys {
		if strings.HasSuffix(k, "/gone") {
			t.Errorf("orphan %s survived", k)
		}
	}
	for _, k := range []string{"cache/alive", "thumb/alive", "faces/alive", "folder/f1"} {
		if _, found, _ := store.Get(ctx, k); !found {
			t.Errorf("%s should survive", k)
		}
	}

	t.Run("Catalog Failure Skips Sweep", func(t *testing.T) {
		_ = store.Set(ctx, "thumb/gone2", "t")
		catalog.failList = true
		defer func() { catalog.failList = false }()

		r := mgr.EnforceBudget(ctx)
		if r.OrphansRemoved != 0 {
			t.Errorf("expected nothing removed, got %d", r.OrphansRemoved)
		}
		if len(r.Failures) == 0 {
			t.Error("expected catalog failure to be reported")
		}
		if _, found, _ := store.Get(ctx, "thumb/gone2"); !found {
			t.Error("blob removed although the live set was unknown")
		}
	})
}

func TestEnforceBudget_Aggressive(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)

	payload := []byte(strings.Repeat("x", 100))
	for i := 0; i < 25; i++ {
		catalog.add(photoID(i))
		_ = store.Set(ctx, "thumb/"+photoID(i), "thumbnail")
	}

	// Every cached entry is ~180 bytes; a budget of 1000 bytes forces eviction.
	budget := &watermark.Policy{Limit: 1000, Ratio: 1}
	mgr := newManager(store, catalog, budget)
	for i := 0; i < 25; i++ {
		if err := mgr.Put(ctx, photoID(i), payload); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	report := mgr.EnforceBudget(ctx)
	if !report.Aggressive {
		t.Fatal("expected aggressive pass")
	}
	if report.MetadataRecordsRemoved != 5 {
		t.Errorf("expected 5 records dropped, got %d", report.MetadataRecordsRemoved)
	}
	if len(catalog.ids) != 20 || catalog.ids[0] != photoID(5) {
		t.Errorf("expected the 20 newest photos to survive, got %v", catalog.ids)
	}

	used, _ := kvstore.Usage(ctx, store)
	if used > budget.Mark() {
		t.Errorf("store still over budget: %d > %d", used, budget.Mark())
	}
	for i := 5; i < 25; i++ {
		id := photoID(i)
		if !mgr.Has(id) && !catalog.demoted[id] {
			t.Errorf("%s lost its cache entry without being demoted", id)
		}
	}
	if !mgr.Has(photoID(24)) {
		t.Error("newest entry should survive demotion")
	}

	t.Run("Second Pass Frees Nothing", func(t *testing.T) {
		again := mgr.EnforceBudget(ctx)
		if again.BytesFreed != 0 || again.EntriesRemoved != 0 || again.MetadataRecordsRemoved != 0 {
			t.Errorf("expected no-op, got %+v", again)
		}
	})
}

// flakyStore fails Remove for selected keys.
type flakyStore struct {
	*kvstore.Memory
	failRemove map[string]bool
}

func (f *flakyStore) Remove(ctx context.Context, key string) error {
	if f.failRemove[key] {
		return errors.New("disk on fire")
	}
	return f.Memory.Remove(ctx, key)
}

func TestEnforceBudget_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Memory: kvstore.NewMemory(), failRemove: map[string]bool{}}
	catalog := newFakeCatalog(store)
	mgr := newManager(store, catalog)

	for i := 0; i < 60; i++ {
		catalog.add(photoID(i))
		_ = mgr.Put(ctx, photoID(i), []byte("x"))
	}
	store.failRemove[eviction.CachePrefix+photoID(3)] = true

	report := mgr.EnforceBudget(ctx)
	if report.EntriesRemoved != 29 {
		t.Errorf("expected 29 entries removed, got %d", report.EntriesRemoved)
	}
	if len(report.Failures) != 1 || report.Failures[0].Key != eviction.CachePrefix+photoID(3) {
		t.Errorf("expected one reported failure, got %+v", report.Failures)
	}
	if catalog.demoted[photoID(3)] {
		t.Error("photo demoted although its entry could not be removed")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)
	mgr := newManager(store, catalog)

	for i := 0; i < 3; i++ {
		catalog.add(photoID(i))
		_ = mgr.Put(ctx, photoID(i), []byte("x"))
	}

	report := mgr.Clear(ctx)
	if report.EntriesRemoved != 3 || mgr.Len() != 0 || mgr.CacheBytes() != 0 {
		t.Errorf("unexpected state after clear: %+v len=%d bytes=%d", report, mgr.Len(), mgr.CacheBytes())
	}
	if len(catalog.demoted) != 3 {
		t.Errorf("expected 3 demotions, got %d", len(catalog.demoted))
	}
}

func TestLoadInitialState(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)

	first := newManager(store, catalog)
	for i := 0; i < 60; i++ {
		catalog.add(photoID(i))
		_ = first.Put(ctx, photoID(i), []byte("x"))
	}
	_ = store.Set(ctx, eviction.CachePrefix+"legacy", "data:image/jpeg;base64,AAAA")

	second := newManager(store, catalog)
	if err := second.LoadInitialState(ctx); err != nil {
		t.Fatalf("LoadInitialState failed: %v", err)
	}
	if second.Len() != 60 {
		t.Fatalf("expected 60 entries, got %d", second.Len())
	}
	if second.CacheBytes() != first.CacheBytes() {
		t.Errorf("expected %d bytes, got %d", first.CacheBytes(), second.CacheBytes())
	}
	if _, found, _ := store.Get(ctx, eviction.CachePrefix+"legacy"); found {
		t.Error("undecodable entry should be dropped")
	}

	// Write order survives the reload: the oldest 30 go.
	second.EnforceBudget(ctx)
	if second.Has(photoID(29)) || !second.Has(photoID(30)) {
		t.Error("reloaded order does not match write order")
	}

	// New writes continue the sequence after the loaded entries.
	_ = second.Put(ctx, "newest", []byte("x"))
	if !second.Has("newest") {
		t.Error("new entry not tracked")
	}
}

func TestNeedsEnforcement(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)

	cfg := eviction.DefaultConfig()
	cfg.HighWater = &watermark.Policy{Limit: 1000, Ratio: 0.7}
	mgr := eviction.NewManager(store, catalog, fifo.New(), nil, cfg)

	if mgr.NeedsEnforcement(ctx) {
		t.Error("empty store should not need enforcement")
	}
	_ = store.Set(ctx, "thumb/x", strings.Repeat("y", 800))
	if !mgr.NeedsEnforcement(ctx) {
		t.Error("store above high-water mark should need enforcement")
	}
}

func TestGetStrategy(t *testing.T) {
	if _, err := eviction.GetStrategy("fifo"); err != nil {
		t.Errorf("fifo should be registered: %v", err)
	}
	if _, err := eviction.GetStrategy("lru"); err != nil {
		t.Errorf("lru should be registered: %v", err)
	}
	if _, err := eviction.GetStrategy("lfu"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestEnforceBudget_RetentionLRU(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	catalog := newFakeCatalog(store)
	cfg := eviction.DefaultConfig()
	mgr := eviction.NewManager(store, catalog, lru.New(), nil, cfg)

	for i := 0; i < 60; i++ {
		catalog.add(photoID(i))
		if err := mgr.Put(ctx, photoID(i), []byte("payload")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if _, ok := mgr.Get(ctx, photoID(0)); !ok {
		t.Fatal("expected cached payload for p00")
	}

	mgr.EnforceBudget(ctx)
	if !mgr.Has(photoID(0)) {
		t.Error("recently viewed p00 should survive retention")
	}
	if mgr.Has(photoID(30)) {
		t.Error("p30 should have been trimmed")
	}
	if mgr.Len() != 30 {
		t.Errorf("expected 30 entries left, got %d", mgr.Len())
	}
}
