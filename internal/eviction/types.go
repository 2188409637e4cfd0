package eviction

import "context"

// Victim represents a cache entry to be evicted.
type Victim struct {
	Key  string
	Size int64
}

// Strategy orders cache entries for eviction. Keys are photo IDs.
type Strategy interface {
	// OnAdd is called when an entry is written (or rewritten).
	// It returns the change in total size managed by the strategy (e.g., if key is new, returns size; if updated, returns diff).
	OnAdd(key string, size int64) int64

	// Remove removes a key from the strategy.
	Remove(key string)

	// Contains reports whether key is tracked.
	Contains(key string) bool

	// Len is the number of tracked entries.
	Len() int

	// Oldest returns up to n entries, oldest first.
	Oldest(n int) []Victim

	// GetVictims returns a list of victims to evict to reduce the current size
	// to the target size.
	GetVictims(currentSize int64, targetSize int64) []Victim
}

// Accessor is implemented by strategies that reorder entries on reads.
type Accessor interface {
	OnAccess(key string)
}

// Catalog is the photo metadata the engine demotes, drops and checks
// orphans against.
type Catalog interface {
	// PhotoIDs returns every photo ID, oldest first.
	PhotoIDs(ctx context.Context) ([]string, error)

	// Demote marks a photo as thumbnail-only after its cache entry is gone.
	Demote(ctx context.Context, id string) error

	// DropPhoto removes a photo's record and every blob keyed by it except
	// its cache entry. It returns the bytes freed in the store.
	DropPhoto(ctx context.Context, id string) (int64, error)
}

// Failure is a key the engine could not remove.
type Failure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Report summarizes a cleanup pass.
type Report struct {
	EntriesRemoved         int       `json:"entriesRemoved"`
	OrphansRemoved         int       `json:"orphansRemoved"`
	MetadataRecordsRemoved int       `json:"metadataRecordsRemoved"`
	BytesFreed             int64     `json:"bytesFreed"`
	Aggressive             bool      `json:"aggressive"`
	Failures               []Failure `json:"failures,omitempty"`
}

// Empty reports whether the pass changed nothing.
func (r Report) Empty() bool {
	return r.EntriesRemoved == 0 && r.OrphansRemoved == 0 && r.MetadataRecordsRemoved == 0 && r.BytesFreed == 0
}

func (r *Report) fail(key string, err error) {
	r.Failures = append(r.Failures, Failure{Key: key, Error: err.Error()})
}
