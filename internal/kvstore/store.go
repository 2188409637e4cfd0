// Package kvstore provides the string-keyed persistent stores the gallery keeps
// its records, thumbnails and cached payloads in.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded is returned by Set when the write would push the store
	// past its capacity ceiling.
	ErrQuotaExceeded = errors.New("store quota exceeded")

	// ErrUnsupportedBackend is returned by Open for an unknown DSN scheme.
	ErrUnsupportedBackend = errors.New("unsupported store backend")
)

// Store is a persistent string-keyed store.
//
// Get reports found=false for a missing key. Remove of a missing key is not an
// error. Keys returns a snapshot in no particular order.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Sizer is implemented by stores that track their own usage in bytes.
type Sizer interface {
	Usage(ctx context.Context) (int64, error)
}

// Closer is implemented by stores holding connections or files.
type Closer interface {
	Close() error
}

// EntrySize is the accounted size of a single key/value pair.
func EntrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

// Usage sums EntrySize over every key in s. It prefers Sizer when available.
func Usage(ctx context.Context, s Store) (int64, error) {
	if sz, ok := s.(Sizer); ok {
		return sz.Usage(ctx)
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		v, found, err := s.Get(ctx, k)
		if err != nil {
			return 0, err
		}
		if found {
			total += EntrySize(k, v)
		}
	}
	return total, nil
}

// KeysWithPrefix filters the store's keys by prefix.
func KeysWithPrefix(ctx context.Context, s Store, prefix string) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := keys[:0:0]
	for _, k := range keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}
