// Package hashutil resolves checksum algorithms by name for photo records.
package hashutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"maps"
	"slices"

	"golang.org/x/crypto/blake2b"
)

var registry = map[string]func() hash.Hash{
	"sha256":  sha256.New,
	"sha512":  sha512.New,
	"blake2b": newBlake2b256,
}

func newBlake2b256() hash.Hash {
	// Unkeyed blake2b-256 never fails.
	h, _ := blake2b.New256(nil)
	return h
}

// Algorithms lists the supported algorithm names, sorted.
func Algorithms() []string {
	return slices.Sorted(maps.Keys(registry))
}

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

func IsSupported(name string) bool {
	_, ok := registry[name]
	return ok
}

// Checksum returns "<algo>:<hex digest>" of data.
func Checksum(algo string, data []byte) (string, error) {
	h, err := GetHasher(algo)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return algo + ":" + hex.EncodeToString(h.Sum(nil)), nil
}
