package onion

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// joinLabel is the process-wide label used to derive the DET-JOIN
// equivalence key, per spec section 4.3: "DET-JOIN uses a process-wide
// 'join' label rather than the column label."
const joinLabel = "join"

// keyRing derives and caches per-(label, level) subkeys from a single
// 16-byte master secret, following the teacher's HKDF-SHA256 derivation
// (golang.org/x/crypto/hkdf), generalized from a single info string to
// the structured "db.table.column"/level labels spec section 4.1 requires.
//
// Losing the cache is never fatal: every entry is cheaply re-derivable
// from the master key, which is itself immutable for the lifetime of the
// keyRing.
type keyRing struct {
	master [16]byte

	mu    sync.Mutex
	cache map[string][]byte
}

func newKeyRing(master []byte) (*keyRing, error) {
	if len(master) != 16 {
		return nil, cryptoErr("master key must be 16 bytes, got %d", len(master))
	}
	kr := &keyRing{cache: make(map[string][]byte)}
	copy(kr.master[:], master)
	return kr, nil
}

// derive returns the 16-byte subkey for (label, level). label is a
// structured identifier such as "db.table.column"; for a join-
// compatible level the caller passes joinLabel instead of the column's
// own label, binding every column that reaches that level to the same
// key.
func (kr *keyRing) derive(label string, level SecLevel) []byte {
	return kr.deriveSize(label, level, 16)
}

// deriveSize is derive with an explicit output length, for primitives
// whose key is wider than 16 bytes (SWP's HMAC key).
func (kr *keyRing) deriveSize(label string, level SecLevel, size int) []byte {
	cacheKey := fmt.Sprintf("%s\x00%d\x00%d", label, level, size)

	kr.mu.Lock()
	if k, ok := kr.cache[cacheKey]; ok {
		kr.mu.Unlock()
		return k
	}
	kr.mu.Unlock()

	info := fmt.Sprintf("onion-layer:%s:%d", label, level)
	out := make([]byte, size)
	reader := hkdf.New(sha256.New, kr.master[:], nil, []byte(info))
	if _, err := io.ReadFull(reader, out); err != nil {
		// HKDF-SHA256 can only fail to expand when the caller asks for
		// more output than the hash function supports generating; a few
		// dozen bytes is always obtainable, so this is unreachable.
		panic("onion: hkdf expand failed: " + err.Error())
	}

	kr.mu.Lock()
	kr.cache[cacheKey] = out
	kr.mu.Unlock()

	return out
}

// deriveJoinKey returns the shared DET-JOIN equivalence key.
func (kr *keyRing) deriveJoinKey() []byte {
	return kr.derive(joinLabel, LevelDETJOIN)
}

// zero overwrites the master key in place. Called on Manager.Close.
func (kr *keyRing) zero() {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	for i := range kr.master {
		kr.master[i] = 0
	}
	for k := range kr.cache {
		v := kr.cache[k]
		for i := range v {
			v[i] = 0
		}
		delete(kr.cache, k)
	}
}
