package onion

import "sync"

// cacheKey identifies one precomputed (field, onion, level, plaintext)
// entry, per spec section 4.3's precomputed encryption table.
type cacheKey struct {
	fieldID uint64
	onion   Onion
	level   SecLevel
	plain   string // plaintext bytes, as a map key
}

// encryptionCache holds precomputed ciphertexts keyed by
// (field, onion, level, plaintext). Apart from HOM, every level below an
// RND layer is deterministic, so a single cached ciphertext can be
// reused indefinitely (RND levels are salted per row and are not served
// from the cache); Paillier ciphertexts are randomized per encryption, so
// HOM entries are served as a single-use FIFO queue instead — each
// Take consumes one precomputed ciphertext, and WarmCache is expected
// to be called again once the queue runs dry.
type encryptionCache struct {
	mu      sync.Mutex
	fixed   map[cacheKey][]byte
	queues  map[cacheKey][][]byte
}

func newEncryptionCache() *encryptionCache {
	return &encryptionCache{
		fixed:  make(map[cacheKey][]byte),
		queues: make(map[cacheKey][][]byte),
	}
}

func (c *encryptionCache) putFixed(k cacheKey, ct []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixed[k] = ct
}

func (c *encryptionCache) getFixed(k cacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.fixed[k]
	return ct, ok
}

func (c *encryptionCache) pushQueue(k cacheKey, ct []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[k] = append(c.queues[k], ct)
}

// takeQueue pops the oldest precomputed ciphertext for k, if any.
func (c *encryptionCache) takeQueue(k cacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[k]
	if len(q) == 0 {
		return nil, false
	}
	ct := q[0]
	c.queues[k] = q[1:]
	return ct, true
}

func (c *encryptionCache) queueLen(k cacheKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[k])
}
