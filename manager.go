package onion

import (
	"context"
	"math/big"
	"sync/atomic"
)

// Manager is the crypto manager / onion engine of spec section 4.3: it
// owns the master-derived key ring and the precomputed encryption
// cache, and drives every level transition a caller asks for. It does
// not itself own a Schema — OpenSchema hands back one that shares the
// Manager's key ring, but a Manager can also operate directly on
// Fields obtained from a Schema constructed independently.
type Manager struct {
	kr     *keyRing
	cache  *encryptionCache
	closed atomic.Bool
}

// NewManager builds a Manager from the given Options. At least one of
// WithMasterKey or WithMasterKeyProvider is required.
func NewManager(opts ...Option) (*Manager, error) {
	cfg := &managerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.provider == nil {
		return nil, schemaErr("onion: NewManager requires WithMasterKey or WithMasterKeyProvider")
	}
	key, err := cfg.provider.MasterKey()
	if err != nil {
		return nil, cryptoErr("onion: master key provider failed: %v", err)
	}
	kr, err := newKeyRing(key)
	if err != nil {
		return nil, err
	}
	return &Manager{kr: kr, cache: newEncryptionCache()}, nil
}

// OpenSchema opens a Schema against backend, sharing this Manager's key
// ring (and therefore its key-derivation cache) rather than deriving
// keys twice.
func (m *Manager) OpenSchema(ctx context.Context, backend Backend) (*Schema, error) {
	if m.closed.Load() {
		return nil, schemaErr("onion: manager is closed")
	}
	return newSchemaWithKeyRing(ctx, backend, m.kr)
}

// EncryptToLevel encrypts plaintext up through level within field's
// onion o, consulting the precomputed cache first for schemes where
// that is safe (non-randomized layers at the exact target level).
func (m *Manager) EncryptToLevel(field *Field, o Onion, level SecLevel, plaintext []byte, salt uint64) ([]byte, error) {
	if m.closed.Load() {
		return nil, schemaErr("onion: manager is closed")
	}
	st := field.Stack(o)
	if st == nil {
		return nil, schemaErr("field %s.%s has no %s onion", field.Table, field.Name, o)
	}

	key := cacheKey{fieldID: field.ID, onion: o, level: level, plain: string(plaintext)}
	switch level {
	case LevelHOM:
		if ct, ok := m.cache.takeQueue(key); ok {
			return ct, nil
		}
	case LevelRNDDET, LevelRNDOPE:
		// RND output depends on the salt, which the cache key does not
		// capture, so these levels are always computed.
	default:
		if ct, ok := m.cache.getFixed(key); ok {
			return ct, nil
		}
	}

	return st.EncryptTo(plaintext, level, salt)
}

// DecryptToLevel decrypts ciphertext down to level within field's onion
// o, returning that level's representation (the plaintext itself, if
// level is the onion's PLAIN_* level).
func (m *Manager) DecryptToLevel(field *Field, o Onion, level SecLevel, ciphertext []byte, salt uint64) ([]byte, error) {
	if m.closed.Load() {
		return nil, schemaErr("onion: manager is closed")
	}
	st := field.Stack(o)
	if st == nil {
		return nil, schemaErr("field %s.%s has no %s onion", field.Table, field.Name, o)
	}
	return st.DecryptTo(ciphertext, level, salt)
}

// WarmCache precomputes n entries for (field, onion, level, plaintext)
// ahead of time. For LevelHOM it enqueues n freshly randomized
// ciphertexts (each consumed exactly once by EncryptToLevel); for every
// other level it computes the single ciphertext once (with salt 0) and
// caches it — n is ignored in that case. EncryptToLevel never serves an
// RND-level entry, since its ciphertext depends on the salt.
func (m *Manager) WarmCache(field *Field, o Onion, level SecLevel, plaintext []byte, n int) error {
	st := field.Stack(o)
	if st == nil {
		return schemaErr("field %s.%s has no %s onion", field.Table, field.Name, o)
	}
	key := cacheKey{fieldID: field.ID, onion: o, level: level, plain: string(plaintext)}

	if level != LevelHOM {
		ct, err := st.EncryptTo(plaintext, level, 0)
		if err != nil {
			return err
		}
		m.cache.putFixed(key, ct)
		return nil
	}

	hl, err := field.homLayerFor(o)
	if err != nil {
		return err
	}
	v := int64FromBytes(plaintext)
	for i := 0; i < n; i++ {
		r, err := hl.paillier.randomUnit()
		if err != nil {
			return err
		}
		m.cache.pushQueue(key, hl.paillier.EncryptFixed(v, r))
	}
	return nil
}

// PaillierModulus returns the public modulus N of field's AGG onion,
// for parameterizing a server-side SUM aggregator (spec section 6).
func (m *Manager) PaillierModulus(field *Field) (*big.Int, error) {
	hl, err := field.homLayerFor(OnionAGG)
	if err != nil {
		return nil, err
	}
	return hl.paillier.N(), nil
}

// OnionCandidate is one onion usable to serve a query, paired with the
// field's current top level within that onion. ChooseOnion needs the
// level to know how much further peeling each candidate would cost.
type OnionCandidate struct {
	Onion Onion
	Level SecLevel
}

// ChooseOnion picks among candidates the onion whose current top level
// is weakest — closest to PLAIN, so reaching it costs the least further
// peeling (spec section 4.3's primary rule). Candidates tied on weakness
// (including a level rank's rare (0, false) miss, treated as weakest)
// fall back to the fixed order DET < OPE < AGG < SEARCH.
func ChooseOnion(candidates []OnionCandidate) (Onion, bool) {
	if len(candidates) == 0 {
		return OnionPLAIN, false
	}
	weakness := func(c OnionCandidate) int {
		r, ok := rank(c.Onion, c.Level)
		if !ok {
			return len(onionStacks[c.Onion])
		}
		return r
	}
	best := candidates[0]
	bestWeakness := weakness(best)
	for _, c := range candidates[1:] {
		w := weakness(c)
		switch {
		case w > bestWeakness:
			best, bestWeakness = c, w
		case w == bestWeakness && c.Onion.Less(best.Onion):
			best, bestWeakness = c, w
		}
	}
	return best.Onion, true
}

// Close zeroizes the master key and every derived subkey. The Manager
// (and any Schema opened from it) must not be used afterward.
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.kr.zero()
	return nil
}

func int64FromBytes(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
