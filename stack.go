package onion

import "sync"

// Stack is one onion's layer stack for a single field: OnionMeta from
// the original schema model, generalized to any of the four encrypted
// onions.
// Layers are stored innermost-first, so the current (outermost) layer
// is always the last element — peel() is pop(), encrypt() walks the
// slice front to back.
type Stack struct {
	mu     sync.RWMutex
	onion  Onion
	layers []Layer
}

// NewStack builds a Stack from layers already ordered innermost-first.
// The caller (field.go, building a fresh onion at column-creation time)
// is responsible for ordering them correctly; NewStack only validates
// that the levels they carry are a legal subsequence of this onion's
// level order.
func NewStack(o Onion, layers []Layer) (*Stack, error) {
	if len(layers) == 0 {
		return nil, schemaErr("onion %s: a stack must have at least one layer", o)
	}
	prevRank := len(onionStacks[o])
	for _, l := range layers {
		r, ok := rank(o, l.Level())
		if !ok {
			return nil, schemaErr("onion %s: level %s does not belong to this onion", o, l.Level())
		}
		if r >= prevRank {
			return nil, schemaErr("onion %s: layers must be strictly ordered innermost to outermost", o)
		}
		prevRank = r
	}
	return &Stack{onion: o, layers: layers}, nil
}

// Onion reports which onion this stack belongs to.
func (s *Stack) Onion() Onion { return s.onion }

// CurrentLevel reports the SecLevel of the outermost (current) layer.
func (s *Stack) CurrentLevel() SecLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers[len(s.layers)-1].Level()
}

// Depth reports how many layers remain.
func (s *Stack) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// Layers returns a copy of the current layer slice, innermost-first.
func (s *Stack) Layers() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Encrypt feeds plaintext through every layer, innermost to outermost,
// returning the stack's current (outermost) representation.
func (s *Stack) Encrypt(plaintext []byte, salt uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := plaintext
	for _, l := range s.layers {
		next, err := l.Encrypt(cur, salt)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// EncryptTo feeds plaintext through every layer from innermost up to
// and including target, stopping short of the full stack when target
// is not the outermost level.
func (s *Stack) EncryptTo(plaintext []byte, target SecLevel, salt uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targetRank, ok := rank(s.onion, target)
	if !ok {
		return nil, levelErr("onion %s: %s is not a valid target level", s.onion, target)
	}
	cur := plaintext
	for _, l := range s.layers {
		next, err := l.Encrypt(cur, salt)
		if err != nil {
			return nil, err
		}
		cur = next
		if lr, _ := rank(s.onion, l.Level()); lr == targetRank {
			return cur, nil
		}
	}
	return nil, levelErr("onion %s: %s is not present in this stack", s.onion, target)
}

// DecryptTo feeds ciphertext back down from the outermost layer to the
// target level (inclusive), returning that level's representation.
// target must currently be present in the stack.
func (s *Stack) DecryptTo(ciphertext []byte, target SecLevel, salt uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targetRank, ok := rank(s.onion, target)
	if !ok {
		return nil, levelErr("onion %s: %s is not a valid target level", s.onion, target)
	}
	cur := ciphertext
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		lr, _ := rank(s.onion, l.Level())
		if lr == targetRank {
			return cur, nil
		}
		next, err := l.Decrypt(cur, salt)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return nil, levelErr("onion %s: %s is not present in this stack", s.onion, target)
}

// Peel pops the outermost layer, decrypting one step down and returning
// the scheme identifier and key material a SQL-side UDF would need to
// perform that same decryption, plus the new outermost representation.
// Peel fails if it would leave the stack empty: the innermost layer (the
// PLAIN_* carrier) is never removed by peeling — reaching it requires
// keeping it as the sole remaining layer.
//
// Peel is PeekPeel immediately followed by CommitPeel. A caller that must
// durably persist the new level before the pop becomes observable (per
// spec section 7's "no partial-peel state is ever observable": compute,
// then persist, then install) calls the two steps separately instead —
// see Schema.Peel.
func (s *Stack) Peel(ciphertext []byte, salt uint64) (PeelDirective, []byte, error) {
	directive, inner, err := s.PeekPeel(ciphertext, salt)
	if err != nil {
		return PeelDirective{}, nil, err
	}
	if err := s.CommitPeel(); err != nil {
		return PeelDirective{}, nil, err
	}
	return directive, inner, nil
}

// PeekPeel computes what peeling the outermost layer would produce —
// the directive and the one-layer-decrypted ciphertext — without
// mutating the stack. Pairs with CommitPeel.
func (s *Stack) PeekPeel(ciphertext []byte, salt uint64) (PeelDirective, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.layers) <= 1 {
		return PeelDirective{}, nil, levelErr("onion %s: cannot peel the innermost layer", s.onion)
	}
	top := s.layers[len(s.layers)-1]
	inner, err := top.Decrypt(ciphertext, salt)
	if err != nil {
		return PeelDirective{}, nil, err
	}
	directive := PeelDirective{
		Onion:       s.onion,
		FromLevel:   top.Level(),
		ToLevel:     s.layers[len(s.layers)-2].Level(),
		Scheme:      top.Scheme(),
		KeyMaterial: top.KeyMaterial(),
	}
	return directive, inner, nil
}

// CommitPeel pops the outermost layer, matching a prior PeekPeel on the
// same stack. The caller is responsible for having durably persisted
// the resulting state first.
func (s *Stack) CommitPeel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.layers) <= 1 {
		return levelErr("onion %s: cannot peel the innermost layer", s.onion)
	}
	s.layers = s.layers[:len(s.layers)-1]
	return nil
}

// ReplaceTop swaps the outermost layer for a freshly keyed one at the
// same level, re-encrypting the current ciphertext under it. Used
// during schema migration (e.g. rotating a column's RND key) without
// disturbing inner layers. Atomic with respect to Peel and DecryptTo:
// both hold s.mu for their duration.
func (s *Stack) ReplaceTop(ciphertext []byte, salt uint64, newTop Layer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.layers[len(s.layers)-1]
	if old.Level() != newTop.Level() {
		return nil, schemaErr("onion %s: replacement layer must share the current level %s, got %s", s.onion, old.Level(), newTop.Level())
	}
	inner, err := old.Decrypt(ciphertext, salt)
	if err != nil {
		return nil, err
	}
	fresh, err := newTop.Encrypt(inner, salt)
	if err != nil {
		return nil, err
	}
	s.layers[len(s.layers)-1] = newTop
	return fresh, nil
}

// restoreDepth trims the stack down to end at level, for reconstructing
// a Stack on startup from a field record that only remembers how far a
// column had already been peeled — the column's ciphertext in the
// backing store is already at that level, so this adjusts which Layer
// objects are tracked in memory without decrypting anything.
func (s *Stack) restoreDepth(level SecLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.layers {
		if l.Level() == level {
			s.layers = s.layers[:i+1]
			return nil
		}
	}
	return corruptionErr("onion %s: persisted level %s not found while rebuilding stack", s.onion, level)
}

// restoreLayer replaces the layer at the given level in place, used
// only to splice a persisted Paillier keypair back into a freshly
// built HOM layer on startup (see field.go/schema.go).
func (s *Stack) restoreLayer(level SecLevel, l Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.layers {
		if existing.Level() == level {
			s.layers[i] = l
			return nil
		}
	}
	return corruptionErr("onion %s: level %s not found while restoring layer", s.onion, level)
}

// PeelDirective is what Peel returns for the caller to actually apply
// against the backing store: the SQL rewriter issues a DBMS-side
// decrypt call described by Scheme and KeyMaterial, then persists the
// new ToLevel for the column (spec section 4.2's "proof-of-peel
// directive").
type PeelDirective struct {
	Onion       Onion
	FromLevel   SecLevel
	ToLevel     SecLevel
	Scheme      SchemeID
	KeyMaterial []byte
}
