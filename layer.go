package onion

import (
	"encoding/binary"
)

// SchemeID tags a Layer's concrete scheme for persistence and dispatch,
// replacing the legacy nested (field_type, onion, from, to) conditionals
// (design notes, spec section 9) with a small closed set of concrete
// types behind one interface.
type SchemeID int

const (
	SchemePlain SchemeID = iota
	SchemeRND
	SchemeDET
	SchemeDETInt
	SchemeOPE
	SchemeHOM
	SchemeSWP
)

func (s SchemeID) String() string {
	switch s {
	case SchemePlain:
		return "plain"
	case SchemeRND:
		return "rnd"
	case SchemeDET:
		return "det"
	case SchemeDETInt:
		return "det_int"
	case SchemeOPE:
		return "ope"
	case SchemeHOM:
		return "hom"
	case SchemeSWP:
		return "swp"
	default:
		return "invalid"
	}
}

// Layer is one step inside an onion: its own scheme and key. Layers of
// different concrete types share only this interface (the "tagged sum
// with a thin polymorphic adapter" design notes section 9 calls for,
// rather than a deep class hierarchy).
type Layer interface {
	// Level is this layer's SecLevel within its onion.
	Level() SecLevel
	// Scheme identifies the concrete encryption scheme for persistence
	// and dispatch.
	Scheme() SchemeID
	// Label is the structured identifier this layer's key was derived
	// from (a column label, or the literal "join" label for DET_JOIN).
	// Per design notes section 9, only the label is ever stored — never
	// a pointer back to the owning field.
	Label() string
	// Encrypt consumes the layer below's output as its own plaintext,
	// returning this layer's ciphertext.
	Encrypt(input []byte, salt uint64) ([]byte, error)
	// Decrypt reverses Encrypt, recovering the layer below's
	// representation.
	Decrypt(input []byte, salt uint64) ([]byte, error)
	// KeyMaterial returns the raw key bytes a UDF-based peel of this
	// layer would need (spec section 4.2's peel() return value).
	KeyMaterial() []byte
}

// plainLayer is the no-op carrier for a cleartext value (design notes,
// spec section 9: "a no-op carrier for a cleartext value").
type plainLayer struct {
	level SecLevel
	label string
}

func (l *plainLayer) Level() SecLevel                            { return l.level }
func (l *plainLayer) Scheme() SchemeID                            { return SchemePlain }
func (l *plainLayer) Label() string                               { return l.label }
func (l *plainLayer) KeyMaterial() []byte                         { return nil }
func (l *plainLayer) Encrypt(in []byte, _ uint64) ([]byte, error) { return in, nil }
func (l *plainLayer) Decrypt(in []byte, _ uint64) ([]byte, error) { return in, nil }

// rndLayer wraps an RND primitive.
type rndLayer struct {
	level SecLevel
	label string
	key   []byte
	rnd   *RND
}

func newRNDLayer(level SecLevel, label string, key []byte) (*rndLayer, error) {
	r, err := NewRND(key)
	if err != nil {
		return nil, err
	}
	return &rndLayer{level: level, label: label, key: key, rnd: r}, nil
}

func (l *rndLayer) Level() SecLevel    { return l.level }
func (l *rndLayer) Scheme() SchemeID   { return SchemeRND }
func (l *rndLayer) Label() string      { return l.label }
func (l *rndLayer) KeyMaterial() []byte { return l.key }
func (l *rndLayer) Encrypt(in []byte, salt uint64) ([]byte, error) {
	return l.rnd.Encrypt(in, salt), nil
}
func (l *rndLayer) Decrypt(in []byte, salt uint64) ([]byte, error) {
	return l.rnd.Decrypt(in, salt)
}

// detLayer wraps a DET primitive. Used for both the DET and DET_JOIN
// levels of a text column's DET onion — they are the same CMC scheme
// keyed differently (column label vs. the shared "join" label), so
// composing two detLayers on top of each other is exactly how a text
// DET onion gets its join-compatible inner layer (spec section 3: "a
// cross-column join onion is modeled as a distinguished DET level
// reached by peeling DET once").
type detLayer struct {
	level SecLevel
	label string
	key   []byte
	det   *DET
}

func newDETLayer(level SecLevel, label string, key []byte) (*detLayer, error) {
	d, err := NewDET(key)
	if err != nil {
		return nil, err
	}
	return &detLayer{level: level, label: label, key: key, det: d}, nil
}

func (l *detLayer) Level() SecLevel     { return l.level }
func (l *detLayer) Scheme() SchemeID    { return SchemeDET }
func (l *detLayer) Label() string       { return l.label }
func (l *detLayer) KeyMaterial() []byte { return l.key }
func (l *detLayer) Encrypt(in []byte, _ uint64) ([]byte, error) {
	return l.det.Encrypt(in), nil
}
func (l *detLayer) Decrypt(in []byte, _ uint64) ([]byte, error) {
	return l.det.Decrypt(in)
}

// detIntLayer wraps a DETInt primitive for integer-column DET onions.
//
// DETInt's single AES block has no spare bits to carry a recoverable
// value the way the OPE family does, so a layer stacked on top of
// another DETInt layer (DET over DET_JOIN, for integer columns) cannot
// re-derive the original uint32 from the inner layer's ciphertext —
// it only ever sees an opaque 16-byte block. chained marks that case:
// the layer treats its input/output as a raw AES block rather than a
// zero-extended 4-byte value, so the block-width representation is
// preserved untouched all the way up the stack.
type detIntLayer struct {
	level   SecLevel
	label   string
	key     []byte
	det     *DETInt
	chained bool
}

func newDETIntLayer(level SecLevel, label string, key []byte, chained bool) (*detIntLayer, error) {
	d, err := NewDETInt(key)
	if err != nil {
		return nil, err
	}
	return &detIntLayer{level: level, label: label, key: key, det: d, chained: chained}, nil
}

func (l *detIntLayer) Level() SecLevel     { return l.level }
func (l *detIntLayer) Scheme() SchemeID    { return SchemeDETInt }
func (l *detIntLayer) Label() string       { return l.label }
func (l *detIntLayer) KeyMaterial() []byte { return l.key }
func (l *detIntLayer) Encrypt(in []byte, _ uint64) ([]byte, error) {
	if l.chained {
		return l.det.EncryptBlock(in)
	}
	v, err := bytesToUint32(in)
	if err != nil {
		return nil, err
	}
	return l.det.Encrypt(v), nil
}
func (l *detIntLayer) Decrypt(in []byte, _ uint64) ([]byte, error) {
	if l.chained {
		return l.det.DecryptBlock(in)
	}
	v, err := l.det.Decrypt(in)
	if err != nil {
		return nil, err
	}
	return uint32ToBytes(v), nil
}

// opeLayer wraps an OPE primitive. Per the design decision in
// SPEC_FULL.md, every OPE-family layer's representation carries the
// original 32-bit value in its top 32 bits, so stacking OPE_JOIN (join
// key) beneath OPE (column key) re-derives the value from the layer
// below rather than re-encrypting opaque ciphertext bytes — this keeps
// order preservation intact all the way up to the RND_OPE layer, which
// is the one that actually hides it.
type opeLayer struct {
	level SecLevel
	label string
	key   []byte
	ope   *OPE
}

func newOPELayer(level SecLevel, label string, key []byte) (*opeLayer, error) {
	o, err := NewOPE(key)
	if err != nil {
		return nil, err
	}
	return &opeLayer{level: level, label: label, key: key, ope: o}, nil
}

func (l *opeLayer) Level() SecLevel     { return l.level }
func (l *opeLayer) Scheme() SchemeID    { return SchemeOPE }
func (l *opeLayer) Label() string       { return l.label }
func (l *opeLayer) KeyMaterial() []byte { return l.key }
func (l *opeLayer) Encrypt(in []byte, _ uint64) ([]byte, error) {
	v, err := opeInputValue(in)
	if err != nil {
		return nil, err
	}
	ct := l.ope.Encrypt(v)
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, ct)
	return out, nil
}
func (l *opeLayer) Decrypt(in []byte, _ uint64) ([]byte, error) {
	if len(in) == 4 {
		// An outer OPE-family layer has already checked its own tag and
		// handed down the bare 32-bit value, which is also this layer's
		// plaintext.
		return in, nil
	}
	if len(in) != 8 {
		return nil, cryptoErr("OPE: ciphertext must be 4 or 8 bytes, got %d", len(in))
	}
	v, err := l.ope.Decode(binary.BigEndian.Uint64(in))
	if err != nil {
		return nil, err
	}
	return uint32ToBytes(v), nil
}

func opeInputValue(in []byte) (uint32, error) {
	switch len(in) {
	case 4:
		return binary.BigEndian.Uint32(in), nil
	case 8:
		return binary.BigEndian.Uint32(in[:4]), nil
	default:
		return 0, cryptoErr("OPE: input must be 4 or 8 bytes, got %d", len(in))
	}
}

func bytesToUint32(in []byte) (uint32, error) {
	if len(in) != 4 {
		return 0, cryptoErr("DETInt: input must be 4 bytes, got %d", len(in))
	}
	return binary.BigEndian.Uint32(in), nil
}

func uint32ToBytes(v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

// homLayer wraps a Paillier keypair. Unlike the symmetric layers, its
// key material is not re-derivable from the master secret and a label —
// Paillier key generation is a random, expensive process, not a
// deterministic function of a 128-bit key — so a homLayer's Paillier
// instance is generated once at onion-creation time and persisted
// whole (see fieldRecord and rebuildField in schema.go).
type homLayer struct {
	level    SecLevel
	label    string
	paillier *Paillier
}

func (l *homLayer) Level() SecLevel     { return l.level }
func (l *homLayer) Scheme() SchemeID    { return SchemeHOM }
func (l *homLayer) Label() string       { return l.label }
func (l *homLayer) KeyMaterial() []byte { return nil }
func (l *homLayer) Encrypt(in []byte, _ uint64) ([]byte, error) {
	if len(in) != 8 {
		return nil, cryptoErr("HOM: input must be 8 bytes, got %d", len(in))
	}
	v := int64(binary.BigEndian.Uint64(in))
	return l.paillier.Encrypt(v)
}
func (l *homLayer) Decrypt(in []byte, _ uint64) ([]byte, error) {
	v, err := l.paillier.Decrypt(in)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out, nil
}

// swpLayer wraps an SWP primitive. SWP's transform is intentionally
// lossy (a document becomes a list of word tags, not a reversible
// ciphertext), so Decrypt is unsupported: it always returns a
// CryptoError, and so does any DecryptTo or Peel that has to pass
// through an SWP layer (see DESIGN.md).
type swpLayer struct {
	level SecLevel
	label string
	key   []byte
	swp   *SWP
}

func newSWPLayer(level SecLevel, label string, key []byte) (*swpLayer, error) {
	s, err := NewSWP(key)
	if err != nil {
		return nil, err
	}
	return &swpLayer{level: level, label: label, key: key, swp: s}, nil
}

func (l *swpLayer) Level() SecLevel     { return l.level }
func (l *swpLayer) Scheme() SchemeID    { return SchemeSWP }
func (l *swpLayer) Label() string       { return l.label }
func (l *swpLayer) KeyMaterial() []byte { return l.key }
func (l *swpLayer) Encrypt(in []byte, _ uint64) ([]byte, error) {
	return l.swp.EncodeText(string(in)), nil
}
func (l *swpLayer) Decrypt(_ []byte, _ uint64) ([]byte, error) {
	return nil, cryptoErr("SWP: the SEARCH onion's document index is not invertible")
}
