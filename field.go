package onion

import (
	"fmt"

	"github.com/google/uuid"
)

// Layout picks which onions a column gets at creation time. At least
// one must be set, or the column would carry no ciphertext at all —
// buildField rejects an empty Layout.
type Layout struct {
	DET    bool
	OPE    bool
	AGG    bool
	SEARCH bool
	// IsInt selects the single-block DETInt primitive over the CMC DET
	// one for the DET onion, and adds the OPE_JOIN level to the OPE
	// onion. The OPE onion's layers take a 4-byte value either way; they
	// do not pack text themselves. AGG always operates on int64 and is
	// only meaningful when IsInt is true.
	IsInt bool
}

func (l Layout) onions() []Onion {
	var out []Onion
	if l.DET {
		out = append(out, OnionDET)
	}
	if l.OPE {
		out = append(out, OnionOPE)
	}
	if l.AGG {
		out = append(out, OnionAGG)
	}
	if l.SEARCH {
		out = append(out, OnionSEARCH)
	}
	return out
}

// Field is one encrypted column: spec section 4.4's FieldMeta,
// generalized over the four encrypted onions instead of CryptDB's onion
// triple.
// A Field owns one Stack per onion it was created with, plus the salt
// counter used to randomize its RND-family outer layers.
type Field struct {
	ID       uint64
	Table    string // logical table name, not a pointer — see design notes
	Name     string // logical column name
	Anon     string // anonymized column name used on the wire/at rest
	IsInt    bool
	stacks   map[Onion]*Stack
	nextSalt uint64

	// ecjoin is a standalone join-adjustable primitive, independent of
	// any onion stack: unlike DET-JOIN's single process-wide key, every
	// field gets its own EC-join key, so joining two fields requires
	// computing a delta between them (see ecjoin.go).
	ecjoin *ECJoin
}

// label is the structured key-derivation label for this field,
// "table.column" (it carries no database component).
func (f *Field) label() string {
	return fmt.Sprintf("%s.%s", f.Table, f.Name)
}

// peekNextSalt returns the next salt this field would lease without
// mutating its counter. Pairs with commitSalt — see Schema.LeaseSalt,
// which persists the new counter durably before installing it here,
// mirroring Stack's PeekPeel/CommitPeel split.
func (f *Field) peekNextSalt() uint64 {
	return f.nextSalt + 1
}

// commitSalt installs v as this field's current salt counter, matching
// a prior peekNextSalt that the caller has since made durable.
func (f *Field) commitSalt(v uint64) {
	f.nextSalt = v
}

// Onions reports which onions this field currently has stacks for.
func (f *Field) Onions() []Onion {
	out := make([]Onion, 0, len(f.stacks))
	for o := range f.stacks {
		out = append(out, o)
	}
	return out
}

// Stack returns this field's stack for onion o, or nil if the field was
// never given that onion.
func (f *Field) Stack(o Onion) *Stack {
	return f.stacks[o]
}

// homLayerFor finds the homLayer within onion o's stack, used by
// Manager for cache warming and exposing the Paillier modulus.
func (f *Field) homLayerFor(o Onion) (*homLayer, error) {
	st := f.stacks[o]
	if st == nil {
		return nil, schemaErr("field %s.%s has no %s onion", f.Table, f.Name, o)
	}
	for _, l := range st.Layers() {
		if hl, ok := l.(*homLayer); ok {
			return hl, nil
		}
	}
	return nil, schemaErr("field %s.%s: %s onion has no HOM layer", f.Table, f.Name, o)
}

// buildField constructs a Field with a freshly keyed stack for every
// onion named in layout, in the standard outermost-to-innermost order
// of onionStacks (reversed to store innermost-first, per Stack's
// contract).
func buildField(kr *keyRing, id uint64, table, name string, layout Layout) (*Field, error) {
	anon, err := anonName("col")
	if err != nil {
		return nil, err
	}
	return buildFieldWithID(kr, id, table, name, anon, layout)
}

// buildFieldWithID is buildField with an already-chosen anonymized
// name, used when rebuilding a Field from a persisted record on
// startup (schema.go).
func buildFieldWithID(kr *keyRing, id uint64, table, name, anon string, layout Layout) (*Field, error) {
	if len(layout.onions()) == 0 {
		return nil, schemaErr("field %s.%s: layout selects no onion", table, name)
	}
	f := &Field{
		ID:     id,
		Table:  table,
		Name:   name,
		Anon:   anon,
		IsInt:  layout.IsInt,
		stacks: make(map[Onion]*Stack),
	}
	for _, o := range layout.onions() {
		st, err := buildStack(kr, f.label(), o, layout.IsInt)
		if err != nil {
			return nil, err
		}
		f.stacks[o] = st
	}
	ec, err := NewECJoin(kr.deriveSize(f.label(), levelECJoin, 32))
	if err != nil {
		return nil, err
	}
	f.ecjoin = ec
	return f, nil
}

// buildStack derives a key for every level of onion o (outermost to
// innermost order from onionStacks, reversed for Stack's innermost-
// first storage) and wraps each in the matching concrete Layer.
func buildStack(kr *keyRing, label string, o Onion, isInt bool) (*Stack, error) {
	levels := StackLevels(o, isInt)
	layers := make([]Layer, len(levels))
	for i, lvl := range levels {
		l, err := buildLayer(kr, label, o, lvl, isInt)
		if err != nil {
			return nil, err
		}
		layers[i] = l
	}
	// levels is outermost-first; Stack wants innermost-first.
	for i, j := 0, len(layers)-1; i < j; i, j = i+1, j-1 {
		layers[i], layers[j] = layers[j], layers[i]
	}
	return NewStack(o, layers)
}

func buildLayer(kr *keyRing, label string, o Onion, lvl SecLevel, isInt bool) (Layer, error) {
	switch lvl {
	case LevelPLAINDET, LevelPLAINOPE, LevelPLAINAGG, LevelPLAINSEARCH:
		return &plainLayer{level: lvl, label: label}, nil
	case LevelDETJOIN:
		key := kr.deriveJoinKey()
		if isInt {
			// Innermost real crypto layer for integer columns: operates
			// on the true 4-byte value, not a chained block.
			return newDETIntLayer(lvl, joinLabel, key, false)
		}
		return newDETLayer(lvl, joinLabel, key)
	case LevelDET:
		key := kr.derive(label, lvl)
		if isInt {
			// Stacked on top of LevelDETJOIN's DETInt layer: its input is
			// that layer's 16-byte ciphertext, not the original value.
			return newDETIntLayer(lvl, label, key, true)
		}
		return newDETLayer(lvl, label, key)
	case LevelRNDDET:
		return newRNDLayer(lvl, label, kr.derive(label, lvl))
	case LevelOPEJOIN:
		return newOPELayer(lvl, joinLabel, kr.derive(joinLabel, lvl))
	case LevelOPE:
		return newOPELayer(lvl, label, kr.derive(label, lvl))
	case LevelRNDOPE:
		return newRNDLayer(lvl, label, kr.derive(label, lvl))
	case LevelHOM:
		p, err := GeneratePaillierKey()
		if err != nil {
			return nil, err
		}
		return &homLayer{level: lvl, label: label, paillier: p}, nil
	case LevelSWP:
		return newSWPLayer(lvl, label, kr.deriveSize(label, lvl, 32))
	default:
		return nil, schemaErr("onion %s: unhandled level %s", o, lvl)
	}
}

// anonName generates a collision-resistant anonymized name for a table
// or column, per spec section 4.4. Collisions are astronomically
// unlikely with a random UUIDv4; the name is not checked against
// existing ones, and no retry is made on a collision.
func anonName(prefix string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", backendErr(err, "generating anonymized name")
	}
	return fmt.Sprintf("%s_%s", prefix, id.String()), nil
}
