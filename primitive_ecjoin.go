package onion

import (
	"crypto/sha512"

	"github.com/gtank/ristretto255"
)

// ECJoin implements the elliptic-curve-based deterministic joinable
// encryption of spec section 4.1, over ristretto255 (the prime-order
// group used by codahale-veil-go in the retrieval pack): enc_i(x) =
// k_i . H(x), where H maps plaintext into the group via Elligator2
// (Element.FromUniformBytes over a SHA-512 digest of x). Joining column i
// with column j is a non-interactive scalar multiplication by
// delta = k_j * k_i^-1.
type ECJoin struct {
	scalar *ristretto255.Scalar
}

// NewECJoin constructs an ECJoin primitive from a 32-byte key, hashed
// into a ristretto255 scalar the same way codahale-veil-go derives
// scalars from arbitrary-length key material.
func NewECJoin(key []byte) (*ECJoin, error) {
	if len(key) == 0 {
		return nil, cryptoErr("ECJoin: key must not be empty")
	}
	return &ECJoin{scalar: deriveECScalar(key)}, nil
}

func deriveECScalar(key []byte) *ristretto255.Scalar {
	h := sha512.Sum512(key)
	return ristretto255.NewScalar().FromUniformBytes(h[:])
}

func hashToElement(x []byte) *ristretto255.Element {
	h := sha512.Sum512(x)
	return ristretto255.NewElement().FromUniformBytes(h[:])
}

// Encrypt returns enc_i(x) = k_i . H(x), encoded as a 32-byte point.
func (e *ECJoin) Encrypt(x []byte) []byte {
	p := ristretto255.NewElement().ScalarMult(e.scalar, hashToElement(x))
	return p.Encode(nil)
}

// DeltaKey computes delta_{i->j} = k_j * k_i^-1 from the two columns'
// ECJoin primitives alone; it leaks only that the two columns have been
// linked, per spec section 4.1.
func DeltaKey(from, to *ECJoin) []byte {
	inv := ristretto255.NewScalar().Invert(from.scalar)
	delta := ristretto255.NewScalar().Multiply(to.scalar, inv)
	return delta.Encode(nil)
}

// Adjust applies a delta key (as produced by DeltaKey) to a ciphertext
// produced by Encrypt under the "from" key, producing the ciphertext
// that would have resulted from encrypting the same plaintext under the
// "to" key: adjust(delta_{i->j}, enc_i(x)) == enc_j(x).
func Adjust(delta, ciphertext []byte) ([]byte, error) {
	d := ristretto255.NewScalar()
	if err := d.Decode(delta); err != nil {
		return nil, cryptoErr("ECJoin: invalid delta key: %v", err)
	}
	p := ristretto255.NewElement()
	if err := p.Decode(ciphertext); err != nil {
		return nil, cryptoErr("ECJoin: invalid ciphertext point: %v", err)
	}
	out := ristretto255.NewElement().ScalarMult(d, p)
	return out.Encode(nil), nil
}
