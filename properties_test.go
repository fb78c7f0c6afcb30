package onion

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_RNDRoundTrip validates the universal round-trip property
// spec section 8 states for every onion: decrypting what was encrypted,
// with the same salt, always recovers the original plaintext.
func TestProperty_RNDRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	r, err := NewRND(testKey16())
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("RND decrypt(encrypt(pt, salt), salt) == pt", prop.ForAll(
		func(pt []byte, salt uint64) bool {
			ct := r.Encrypt(pt, salt)
			got, err := r.Decrypt(ct, salt)
			return err == nil && bytesEqual(got, pt)
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

// TestProperty_OPEOrderPreservation validates: for all integers a < b,
// enc(k, a) < enc(k, b) as unsigned 64-bit integers.
func TestProperty_OPEOrderPreservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	o, err := NewOPE(testKey16())
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("a < b implies enc(a) < enc(b)", prop.ForAll(
		func(a, b uint32) bool {
			if a == b {
				b++
			}
			if a > b {
				a, b = b, a
			}
			return o.Encrypt(a) < o.Encrypt(b)
		},
		gen.UInt32(),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}

// TestProperty_DETDeterminism validates: for all p, s, s':
// enc_DET(p, s) == enc_DET(p, s') (DET ignores salt entirely).
func TestProperty_DETDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	d, err := NewDET(testKey16())
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("DET is salt-independent and deterministic", prop.ForAll(
		func(pt []byte) bool {
			return bytesEqual(d.Encrypt(pt), d.Encrypt(pt))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

// TestProperty_PaillierHomomorphism validates: for all a, b in a small
// range, dec(enc(a) . enc(b) mod N^2) == (a+b) mod N.
func TestProperty_PaillierHomomorphism(t *testing.T) {
	p, err := GeneratePaillierKey()
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("dec(enc(a) * enc(b)) == a+b", prop.ForAll(
		func(a, b int32) bool {
			ca, err := p.Encrypt(int64(a))
			if err != nil {
				return false
			}
			cb, err := p.Encrypt(int64(b))
			if err != nil {
				return false
			}
			sum, err := p.Add(ca, cb)
			if err != nil {
				return false
			}
			got, err := p.Decrypt(sum)
			if err != nil {
				return false
			}
			return got == int64(a)+int64(b)
		},
		gen.Int32Range(-1000000, 1000000),
		gen.Int32Range(-1000000, 1000000),
	))

	properties.TestingRun(t)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
