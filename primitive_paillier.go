package onion

import (
	"crypto/rand"
	"math/big"
)

// paillierBits is the bit length of the public modulus N; spec 4.1 picks
// two primes of n/4 bits each, so N itself is paillierBits/2 bits and N²
// is paillierBits bits. 2048 gives a 1024-bit N, a conservative size for
// an additively homomorphic aggregate onion.
const paillierBits = 2048

// Paillier implements the additively homomorphic HOM onion layer.
// Ciphertext size is fixed at len(N²) bytes; ciphertext multiplication
// (mod N²) is plaintext addition (mod N), which is exactly what the
// backend's agg_add UDF performs server-side (spec section 6).
//
// There is no Paillier or general-purpose big-integer public-key scheme
// among the retrieval pack's example repositories, so this is built on
// math/big from the standard library (see DESIGN.md).
type Paillier struct {
	n, nSquared *big.Int
	g           *big.Int

	// secret; nil for a public-key-only instance.
	lambda, mu *big.Int
}

// GeneratePaillierKey generates a fresh Paillier keypair following spec
// section 4.1: two primes of paillierBits/4 bits, N = p*q,
// lambda = lcm(p-1, q-1), g = N+1 (the standard simplified generator,
// for which g^lambda mod N^2 = 1 + lambda*N, so L(g^lambda mod N^2) =
// lambda mod N — the well-known simplification of the original
// scheme). A key whose L value has no inverse mod N is discarded and
// generation starts over.
func GeneratePaillierKey() (*Paillier, error) {
	primeBits := paillierBits / 4
	for {
		p, err := rand.Prime(rand.Reader, primeBits)
		if err != nil {
			return nil, cryptoErr("paillier: %v", err)
		}
		q, err := rand.Prime(rand.Reader, primeBits)
		if err != nil {
			return nil, cryptoErr("paillier: %v", err)
		}
		if p.Cmp(q) == 0 {
			continue
		}

		n := new(big.Int).Mul(p, q)
		pMinus1 := new(big.Int).Sub(p, big.NewInt(1))
		qMinus1 := new(big.Int).Sub(q, big.NewInt(1))
		gcdPQ := new(big.Int).GCD(nil, nil, pMinus1, qMinus1)
		lambda := new(big.Int).Div(new(big.Int).Mul(pMinus1, qMinus1), gcdPQ)

		g := new(big.Int).Add(n, big.NewInt(1))

		nSquared := new(big.Int).Mul(n, n)
		lg := lFunction(new(big.Int).Exp(g, lambda, nSquared), n)
		mu := new(big.Int).ModInverse(lg, n)
		if mu == nil {
			continue
		}

		return &Paillier{
			n:        n,
			nSquared: nSquared,
			g:        g,
			lambda:   lambda,
			mu:       mu,
		}, nil
	}
}

func lFunction(x, n *big.Int) *big.Int {
	num := new(big.Int).Sub(x, big.NewInt(1))
	return new(big.Int).Div(num, n)
}

// NewPaillierFromSecret reconstructs a Paillier instance from its
// persisted secret parameters (rebuildField in schema.go), since key generation
// itself is random and not re-derivable from the master secret the way
// every other layer's key is.
func NewPaillierFromSecret(n, lambda, mu *big.Int) *Paillier {
	nSquared := new(big.Int).Mul(n, n)
	g := new(big.Int).Add(n, big.NewInt(1))
	return &Paillier{n: n, nSquared: nSquared, g: g, lambda: lambda, mu: mu}
}

// Lambda returns the secret exponent, for persistence only.
func (p *Paillier) Lambda() *big.Int { return new(big.Int).Set(p.lambda) }

// Mu returns the secret multiplicative inverse, for persistence only.
func (p *Paillier) Mu() *big.Int { return new(big.Int).Set(p.mu) }

// N returns the public modulus, exposed read-only so the DBMS-side
// aggregator can be parameterized with N² (spec section 6).
func (p *Paillier) N() *big.Int {
	return new(big.Int).Set(p.n)
}

// NSquared returns N², the modulus ciphertexts live under.
func (p *Paillier) NSquared() *big.Int {
	return new(big.Int).Set(p.nSquared)
}

// CiphertextSize returns the fixed encoded ciphertext size in bytes:
// ceil(bitlen(N²)/8).
func (p *Paillier) CiphertextSize() int {
	return (p.nSquared.BitLen() + 7) / 8
}

// signedToPlain maps a signed 64-bit integer into [0, N) by wrapping
// negatives around the modulus, so the public API can expose ordinary
// Go integers while the scheme's plaintext space is [0, N).
func (p *Paillier) signedToPlain(v int64) *big.Int {
	m := big.NewInt(v)
	if m.Sign() < 0 {
		m.Add(m, p.n)
	}
	return m
}

// plainToSigned maps a value in [0, N) back to a signed 64-bit integer,
// treating anything in the upper half of [0, N) as negative. This mirrors
// the sign convention signedToPlain uses and only makes sense for values
// that started life as a small signed int64.
func (p *Paillier) plainToSigned(m *big.Int) int64 {
	half := new(big.Int).Rsh(p.n, 1)
	if m.Cmp(half) > 0 {
		neg := new(big.Int).Sub(m, p.n)
		return neg.Int64()
	}
	return m.Int64()
}

// Encrypt returns enc(v) = g^v * r^N mod N^2 for a fresh random
// r in [0, N).
func (p *Paillier) Encrypt(v int64) ([]byte, error) {
	m := p.signedToPlain(v)
	r, err := p.randomUnit()
	if err != nil {
		return nil, err
	}
	return p.encodeCiphertext(p.encryptRaw(m, r)), nil
}

// EncryptFixed encrypts with a caller-supplied randomizer r, used by the
// precomputed encryption table (cache.go) to pre-derive single-use
// ciphertexts for frequently-encrypted plaintexts such as 1.
func (p *Paillier) EncryptFixed(v int64, r *big.Int) []byte {
	m := p.signedToPlain(v)
	return p.encodeCiphertext(p.encryptRaw(m, r))
}

func (p *Paillier) encryptRaw(m, r *big.Int) *big.Int {
	gm := new(big.Int).Exp(p.g, m, p.nSquared)
	rn := new(big.Int).Exp(r, p.n, p.nSquared)
	c := new(big.Int).Mul(gm, rn)
	c.Mod(c, p.nSquared)
	return c
}

func (p *Paillier) randomUnit() (*big.Int, error) {
	r, err := rand.Int(rand.Reader, p.n)
	if err != nil {
		return nil, cryptoErr("paillier: %v", err)
	}
	if r.Sign() == 0 {
		r.SetInt64(1)
	}
	return r, nil
}

// Decrypt recovers the signed plaintext. Requires the secret key
// (lambda, mu); returns CryptoError if this instance is public-key-only.
func (p *Paillier) Decrypt(ct []byte) (int64, error) {
	if p.lambda == nil {
		return 0, cryptoErr("paillier: decrypt requires the secret key")
	}
	c, err := p.decodeCiphertext(ct)
	if err != nil {
		return 0, err
	}
	cl := new(big.Int).Exp(c, p.lambda, p.nSquared)
	m := new(big.Int).Mod(new(big.Int).Mul(lFunction(cl, p.n), p.mu), p.n)
	return p.plainToSigned(m), nil
}

// Add homomorphically combines two ciphertexts: dec(Add(enc(a),enc(b)))
// == a+b mod N.
func (p *Paillier) Add(ctA, ctB []byte) ([]byte, error) {
	a, err := p.decodeCiphertext(ctA)
	if err != nil {
		return nil, err
	}
	b, err := p.decodeCiphertext(ctB)
	if err != nil {
		return nil, err
	}
	sum := new(big.Int).Mod(new(big.Int).Mul(a, b), p.nSquared)
	return p.encodeCiphertext(sum), nil
}

func (p *Paillier) encodeCiphertext(c *big.Int) []byte {
	size := p.CiphertextSize()
	out := make([]byte, size)
	c.FillBytes(out)
	return out
}

func (p *Paillier) decodeCiphertext(ct []byte) (*big.Int, error) {
	if len(ct) != p.CiphertextSize() {
		return nil, cryptoErr("paillier: ciphertext must be %d bytes, got %d", p.CiphertextSize(), len(ct))
	}
	return new(big.Int).SetBytes(ct), nil
}
