package onion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey16() []byte { return bytes.Repeat([]byte{0x11}, 16) }
func testKey32() []byte { return bytes.Repeat([]byte{0x22}, 32) }

func TestRND_RoundTrip(t *testing.T) {
	r, err := NewRND(testKey16())
	require.NoError(t, err)

	pt := []byte("hello onion layers")
	ct := r.Encrypt(pt, 42)
	require.Equal(t, 0, len(ct)%rndBlockSize)

	got, err := r.Decrypt(ct, 42)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestRND_SaltChangesCiphertext(t *testing.T) {
	r, err := NewRND(testKey16())
	require.NoError(t, err)

	pt := []byte("same plaintext")
	ct1 := r.Encrypt(pt, 1)
	ct2 := r.Encrypt(pt, 2)
	require.NotEqual(t, ct1, ct2)
}

func TestRND_InvalidCiphertextLength(t *testing.T) {
	r, err := NewRND(testKey16())
	require.NoError(t, err)

	_, err = r.Decrypt([]byte{1, 2, 3}, 1)
	require.Error(t, err)
}

func TestDET_Deterministic(t *testing.T) {
	d, err := NewDET(testKey16())
	require.NoError(t, err)

	pt := []byte("alice@example.com")
	ct1 := d.Encrypt(pt)
	ct2 := d.Encrypt(pt)
	require.Equal(t, ct1, ct2)

	got, err := d.Decrypt(ct1)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestDET_PreservesApostrophe(t *testing.T) {
	d, err := NewDET(testKey16())
	require.NoError(t, err)

	pt := []byte("o'brien")
	ct := d.Encrypt(pt)
	got, err := d.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, pt, got, "spec requires exact round-trip; quote bytes must never be stripped")
}

func TestDET_JoinAcrossColumnsWithSameKey(t *testing.T) {
	key := testKey16()
	a, err := NewDET(key)
	require.NoError(t, err)
	b, err := NewDET(key)
	require.NoError(t, err)

	pt := []byte("shared-value")
	require.Equal(t, a.Encrypt(pt), b.Encrypt(pt))
}

func TestDETInt_RoundTrip(t *testing.T) {
	d, err := NewDETInt(testKey16())
	require.NoError(t, err)

	ct := d.Encrypt(42)
	got, err := d.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint32(42), got)
}

func TestOPE_OrderPreserved(t *testing.T) {
	o, err := NewOPE(testKey16())
	require.NoError(t, err)

	require.Less(t, o.Encrypt(15), o.Encrypt(20))
	require.Less(t, o.Encrypt(20), o.Encrypt(30))
}

func TestOPE_DecodeRoundTrip(t *testing.T) {
	o, err := NewOPE(testKey16())
	require.NoError(t, err)

	ct := o.Encrypt(4242)
	got, err := o.Decode(ct)
	require.NoError(t, err)
	require.Equal(t, uint32(4242), got)
}

func TestOPE_PrefixOrder(t *testing.T) {
	o, err := NewOPE(testKey16())
	require.NoError(t, err)

	require.Less(t, o.EncryptPrefix("alpha"), o.EncryptPrefix("beta"))
	require.Less(t, o.EncryptPrefix("Apple"), o.EncryptPrefix("apricot"))
}

func TestSWP_ExistenceAndAbsence(t *testing.T) {
	s, err := NewSWP(testKey32())
	require.NoError(t, err)

	doc := s.EncodeText("alpha beta gamma")
	require.True(t, s.Search(s.Token([]byte("beta")), doc))
	require.False(t, s.Search(s.Token([]byte("delta")), doc))
}

func TestECJoin_AdjustMatchesDirectEncryption(t *testing.T) {
	a, err := NewECJoin(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	b, err := NewECJoin(bytes.Repeat([]byte{0x02}, 32))
	require.NoError(t, err)

	x := []byte("join-me")
	ctA := a.Encrypt(x)
	ctB := b.Encrypt(x)

	delta := DeltaKey(a, b)
	adjusted, err := Adjust(delta, ctA)
	require.NoError(t, err)
	require.Equal(t, ctB, adjusted)
}

func TestPaillier_HomomorphicSum(t *testing.T) {
	p, err := GeneratePaillierKey()
	require.NoError(t, err)

	ct10, err := p.Encrypt(10)
	require.NoError(t, err)
	ct20, err := p.Encrypt(20)
	require.NoError(t, err)
	ct30, err := p.Encrypt(30)
	require.NoError(t, err)

	sum1, err := p.Add(ct10, ct20)
	require.NoError(t, err)
	sum, err := p.Add(sum1, ct30)
	require.NoError(t, err)

	got, err := p.Decrypt(sum)
	require.NoError(t, err)
	require.Equal(t, int64(60), got)
}

func TestPaillier_CiphertextFixedSize(t *testing.T) {
	p, err := GeneratePaillierKey()
	require.NoError(t, err)

	ct1, err := p.Encrypt(1)
	require.NoError(t, err)
	ct2, err := p.Encrypt(1 << 30)
	require.NoError(t, err)
	require.Equal(t, p.CiphertextSize(), len(ct1))
	require.Equal(t, p.CiphertextSize(), len(ct2))
}
