package onion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestStack(t *testing.T, o Onion, isInt bool) *Stack {
	t.Helper()
	kr, err := newKeyRing(testKey16())
	require.NoError(t, err)
	st, err := buildStack(kr, "test.table.column", o, isInt)
	require.NoError(t, err)
	return st
}

func TestStack_DETRoundTrip(t *testing.T) {
	st := buildTestStack(t, OnionDET, false)
	require.Equal(t, LevelRNDDET, st.CurrentLevel())

	pt := []byte("alice@example.com")
	ct, err := st.Encrypt(pt, 7)
	require.NoError(t, err)

	got, err := st.DecryptTo(ct, LevelPLAINDET, 7)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestStack_DETPeelReachesJoinLevel(t *testing.T) {
	st := buildTestStack(t, OnionDET, false)
	pt := []byte("bob@example.com")
	ct, err := st.Encrypt(pt, 3)
	require.NoError(t, err)

	directive, inner, err := st.Peel(ct, 3)
	require.NoError(t, err)
	require.Equal(t, LevelRNDDET, directive.FromLevel)
	require.Equal(t, LevelDET, directive.ToLevel)
	require.Equal(t, LevelDET, st.CurrentLevel())

	directive2, inner2, err := st.Peel(inner, 3)
	require.NoError(t, err)
	require.Equal(t, LevelDET, directive2.FromLevel)
	require.Equal(t, LevelDETJOIN, directive2.ToLevel)
	require.Equal(t, LevelDETJOIN, st.CurrentLevel())
	require.NotNil(t, inner2)
}

func TestStack_DETJoinEquivalence(t *testing.T) {
	kr, err := newKeyRing(testKey16())
	require.NoError(t, err)
	stA, err := buildStack(kr, "t.a", OnionDET, false)
	require.NoError(t, err)
	stB, err := buildStack(kr, "t.b", OnionDET, false)
	require.NoError(t, err)

	pt := []byte("shared-value")
	ctA, err := stA.Encrypt(pt, 1)
	require.NoError(t, err)
	ctB, err := stB.Encrypt(pt, 2)
	require.NoError(t, err)

	joinA, err := stA.DecryptTo(ctA, LevelDETJOIN, 1)
	require.NoError(t, err)
	joinB, err := stB.DecryptTo(ctB, LevelDETJOIN, 2)
	require.NoError(t, err)
	require.Equal(t, joinA, joinB, "two columns sharing the join label must match at DET_JOIN")
}

func TestStack_OPEOrderSurvivesToOuterLevel(t *testing.T) {
	st := buildTestStack(t, OnionOPE, true)

	a := uint32ToBytes(10)
	b := uint32ToBytes(20)
	ctA, err := st.Encrypt(a, 1)
	require.NoError(t, err)
	ctB, err := st.Encrypt(b, 1)
	require.NoError(t, err)

	opeA, err := st.DecryptTo(ctA, LevelOPE, 1)
	require.NoError(t, err)
	opeB, err := st.DecryptTo(ctB, LevelOPE, 1)
	require.NoError(t, err)
	require.Less(t, string(opeA), string(opeB))
}

func TestStack_CannotPeelInnermostLayer(t *testing.T) {
	st := buildTestStack(t, OnionAGG, true)
	pt := uint64ToBytes(42)
	ct, err := st.Encrypt(pt, 0)
	require.NoError(t, err)

	_, _, err = st.Peel(ct, 0)
	require.NoError(t, err)
	require.Equal(t, LevelPLAINAGG, st.CurrentLevel())

	_, _, err = st.Peel(ct, 0)
	require.Error(t, err)
}

func TestStack_PeekPeelDoesNotMutate(t *testing.T) {
	st := buildTestStack(t, OnionDET, false)
	pt := []byte("carol@example.com")
	ct, err := st.Encrypt(pt, 4)
	require.NoError(t, err)

	directive, inner, err := st.PeekPeel(ct, 4)
	require.NoError(t, err)
	require.Equal(t, LevelDET, directive.ToLevel)
	require.Equal(t, LevelRNDDET, st.CurrentLevel(), "PeekPeel must not pop the layer")

	require.NoError(t, st.CommitPeel())
	require.Equal(t, LevelDET, st.CurrentLevel())

	directive2, _, err := st.PeekPeel(inner, 4)
	require.NoError(t, err)
	require.Equal(t, LevelDETJOIN, directive2.ToLevel)
}

func uint64ToBytes(v uint64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
