package onion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManager_EncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(WithMasterKey(testKey16()))
	require.NoError(t, err)
	defer mgr.Close()

	schema, err := mgr.OpenSchema(ctx, newTestBackend(t))
	require.NoError(t, err)
	_, err = schema.CreateTable(ctx, "users")
	require.NoError(t, err)
	field, err := schema.CreateColumn(ctx, "users", "email", Layout{DET: true})
	require.NoError(t, err)

	ct, err := mgr.EncryptToLevel(field, OnionDET, LevelRNDDET, []byte("alice@example.com"), 9)
	require.NoError(t, err)

	pt, err := mgr.DecryptToLevel(field, OnionDET, LevelPLAINDET, ct, 9)
	require.NoError(t, err)
	require.Equal(t, []byte("alice@example.com"), pt)
}

func TestManager_ClosedManagerRejectsOperations(t *testing.T) {
	mgr, err := NewManager(WithMasterKey(testKey16()))
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	_, err = mgr.OpenSchema(context.Background(), newTestBackend(t))
	require.Error(t, err)
}

func TestManager_RequiresAKeySource(t *testing.T) {
	_, err := NewManager()
	require.Error(t, err)
}

func TestManager_WarmCacheServesFixedLayer(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(WithMasterKey(testKey16()))
	require.NoError(t, err)
	defer mgr.Close()

	schema, err := mgr.OpenSchema(ctx, newTestBackend(t))
	require.NoError(t, err)
	_, err = schema.CreateTable(ctx, "t")
	require.NoError(t, err)
	field, err := schema.CreateColumn(ctx, "t", "ssn", Layout{DET: true, IsInt: true})
	require.NoError(t, err)

	pt := uint32ToBytes(12345)
	require.NoError(t, mgr.WarmCache(field, OnionDET, LevelDET, pt, 1))

	got, err := mgr.EncryptToLevel(field, OnionDET, LevelDET, pt, 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)
}

func TestManager_WarmCacheHOMIsSingleUse(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(WithMasterKey(testKey16()))
	require.NoError(t, err)
	defer mgr.Close()

	schema, err := mgr.OpenSchema(ctx, newTestBackend(t))
	require.NoError(t, err)
	_, err = schema.CreateTable(ctx, "t")
	require.NoError(t, err)
	field, err := schema.CreateColumn(ctx, "t", "amount", Layout{AGG: true, IsInt: true})
	require.NoError(t, err)

	pt := uint64ToBytesForAmount(7)
	require.NoError(t, mgr.WarmCache(field, OnionAGG, LevelHOM, pt, 2))

	ct1, err := mgr.EncryptToLevel(field, OnionAGG, LevelHOM, pt, 0)
	require.NoError(t, err)
	ct2, err := mgr.EncryptToLevel(field, OnionAGG, LevelHOM, pt, 0)
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct2, "two Paillier ciphertexts for the same plaintext must be randomized differently")

	pm, err := mgr.PaillierModulus(field)
	require.NoError(t, err)
	require.NotNil(t, pm)
}

func TestChooseOnion_PrefersWeakestCurrentLevel(t *testing.T) {
	// DET already peeled down to DET_JOIN (weak) should win over a
	// still-outermost OPE (strong).
	got, ok := ChooseOnion([]OnionCandidate{
		{Onion: OnionOPE, Level: LevelRNDOPE},
		{Onion: OnionDET, Level: LevelDETJOIN},
	})
	require.True(t, ok)
	require.Equal(t, OnionDET, got)
}

func TestChooseOnion_FallsBackToFixedOrderOnTie(t *testing.T) {
	got, ok := ChooseOnion([]OnionCandidate{
		{Onion: OnionAGG, Level: LevelHOM},
		{Onion: OnionDET, Level: LevelRNDDET},
		{Onion: OnionOPE, Level: LevelRNDOPE},
	})
	require.True(t, ok)
	require.Equal(t, OnionDET, got, "all candidates equally unpeeled: fixed order picks DET")
}

func TestChooseOnion_EmptyCandidates(t *testing.T) {
	_, ok := ChooseOnion(nil)
	require.False(t, ok)
}

func uint64ToBytesForAmount(v int64) []byte {
	out := make([]byte, 8)
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		out[i] = byte(u)
		u >>= 8
	}
	return out
}
