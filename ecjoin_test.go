package onion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManager_ECJoinAdjustsAcrossFields(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(WithMasterKey(testKey16()))
	require.NoError(t, err)
	defer mgr.Close()

	schema, err := mgr.OpenSchema(ctx, newTestBackend(t))
	require.NoError(t, err)
	_, err = schema.CreateTable(ctx, "accounts")
	require.NoError(t, err)
	_, err = schema.CreateTable(ctx, "orders")
	require.NoError(t, err)

	a, err := schema.CreateColumn(ctx, "accounts", "user_id", Layout{DET: true})
	require.NoError(t, err)
	b, err := schema.CreateColumn(ctx, "orders", "user_id", Layout{DET: true})
	require.NoError(t, err)

	plaintext := []byte("user-42")
	ctA, err := mgr.ECJoinEncrypt(a, plaintext)
	require.NoError(t, err)

	delta, err := mgr.JoinDelta(a, b)
	require.NoError(t, err)

	adjusted, err := AdjustJoin(delta, ctA)
	require.NoError(t, err)

	ctB, err := mgr.ECJoinEncrypt(b, plaintext)
	require.NoError(t, err)
	require.Equal(t, ctB, adjusted)
}

func TestManager_ECJoinDifferentPlaintextsDiverge(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(WithMasterKey(testKey16()))
	require.NoError(t, err)
	defer mgr.Close()

	schema, err := mgr.OpenSchema(ctx, newTestBackend(t))
	require.NoError(t, err)
	_, err = schema.CreateTable(ctx, "t")
	require.NoError(t, err)
	f, err := schema.CreateColumn(ctx, "t", "c", Layout{DET: true})
	require.NoError(t, err)

	ct1, err := mgr.ECJoinEncrypt(f, []byte("alice"))
	require.NoError(t, err)
	ct2, err := mgr.ECJoinEncrypt(f, []byte("bob"))
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct2)

	ct1Again, err := mgr.ECJoinEncrypt(f, []byte("alice"))
	require.NoError(t, err)
	require.Equal(t, ct1, ct1Again, "EC-join encryption under a fixed key is deterministic")
}
