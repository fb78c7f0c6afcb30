package onion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord_RoundTrip(t *testing.T) {
	rec := Record{
		Kind:     RecordField,
		ID:       42,
		ParentID: 7,
		Serial:   3,
		Attrs: map[string]string{
			"column": "email",
			"anon":   "col_abc123",
		},
	}
	encoded, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, rec.Kind, got.Kind)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.ParentID, got.ParentID)
	require.Equal(t, rec.Serial, got.Serial)
	require.Equal(t, rec.Attrs, got.Attrs)
}

func TestRecord_LargeRecordIsCompressed(t *testing.T) {
	rec := Record{
		Kind: RecordField,
		ID:   1,
		Attrs: map[string]string{
			"blob": strings.Repeat("x", 4096),
		},
	}
	encoded, err := Encode(rec)
	require.NoError(t, err)
	require.Equal(t, flagCompressed, encoded[0])

	got, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, rec.Attrs, got.Attrs)
}

func TestRecord_RejectsUnknownEnvelopeFlag(t *testing.T) {
	_, err := Decode([]byte{0xFF, 'x'})
	require.Error(t, err)
}

func TestRecord_RejectsEmptyPayload(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}
