package manifest

import (
	"testing"

	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/stretchr/testify/require"
)

func digestsOf(n int) []crypto.Digest {
	out := make([]crypto.Digest, n)
	for i := range out {
		d := make(crypto.Digest, 32)
		d[0] = byte(i)
		out[i] = d
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	m := New(digestsOf(6), 12345)
	raw := m.Serialize()

	parsed, err := Parse(raw, 32)
	require.NoError(t, err)
	require.Equal(t, m.PayloadLen, parsed.PayloadLen)
	require.Equal(t, m.Entries, parsed.Entries)
}

func TestRoundTripWithMissingEntries(t *testing.T) {
	m := New(digestsOf(4), 99)
	m.MarkMissing(1)
	raw := m.Serialize()

	parsed, err := Parse(raw, 32)
	require.NoError(t, err)
	require.False(t, parsed.Entries[1].Present)
	require.True(t, parsed.Entries[0].Present)
}

func TestFileRoundTrip(t *testing.T) {
	m := New(digestsOf(8), 555)
	enc := m.EncodeFile()

	parsed, err := DecodeFile(enc, 32)
	require.NoError(t, err)
	require.Equal(t, m.Entries, parsed.Entries)
	require.Equal(t, m.PayloadLen, parsed.PayloadLen)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3}, 32)
	require.ErrorIs(t, err, ErrMalformed)
}
