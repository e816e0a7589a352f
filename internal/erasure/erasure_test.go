package erasure

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := New(3, 64)
	require.NoError(t, err)

	input := []byte("The quick brown fox jumps over the lazy dog")
	shards, size, err := enc.Encode(input)
	require.NoError(t, err)
	require.Len(t, shards, 6)

	// Simulate losing one data and one parity shard.
	shards[1] = nil
	shards[4] = nil

	recovered, err := enc.Decode(shards, size)
	require.NoError(t, err)
	require.Equal(t, input, recovered)
}

func TestDecodeInsufficientShards(t *testing.T) {
	enc, err := New(3, 64)
	require.NoError(t, err)

	input := []byte("abc")
	shards, size, err := enc.Encode(input)
	require.NoError(t, err)

	// Erase two of three data shards and their matching parity: only two
	// of six remain, below the tile's threshold of three.
	shards[0] = nil
	shards[1] = nil
	shards[3] = nil
	shards[4] = nil

	_, err = enc.Decode(shards, size)
	require.ErrorIs(t, err, ErrInsufficientShards)
}

func TestTilingLargeShardCount(t *testing.T) {
	n := 200 // exceeds MaxTileShards, forces two tiles
	enc, err := New(n, MinBlockSize)
	require.NoError(t, err)

	input := make([]byte, n*MinBlockSize-17)
	_, err = rand.Read(input)
	require.NoError(t, err)

	shards, size, err := enc.Encode(input)
	require.NoError(t, err)
	require.Len(t, shards, 2*n)

	// Erase every other data shard in each tile; parity covers it.
	for i := 0; i < n; i += 2 {
		shards[i] = nil
	}

	recovered, err := enc.Decode(shards, size)
	require.NoError(t, err)
	require.True(t, bytes.Equal(recovered, input))
}

func TestBlockSizeMonotoneAndAligned(t *testing.T) {
	sizes := []int64{0, 1, 64, 4096, 1 << 20, 10 << 20, 1 << 30}
	prev := 0
	for _, l := range sizes {
		bs := BlockSize(l)
		require.GreaterOrEqual(t, bs, prev)
		require.Zero(t, bs%64)
		require.GreaterOrEqual(t, bs, MinBlockSize)
		require.LessOrEqual(t, bs, MaxBlockSize)
		prev = bs
	}
}
