package peerstore

import (
	"testing"

	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/stretchr/testify/require"
)

func digest(b byte) crypto.Digest {
	d := make(crypto.Digest, 32)
	d[0] = b
	return d
}

func TestSaveGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	d := digest(1)
	require.True(t, s.Admit(d, 5))
	require.NoError(t, s.Save(d, []byte("hello")))

	got, err := s.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestDuplicateSaveRejected(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	d := digest(2)
	require.NoError(t, s.Save(d, []byte("x")))
	err = s.Save(d, []byte("y"))
	require.ErrorIs(t, err, ErrDuplicateDigest)
	require.Equal(t, 1, s.Len())

	got, err := s.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)
}

func TestGetIsSingleConsumption(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	d := digest(3)
	require.NoError(t, s.Save(d, []byte("once")))

	_, err = s.Get(d)
	require.NoError(t, err)

	_, err = s.Get(d)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCapacityBound(t *testing.T) {
	s, err := Open(t.TempDir(), 128)
	require.NoError(t, err)
	defer s.Close()

	big := make([]byte, 200)
	d := digest(4)
	require.False(t, s.Admit(d, int64(len(big))))
	err = s.Save(d, big)
	require.ErrorIs(t, err, ErrFull)
	require.Equal(t, int64(0), s.TotalBytes())
}

func TestTotalBytesTracksFileSizes(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(digest(5), []byte("abcde")))
	require.NoError(t, s.Save(digest(6), []byte("xyz")))
	require.Equal(t, int64(8), s.TotalBytes())

	_, err = s.Get(digest(5))
	require.NoError(t, err)
	require.Equal(t, int64(3), s.TotalBytes())
}

func TestRebuildFromDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	require.NoError(t, err)

	hasher := crypto.NewSHA256Hasher()
	body := []byte("rebuild me")
	d := hasher.Sum(body)
	require.NoError(t, s.Save(d, body))
	require.NoError(t, s.Close())

	// Reopen and force a rebuild as if the index had been lost.
	s2, err := Open(dir, 0)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Rebuild(hasher))

	got, err := s2.Get(d)
	require.NoError(t, err)
	require.Equal(t, body, got)
}
