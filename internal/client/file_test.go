package client_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/leafstore/leafnode/internal/client"
	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/leafstore/leafnode/internal/metrics"
	"github.com/leafstore/leafnode/internal/peer"
	"github.com/leafstore/leafnode/internal/peerstore"
	"github.com/leafstore/leafnode/internal/transport"
	"github.com/stretchr/testify/require"
)

func startSinglePeer(t *testing.T) (*net.UDPAddr, func()) {
	t.Helper()
	ep, err := transport.Listen("127.0.0.1:0", transport.Config{
		SendTimeout: time.Second,
		RecvTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	store, err := peerstore.Open(t.TempDir(), 0)
	require.NoError(t, err)

	srv := peer.New(ep, store, metrics.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	addr := ep.LocalAddr().(*net.UDPAddr)
	return addr, func() {
		cancel()
		ep.Close()
		store.Close()
	}
}

func newFileClient(t *testing.T, peerAddr *net.UDPAddr) *client.FileClient {
	t.Helper()
	ep, err := transport.Dial(transport.Config{
		SendTimeout: time.Second,
		RecvTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	hasher := crypto.NewSHA256Hasher()
	c := client.New(ep, hasher, peerAddr, 500*time.Millisecond, 500*time.Millisecond)

	key := bytes.Repeat([]byte{0x42}, 32)
	enc, err := crypto.NewChaCha20Poly1305Encryptor(key)
	require.NoError(t, err)

	return client.NewFileClient(c, hasher, enc, metrics.New())
}

func TestFileDisperseAndCollectRoundTrip(t *testing.T) {
	peerAddr, stop := startSinglePeer(t)
	defer stop()

	fc := newFileClient(t, peerAddr)

	payload := make([]byte, 4096)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	m, err := fc.Disperse(payload)
	require.NoError(t, err)
	for _, e := range m.Entries {
		require.True(t, e.Present)
	}

	recovered, err := fc.Collect(m)
	require.NoError(t, err)
	require.True(t, bytes.Equal(recovered, payload))
}

func TestFileTinyPayloadRoundTrip(t *testing.T) {
	peerAddr, stop := startSinglePeer(t)
	defer stop()

	fc := newFileClient(t, peerAddr)

	payload := []byte("A")
	m, err := fc.Disperse(payload)
	require.NoError(t, err)

	recovered, err := fc.Collect(m)
	require.NoError(t, err)
	require.Equal(t, payload, recovered)
}

func TestFileParityFallback(t *testing.T) {
	peerAddr, stop := startSinglePeer(t)
	defer stop()

	fc := newFileClient(t, peerAddr)

	payload := make([]byte, 4096)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	m, err := fc.Disperse(payload)
	require.NoError(t, err)

	n := len(m.Entries) / 2
	for i := 0; i < n; i++ {
		m.MarkMissing(i)
	}

	recovered, err := fc.Collect(m)
	require.NoError(t, err)
	require.True(t, bytes.Equal(recovered, payload))
}
