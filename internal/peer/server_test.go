package peer_test

import (
	"context"
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

// startPeer binds a peer server on an ephemeral loopback port and returns
// its address plus a shutdown func.
func startPeer(t *testing.T, maxCapacity int64) (*net.UDPAddr, func()) {
	t.Helper()
	ep, err := transport.Listen("127.0.0.1:0", transport.Config{
		SendTimeout: time.Second,
		RecvTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	store, err := peerstore.Open(t.TempDir(), maxCapacity)
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

func newTestClient(t *testing.T, peerAddr *net.UDPAddr) *client.Client {
	t.Helper()
	ep, err := transport.Dial(transport.Config{
		SendTimeout: time.Second,
		RecvTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })
	return client.New(ep, crypto.NewSHA256Hasher(), peerAddr, 500*time.Millisecond, 500*time.Millisecond)
}

func TestDisperseAndCollectRoundTrip(t *testing.T) {
	peerAddr, stop := startPeer(t, 0)
	defer stop()

	c := newTestClient(t, peerAddr)
	hasher := crypto.NewSHA256Hasher()
	body := []byte("integration test shard body")
	digest := hasher.Sum(body)

	require.NoError(t, c.DisperseShard(digest, body))

	// Give the peer's dispatch goroutine a moment to finish the Save.
	time.Sleep(50 * time.Millisecond)

	got, err := c.CollectShard(digest)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestCollectUnavailableForUnknownDigest(t *testing.T) {
	peerAddr, stop := startPeer(t, 0)
	defer stop()

	c := newTestClient(t, peerAddr)
	hasher := crypto.NewSHA256Hasher()
	unknown := hasher.Sum([]byte("never deposited"))

	_, err := c.CollectShard(unknown)
	require.ErrorIs(t, err, client.ErrUnavailable)
}

func TestDisperseFailsWhenPeerFull(t *testing.T) {
	peerAddr, stop := startPeer(t, 16) // tiny capacity
	defer stop()

	c := newTestClient(t, peerAddr)
	hasher := crypto.NewSHA256Hasher()
	body := make([]byte, 200)
	digest := hasher.Sum(body)

	err := c.DisperseShard(digest, body)
	require.ErrorIs(t, err, client.ErrSendFailed)
}
