package client

import (
	"runtime"
	"sync"
	"time"

	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/leafstore/leafnode/internal/erasure"
	"github.com/leafstore/leafnode/internal/manifest"
	"github.com/leafstore/leafnode/internal/metrics"
)

// FileClient orchestrates a whole-file dispersal or collection: erasure
// coding plus a parallel, independent per-shard cipher stage feeding the
// sequential per-shard protocol exchange of Client.
type FileClient struct {
	client    *Client
	hasher    crypto.Hasher
	encryptor crypto.Encryptor
	metrics   *metrics.Metrics
}

// NewFileClient builds a FileClient over an existing per-shard Client. m
// may be nil, in which case dispersal/collection counters and latency
// histograms are simply not recorded.
func NewFileClient(c *Client, hasher crypto.Hasher, encryptor crypto.Encryptor, m *metrics.Metrics) *FileClient {
	return &FileClient{client: c, hasher: hasher, encryptor: encryptor, metrics: m}
}

type encodedShard struct {
	digest     crypto.Digest
	ciphertext []byte
}

// Disperse splits payload with the erasure engine, encrypts and hashes
// every shard in parallel, then disperses them in manifest order (data
// shards, then parity). A shard whose dispersal round fails is recorded
// as missing in the returned manifest rather than aborting the whole
// operation.
func (fc *FileClient) Disperse(payload []byte) (*manifest.Manifest, error) {
	start := time.Now()
	if fc.metrics != nil {
		defer func() {
			fc.metrics.DisperseTotal.Inc()
			fc.metrics.DisperseLatency.Observe(time.Since(start).Seconds())
		}()
	}

	blockSize := erasure.BlockSize(int64(len(payload)))
	n := erasure.ShardCount(int64(len(payload)), blockSize)

	eng, err := erasure.New(n, blockSize)
	if err != nil {
		return nil, err
	}
	shards, payloadLen, err := eng.Encode(payload)
	if err != nil {
		return nil, err
	}

	encoded, err := fc.encryptAndHash(shards)
	if err != nil {
		return nil, err
	}

	digests := make([]crypto.Digest, len(encoded))
	for i, e := range encoded {
		digests[i] = e.digest
	}
	m := manifest.New(digests, payloadLen)

	for i, e := range encoded {
		if err := fc.client.DisperseShard(e.digest, e.ciphertext); err != nil {
			m.MarkMissing(i)
		}
	}
	return m, nil
}

// encryptAndHash runs the cipher and digest over every shard
// concurrently, bounded to NumCPU workers in flight.
func (fc *FileClient) encryptAndHash(shards [][]byte) ([]encodedShard, error) {
	out := make([]encodedShard, len(shards))
	errs := make([]error, len(shards))

	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup
	for i, shard := range shards {
		i, shard := i, shard
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			ciphertext, err := fc.encryptor.Encrypt(shard)
			if err != nil {
				errs[i] = err
				return
			}
			out[i] = encodedShard{digest: fc.hasher.Sum(ciphertext), ciphertext: ciphertext}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Collect reverses Disperse: it collects data shards first, falling back
// to the symmetric parity shard for each failed data index, decrypts and
// validates each recovered shard's length against blockSize, and decodes
// once at least N of the 2N shards are in hand. Returns
// ErrFileUnrecoverable otherwise.
func (fc *FileClient) Collect(m *manifest.Manifest) ([]byte, error) {
	start := time.Now()
	if fc.metrics != nil {
		defer func() {
			fc.metrics.CollectTotal.Inc()
			fc.metrics.CollectLatency.Observe(time.Since(start).Seconds())
		}()
	}

	n := len(m.Entries) / 2
	blockSize := erasure.BlockSize(m.PayloadLen)

	eng, err := erasure.New(n, blockSize)
	if err != nil {
		return nil, err
	}

	collected := make([][]byte, len(m.Entries))
	count := 0

	for i := 0; i < n; i++ {
		if plain, ok := fc.tryCollect(m, i, blockSize); ok {
			collected[i] = plain
			count++
			continue
		}
		parityIdx := n + i
		if plain, ok := fc.tryCollect(m, parityIdx, blockSize); ok {
			collected[parityIdx] = plain
			count++
		}
	}

	if count < n {
		return nil, ErrFileUnrecoverable
	}
	return eng.Decode(collected, m.PayloadLen)
}

func (fc *FileClient) tryCollect(m *manifest.Manifest, idx int, blockSize int) ([]byte, bool) {
	entry := m.Entries[idx]
	if !entry.Present {
		return nil, false
	}
	ciphertext, err := fc.client.CollectShard(entry.Digest)
	if err != nil {
		return nil, false
	}
	plain, err := fc.encryptor.Decrypt(ciphertext)
	if err != nil {
		return nil, false
	}
	if len(plain) != blockSize {
		return nil, false
	}
	return plain, true
}
