// Package erasure implements the shard pipeline: block-size selection,
// partitioning, Reed-Solomon encode/reconstruct, and padding recovery.
package erasure

import (
	"bytes"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

// ErrInsufficientShards signals that a tile had fewer than tileSize of its
// 2*tileSize shards present at decode time.
var ErrInsufficientShards = errors.New("erasure: insufficient shards to reconstruct")

// ErrEncoderInit signals invalid shard parameters.
var ErrEncoderInit = errors.New("erasure: invalid encoder parameters")

// Engine encodes a payload into N data shards plus N parity shards of a
// fixed BlockSize, tiling the Reed-Solomon calls when N exceeds
// MaxTileShards.
type Engine struct {
	n         int
	blockSize int
}

// New builds an Engine for n data (== n parity) shards of the given block
// size.
func New(n, blockSize int) (*Engine, error) {
	if n <= 0 || blockSize <= 0 {
		return nil, ErrEncoderInit
	}
	return &Engine{n: n, blockSize: blockSize}, nil
}

// N returns the data-shard count (and, symmetrically, the parity count).
func (e *Engine) N() int { return e.n }

// BlockSize returns the fixed per-shard size.
func (e *Engine) BlockSize() int { return e.blockSize }

// tiles yields the [start, end) boundaries used for both encode and
// decode, in ascending order; the last tile may be smaller than
// MaxTileShards.
func (e *Engine) tiles() [][2]int {
	var out [][2]int
	for start := 0; start < e.n; start += MaxTileShards {
		end := start + MaxTileShards
		if end > e.n {
			end = e.n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// Encode pads input to n*blockSize, partitions it into n data shards, and
// produces n parity shards alongside. The returned slice has length 2*n:
// data shards first, then parity shards. payloadLen is the original,
// unpadded input length, to be recorded in the manifest for decode-time
// padding recovery.
func (e *Engine) Encode(input []byte) (shards [][]byte, payloadLen int64, err error) {
	payloadLen = int64(len(input))
	total := e.n * e.blockSize
	if len(input) > total {
		return nil, 0, errors.Wrap(ErrEncoderInit, "input exceeds n*blockSize capacity")
	}

	padded := make([]byte, total)
	copy(padded, input)

	data := make([][]byte, e.n)
	for i := 0; i < e.n; i++ {
		data[i] = padded[i*e.blockSize : (i+1)*e.blockSize]
	}
	parity := make([][]byte, e.n)
	for i := range parity {
		parity[i] = make([]byte, e.blockSize)
	}

	for _, t := range e.tiles() {
		tileSize := t[1] - t[0]
		rs, rsErr := reedsolomon.New(tileSize, tileSize)
		if rsErr != nil {
			return nil, 0, errors.Wrap(rsErr, "init tile encoder")
		}
		tileShards := make([][]byte, 0, 2*tileSize)
		tileShards = append(tileShards, data[t[0]:t[1]]...)
		tileShards = append(tileShards, parity[t[0]:t[1]]...)
		if err := rs.Encode(tileShards); err != nil {
			return nil, 0, errors.Wrap(err, "encode tile parity")
		}
	}

	shards = make([][]byte, 0, 2*e.n)
	shards = append(shards, data...)
	shards = append(shards, parity...)
	return shards, payloadLen, nil
}

// Decode reconstructs the original payload from an ordered slice of 2*n
// optional shards (nil entries mark losses), stripping padding down to
// payloadLen. It returns ErrInsufficientShards if any tile lacks enough
// surviving shards.
func (e *Engine) Decode(shards [][]byte, payloadLen int64) ([]byte, error) {
	if len(shards) != 2*e.n {
		return nil, errors.Errorf("erasure: expected %d shards, got %d", 2*e.n, len(shards))
	}
	data := shards[:e.n]
	parity := shards[e.n:]

	for _, t := range e.tiles() {
		tileSize := t[1] - t[0]
		present := 0
		tileShards := make([][]byte, 0, 2*tileSize)
		for _, s := range data[t[0]:t[1]] {
			if s != nil {
				present++
			}
			tileShards = append(tileShards, s)
		}
		for _, s := range parity[t[0]:t[1]] {
			if s != nil {
				present++
			}
			tileShards = append(tileShards, s)
		}
		if present < tileSize {
			return nil, ErrInsufficientShards
		}
		rs, err := reedsolomon.New(tileSize, tileSize)
		if err != nil {
			return nil, errors.Wrap(err, "init tile decoder")
		}
		if err := rs.Reconstruct(tileShards); err != nil {
			return nil, errors.Wrap(err, "reconstruct tile")
		}
		copy(data[t[0]:t[1]], tileShards[:tileSize])
	}

	buf := bytes.NewBuffer(make([]byte, 0, e.n*e.blockSize))
	for _, s := range data {
		buf.Write(s)
	}
	out := buf.Bytes()
	if payloadLen >= 0 && payloadLen <= int64(len(out)) {
		return out[:payloadLen], nil
	}
	return out, nil
}
