// Package manifest implements the ordered digest list a file owner keeps
// after dispersal: a fixed binary layout, base64-wrapped for safe
// storage alongside the user's file.
package manifest

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/pkg/errors"
)

// ErrMalformed signals a manifest that does not parse: truncated buffer,
// bad presence flag, or a digest-length mismatch against the hasher size.
var ErrMalformed = errors.New("manifest: malformed encoding")

// Entry is one shard slot: present (with its digest) or absent. Absent
// entries are only meaningful transiently, while accounting for shards
// still being collected.
type Entry struct {
	Present bool
	Digest  crypto.Digest
}

// Manifest is the ordered sequence of 2*N entries (N data then N parity)
// plus the original payload length, used to strip the erasure engine's
// trailing zero padding on decode.
type Manifest struct {
	Entries     []Entry
	PayloadLen  int64
	digestBytes int
}

// New builds a manifest for a freshly-encoded file: every entry present,
// in data-then-parity order.
func New(digests []crypto.Digest, payloadLen int64) *Manifest {
	entries := make([]Entry, len(digests))
	digestBytes := 0
	for i, d := range digests {
		entries[i] = Entry{Present: true, Digest: d}
		if len(d) > digestBytes {
			digestBytes = len(d)
		}
	}
	return &Manifest{Entries: entries, PayloadLen: payloadLen, digestBytes: digestBytes}
}

// Digests extracts the digests in order, with nil for absent entries.
func (m *Manifest) Digests() []crypto.Digest {
	out := make([]crypto.Digest, len(m.Entries))
	for i, e := range m.Entries {
		if e.Present {
			out[i] = e.Digest
		}
	}
	return out
}

// MarkMissing clears the entry at i, e.g. after a failed collection.
func (m *Manifest) MarkMissing(i int) {
	m.Entries[i] = Entry{}
}

// Serialize writes the manifest's binary layout:
//
//	count      : u32 (2*N)
//	per entry  : presence u8, digest bytes if present
//	payloadLen : u64 trailing
func (m *Manifest) Serialize() []byte {
	digestBytes := m.digestBytes
	if digestBytes == 0 {
		for _, e := range m.Entries {
			if e.Present && len(e.Digest) > digestBytes {
				digestBytes = len(e.Digest)
			}
		}
	}

	buf := make([]byte, 0, 4+len(m.Entries)*(1+digestBytes)+8)
	var tmp [8]byte

	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(m.Entries)))
	buf = append(buf, tmp[:4]...)

	for _, e := range m.Entries {
		if e.Present {
			buf = append(buf, 1)
			buf = append(buf, e.Digest...)
		} else {
			buf = append(buf, 0)
		}
	}

	binary.LittleEndian.PutUint64(tmp[:8], uint64(m.PayloadLen))
	buf = append(buf, tmp[:8]...)
	return buf
}

// Parse reconstructs a Manifest from Serialize's output. digestSize is the
// hasher's fixed digest length, needed to know how many bytes follow each
// presence flag.
func Parse(buf []byte, digestSize int) (*Manifest, error) {
	if len(buf) < 4+8 {
		return nil, ErrMalformed
	}
	count := int(binary.LittleEndian.Uint32(buf[:4]))
	cursor := 4

	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		if cursor >= len(buf) {
			return nil, ErrMalformed
		}
		flag := buf[cursor]
		cursor++
		switch flag {
		case 0:
			entries[i] = Entry{}
		case 1:
			if cursor+digestSize > len(buf) {
				return nil, ErrMalformed
			}
			d := make(crypto.Digest, digestSize)
			copy(d, buf[cursor:cursor+digestSize])
			entries[i] = Entry{Present: true, Digest: d}
			cursor += digestSize
		default:
			return nil, ErrMalformed
		}
	}

	if cursor+8 > len(buf) {
		return nil, ErrMalformed
	}
	payloadLen := int64(binary.LittleEndian.Uint64(buf[cursor : cursor+8]))

	return &Manifest{Entries: entries, PayloadLen: payloadLen, digestBytes: digestSize}, nil
}

// EncodeFile base64-wraps the serialized manifest for ASCII-safe storage.
// cmd/leafclient writes it to a separate "<path>.leafmanifest" file beside
// the user's file; the user's file itself is left in place.
func (m *Manifest) EncodeFile() []byte {
	raw := m.Serialize()
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

// DecodeFile reverses EncodeFile.
func DecodeFile(b []byte, digestSize int) (*Manifest, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(raw, b)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return Parse(raw[:n], digestSize)
}
