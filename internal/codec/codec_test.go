package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	digest := bytes.Repeat([]byte{0xAB}, 32)
	m := Message{Tag: TagContent, Digest: digest, Data: []byte("hello shard")}

	encoded, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, m.Tag, decoded.Tag)
	require.Equal(t, []byte(m.Digest), []byte(decoded.Digest))
	require.Equal(t, m.Data, decoded.Data)
}

func TestEmptyMessageRoundTrip(t *testing.T) {
	digest := bytes.Repeat([]byte{0x01}, 32)
	m := Message{Tag: TagEmpty, Digest: digest}
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, TagEmpty, decoded.Tag)
	require.Empty(t, decoded.Data)
}

func TestFragmentAndReassemble(t *testing.T) {
	digest := bytes.Repeat([]byte{0xCD}, 32)
	payload := make([]byte, 200000)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	frags := Fragment(digest, payload, 65000)
	require.Greater(t, len(frags), 1)
	require.Equal(t, TagEmpty, frags[len(frags)-1].Tag)

	reasm := NewReassembler(digest)
	var body []byte
	var complete bool
	for _, f := range frags {
		b, done, err := reasm.Ingest(f)
		require.NoError(t, err)
		if done {
			body = b
			complete = true
		}
	}
	require.True(t, complete)
	require.Equal(t, payload, body)
}

func TestReassemblerDiscardsWrongDigest(t *testing.T) {
	digest := bytes.Repeat([]byte{0x11}, 32)
	other := bytes.Repeat([]byte{0x22}, 32)
	reasm := NewReassembler(digest)

	_, done, err := reasm.Ingest(Message{Tag: TagContent, Digest: other, Data: []byte("nope")})
	require.NoError(t, err)
	require.False(t, done)

	body, done, err := reasm.Ingest(Message{Tag: TagEmpty, Digest: digest})
	require.NoError(t, err)
	require.True(t, done)
	require.Empty(t, body)
}

func TestReassemblerIgnoresDuplicateEmpty(t *testing.T) {
	digest := bytes.Repeat([]byte{0x33}, 32)
	reasm := NewReassembler(digest)

	body, done, err := reasm.Ingest(Message{Tag: TagContent, Digest: digest, Data: []byte("ab")})
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, body)

	body, done, err = reasm.Ingest(Message{Tag: TagEmpty, Digest: digest})
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []byte("ab"), body)

	// A second Empty (or any message) after completion is a no-op.
	body, done, err = reasm.Ingest(Message{Tag: TagEmpty, Digest: digest})
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, body)
}
