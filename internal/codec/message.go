// Package codec implements message framing, compression, and shard
// fragmentation/reassembly for the broadcast chunk protocol. Grounded on
// xtaci-kcptun's compress-before-wire idiom (std/comp.go, generic/comp.go)
// for the snappy wrapping, and on the other_examples fragment/reassembly
// shape (minor-way-slipstream-go's protocol.Reassembler) for framing small
// messages over an unreliable datagram transport.
package codec

import (
	"encoding/binary"

	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/pkg/errors"
)

// Tag identifies a message variant on the wire.
type Tag byte

const (
	TagSendingReq    Tag = 0
	TagRetrievingReq Tag = 1
	TagSendingAck    Tag = 2
	TagRetrievingAck Tag = 3
	TagContent       Tag = 4
	TagEmpty         Tag = 5
)

func (t Tag) String() string {
	switch t {
	case TagSendingReq:
		return "SendingReq"
	case TagRetrievingReq:
		return "RetrievingReq"
	case TagSendingAck:
		return "SendingAck"
	case TagRetrievingAck:
		return "RetrievingAck"
	case TagContent:
		return "ContentFilled"
	case TagEmpty:
		return "Empty"
	default:
		return "Unknown"
	}
}

// Per-datagram ceilings imposed by a single UDP send.
const (
	MaxUDPDatagram    = 65507
	MaxMessagePayload = 65243
)

// ErrMalformed signals a buffer that does not parse as a Message.
var ErrMalformed = errors.New("codec: malformed message")

// Message is the single wire record exchanged between client and peer.
type Message struct {
	Tag    Tag
	Digest crypto.Digest
	Data   []byte
}

// SendingReq, RetrievingReq, SendingAck, RetrievingAck and Empty messages
// carry no data; Content messages carry a (possibly partial) shard body.

// MarshalBinary encodes a Message as:
//
//	tag:u8 digest_len:u16 digest data_len:u32 data
func (m Message) MarshalBinary() []byte {
	buf := make([]byte, 0, 1+2+len(m.Digest)+4+len(m.Data))
	buf = append(buf, byte(m.Tag))

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(m.Digest)))
	buf = append(buf, u16[:]...)
	buf = append(buf, m.Digest...)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(m.Data)))
	buf = append(buf, u32[:]...)
	buf = append(buf, m.Data...)
	return buf
}

// UnmarshalMessage reverses MarshalBinary.
func UnmarshalMessage(buf []byte) (Message, error) {
	if len(buf) < 1+2 {
		return Message{}, ErrMalformed
	}
	tag := Tag(buf[0])
	cursor := 1

	digestLen := int(binary.LittleEndian.Uint16(buf[cursor : cursor+2]))
	cursor += 2
	if cursor+digestLen > len(buf) {
		return Message{}, ErrMalformed
	}
	digest := make(crypto.Digest, digestLen)
	copy(digest, buf[cursor:cursor+digestLen])
	cursor += digestLen

	if cursor+4 > len(buf) {
		return Message{}, ErrMalformed
	}
	dataLen := int(binary.LittleEndian.Uint32(buf[cursor : cursor+4]))
	cursor += 4
	if cursor+dataLen > len(buf) {
		return Message{}, ErrMalformed
	}
	data := make([]byte, dataLen)
	copy(data, buf[cursor:cursor+dataLen])

	return Message{Tag: tag, Digest: digest, Data: data}, nil
}
