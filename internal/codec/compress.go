package codec

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Encode serializes a Message and compresses it with snappy at its fixed
// (single) compression level, matching xtaci-kcptun's std/comp.go, which
// wraps every outbound frame the same way before it touches the socket.
func Encode(m Message) ([]byte, error) {
	if len(m.Data) > MaxMessagePayload {
		return nil, errors.New("codec: message data exceeds datagram payload budget")
	}
	raw := m.MarshalBinary()
	compressed := snappy.Encode(nil, raw)
	if len(compressed) > MaxUDPDatagram {
		return nil, errors.New("codec: compressed message exceeds UDP payload ceiling")
	}
	return compressed, nil
}

// Decode inflates a datagram and parses the resulting Message.
func Decode(buf []byte) (Message, error) {
	raw, err := snappy.Decode(nil, buf)
	if err != nil {
		return Message{}, errors.Wrap(err, "snappy decode")
	}
	return UnmarshalMessage(raw)
}
