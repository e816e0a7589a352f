package codec

import "github.com/pkg/errors"

// FragmentBudget is the per-fragment payload size used by Fragment. It
// equals MaxMessagePayload, which already sits below MaxUDPDatagram to
// leave room for the digest and framing overhead in the enclosing datagram.
const FragmentBudget = MaxMessagePayload

// Fragment splits a shard body into an ordered run of Content messages
// covering it exactly once, followed by a terminating Empty sentinel. A
// payload that fits in one fragment still gets the trailing Empty, so
// receivers have one reassembly rule regardless of size.
func Fragment(digest []byte, payload []byte, budget int) []Message {
	if budget <= 0 {
		budget = FragmentBudget
	}
	var out []Message
	for offset := 0; offset < len(payload); offset += budget {
		end := offset + budget
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, Message{Tag: TagContent, Digest: digest, Data: payload[offset:end]})
	}
	out = append(out, Message{Tag: TagEmpty, Digest: digest})
	return out
}

// ErrDigestMismatch signals a reassembled body did not address-match its
// expected digest.
var ErrDigestMismatch = errors.New("codec: digest mismatch during reassembly")

// Reassembler accumulates Content fragments for one expected digest until
// an Empty sentinel arrives, discarding anything addressed to a different
// digest and ignoring duplicate Empty messages once done.
type Reassembler struct {
	expected []byte
	buf      []byte
	done     bool
}

// NewReassembler starts a reassembly session for the given digest.
func NewReassembler(expected []byte) *Reassembler {
	return &Reassembler{expected: expected}
}

// Ingest folds in one message. It returns (body, true, nil) once the
// Empty sentinel has been seen; otherwise (nil, false, nil). Messages
// addressed to a digest other than the expected one are silently
// discarded, as are messages arriving after completion.
func (r *Reassembler) Ingest(m Message) ([]byte, bool, error) {
	if r.done {
		return nil, false, nil
	}
	if !digestsEqual(m.Digest, r.expected) {
		return nil, false, nil
	}
	switch m.Tag {
	case TagContent:
		r.buf = append(r.buf, m.Data...)
		return nil, false, nil
	case TagEmpty:
		r.done = true
		return r.buf, true, nil
	default:
		return nil, false, nil
	}
}

func digestsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
