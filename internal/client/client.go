// Package client implements the dispersal and collection halves of the
// broadcast chunk protocol: a UDP broadcast request/ack/content
// exchange, including self-loop suppression and a first-ack-wins
// tie-break.
package client

import (
	"net"
	"time"

	"github.com/leafstore/leafnode/internal/codec"
	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/leafstore/leafnode/internal/transport"
)

// Client issues single-shard dispersal and collection rounds over one
// transport Endpoint. It is stateless across calls.
type Client struct {
	ep            *transport.Endpoint
	hasher        crypto.Hasher
	broadcastAddr *net.UDPAddr
	ackTimeout    time.Duration
	recvTimeout   time.Duration
}

// New builds a Client targeting broadcastAddr (typically
// 255.255.255.255:62092) over ep.
func New(ep *transport.Endpoint, hasher crypto.Hasher, broadcastAddr *net.UDPAddr, ackTimeout, recvTimeout time.Duration) *Client {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	if recvTimeout <= 0 {
		recvTimeout = 5 * time.Second
	}
	return &Client{ep: ep, hasher: hasher, broadcastAddr: broadcastAddr, ackTimeout: ackTimeout, recvTimeout: recvTimeout}
}

// DisperseShard runs one dispersal round for a single shard: broadcast
// SendingReq, await the first acceptable SendingAck (skipping any from
// this endpoint's own address), then unicast the fragmented body
// terminated by Empty. Returns ErrSendFailed on ack timeout.
func (c *Client) DisperseShard(digest crypto.Digest, body []byte) error {
	if err := c.sendMessage(codec.Message{Tag: codec.TagSendingReq, Digest: digest}, c.broadcastAddr); err != nil {
		return err
	}

	deadline := time.Now().Add(c.ackTimeout)
	target, err := c.awaitMessage(deadline, digest, codec.TagSendingAck)
	if err != nil {
		return ErrSendFailed
	}

	for _, frag := range codec.Fragment(digest, body, codec.FragmentBudget) {
		if err := c.sendMessage(frag, target); err != nil {
			return err
		}
	}
	return nil
}

// CollectShard runs one collection round: broadcast RetrievingReq, then
// reassemble the ContentFilled stream from whichever peer replies first,
// until Empty or the receive timeout. The returned body's digest is
// verified against the requested one; a mismatch is reported as
// ErrUnavailable, identically to a missing shard.
func (c *Client) CollectShard(digest crypto.Digest) ([]byte, error) {
	if err := c.sendMessage(codec.Message{Tag: codec.TagRetrievingReq, Digest: digest}, c.broadcastAddr); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.recvTimeout)
	reasm := codec.NewReassembler(digest)
	var from *net.UDPAddr

	for {
		raw, src, err := c.ep.RecvUntil(deadline, func(b []byte, src *net.UDPAddr) bool {
			if c.ep.IsSelf(src) {
				return false
			}
			if from != nil && !(src.IP.Equal(from.IP) && src.Port == from.Port) {
				return false
			}
			msg, derr := codec.Decode(b)
			if derr != nil {
				return false
			}
			if msg.Tag != codec.TagContent && msg.Tag != codec.TagEmpty {
				return false
			}
			return digestsEqual(msg.Digest, digest)
		})
		if err != nil {
			return nil, ErrUnavailable
		}

		msg, _ := codec.Decode(raw)
		if from == nil {
			from = src
		}
		body, done, _ := reasm.Ingest(msg)
		if !done {
			continue
		}

		recomputed := c.hasher.Sum(body)
		if !recomputed.Equal(digest) {
			return nil, ErrUnavailable
		}
		return body, nil
	}
}

func (c *Client) sendMessage(m codec.Message, addr *net.UDPAddr) error {
	encoded, err := codec.Encode(m)
	if err != nil {
		return err
	}
	return c.ep.Send(encoded, addr)
}

// awaitMessage waits, bounded by deadline (computed once by the caller),
// for the first acceptable message of tag addressed to digest from a
// non-self source, and returns its source address.
func (c *Client) awaitMessage(deadline time.Time, digest crypto.Digest, tag codec.Tag) (*net.UDPAddr, error) {
	_, src, err := c.ep.RecvUntil(deadline, func(b []byte, src *net.UDPAddr) bool {
		if c.ep.IsSelf(src) {
			return false
		}
		msg, derr := codec.Decode(b)
		if derr != nil {
			return false
		}
		return msg.Tag == tag && digestsEqual(msg.Digest, digest)
	})
	return src, err
}

func digestsEqual(a, b crypto.Digest) bool {
	return a.Equal(b)
}
