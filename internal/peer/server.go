// Package peer implements the peer's single server loop. It receives one
// datagram at a time, decodes it, and dispatches to the storage engine,
// replying with an acknowledgement or content stream where admissible
// and silently dropping everything else.
package peer

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/leafstore/leafnode/internal/codec"
	"github.com/leafstore/leafnode/internal/erasure"
	"github.com/leafstore/leafnode/internal/metrics"
	"github.com/leafstore/leafnode/internal/peerstore"
	"github.com/leafstore/leafnode/internal/transport"
)

// reassemblyTimeout bounds how long a partial ContentFilled stream is
// held before being abandoned.
const reassemblyTimeout = 30 * time.Second

// reservedSlotEstimate is the conservative per-shard size used by Admit
// when handling a SendingReq, since the request names only a digest and
// the actual body size isn't known until the ContentFilled stream
// arrives.
const reservedSlotEstimate = erasure.MaxBlockSize

type reassembly struct {
	r        *codec.Reassembler
	lastSeen time.Time
}

// Server is the peer's single-threaded receive/dispatch loop, sharing one
// Store and one transport Endpoint.
type Server struct {
	ep      *transport.Endpoint
	store   *peerstore.Store
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*reassembly
}

// New builds a Server over an already-bound Endpoint and Store.
func New(ep *transport.Endpoint, store *peerstore.Store, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ep: ep, store: store, metrics: m, log: log, pending: make(map[string]*reassembly)}
}

// Serve runs the receive/dispatch loop until ctx is cancelled. Errors
// from any subsystem are logged; the loop itself never terminates on a
// recoverable error.
func (s *Server) Serve(ctx context.Context) error {
	go s.reapStaleReassembly(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, src, err := s.ep.Recv()
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			s.log.Warn("recv failed", "error", err)
			continue
		}

		msg, err := codec.Decode(payload)
		if err != nil {
			s.metrics.PeerDropTotal.WithLabelValues("malformed").Inc()
			s.log.Debug("dropping malformed datagram", "source", src, "error", err)
			continue
		}
		s.dispatch(msg, src)
	}
}

func (s *Server) dispatch(msg codec.Message, src *net.UDPAddr) {
	switch msg.Tag {
	case codec.TagSendingReq:
		s.handleSendingReq(msg, src)
	case codec.TagRetrievingReq:
		s.handleRetrievingReq(msg, src)
	case codec.TagContent, codec.TagEmpty:
		s.handleContentStream(msg, src)
	default:
		s.metrics.PeerDropTotal.WithLabelValues("unknown_tag").Inc()
	}
}

func (s *Server) handleSendingReq(msg codec.Message, src *net.UDPAddr) {
	if !s.store.Admit(msg.Digest, reservedSlotEstimate) {
		s.metrics.PeerFullTotal.Inc()
		return
	}
	s.metrics.PeerAdmitTotal.Inc()
	ack := codec.Message{Tag: codec.TagSendingAck, Digest: msg.Digest}
	s.send(ack, src)
}

func (s *Server) handleRetrievingReq(msg codec.Message, src *net.UDPAddr) {
	data, err := s.store.Get(msg.Digest)
	if err != nil {
		return
	}
	s.metrics.PeerGetTotal.Inc()
	for _, frag := range codec.Fragment(msg.Digest, data, codec.FragmentBudget) {
		s.send(frag, src)
	}
}

func (s *Server) handleContentStream(msg codec.Message, src *net.UDPAddr) {
	key := src.String() + ":" + msg.Digest.String()

	s.mu.Lock()
	re, ok := s.pending[key]
	if !ok {
		re = &reassembly{r: codec.NewReassembler(msg.Digest)}
		s.pending[key] = re
	}
	re.lastSeen = time.Now()
	s.mu.Unlock()

	body, done, err := re.r.Ingest(msg)
	if err != nil {
		s.metrics.PeerDropTotal.WithLabelValues("reassembly_error").Inc()
		return
	}
	if !done {
		return
	}

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()

	if err := s.store.Save(msg.Digest, body); err != nil {
		s.log.Debug("save rejected", "digest", msg.Digest, "error", err)
	} else {
		s.metrics.PeerSaveTotal.Inc()
	}
}

func (s *Server) send(msg codec.Message, addr *net.UDPAddr) {
	encoded, err := codec.Encode(msg)
	if err != nil {
		s.log.Warn("encode reply failed", "error", err)
		return
	}
	if err := s.ep.Send(encoded, addr); err != nil {
		s.log.Debug("send reply failed", "error", err)
	}
}

func (s *Server) reapStaleReassembly(ctx context.Context) {
	ticker := time.NewTicker(reassemblyTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-reassemblyTimeout)
			s.mu.Lock()
			for key, re := range s.pending {
				if re.lastSeen.Before(cutoff) {
					delete(s.pending, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
