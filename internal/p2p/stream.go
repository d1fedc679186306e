package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// frameKind discriminates a length-framed TCP message, per spec.md §4.6's
// signed stream: the Sync/Ack handshake pair, then Negotiation and
// Extension frames.
type frameKind uint8

const (
	frameSync frameKind = iota
	frameAck
	frameNegotiation
	frameNegotiationAllowed
	frameExtension
)

type syncBody struct {
	Port   uint16
	NodeID string
}
type ackBody struct{ Version uint32 }
type negotiationBody struct {
	Seq            uint64
	ExtensionName  string
	Versions       []uint32
}
type negotiationAllowedBody struct {
	Seq     uint64
	Chosen  uint32
}
type extensionBody struct {
	ExtensionName string
	Version       uint32
	Payload       []byte
	Encrypted     bool
}

// ExtensionHandler receives an Extension frame's decoded payload.
type ExtensionHandler func(peer string, payload []byte) error

// StreamVersion is the node's Ack version and the sole version this core
// negotiates on any extension, kept trivial since multi-version
// negotiation logic is out of scope.
const StreamVersion = 1

// Stream is one Established TCP connection: length-framed, encrypted and
// MAC'd under the session derived by the UDP handshake.
type Stream struct {
	mu       sync.Mutex
	conn     net.Conn
	session  xcrypto.Session
	peerAddr string
	nodeID   string

	// ID uniquely tags this connection for logs and metrics, assigned once
	// at construction the way the rest of this codebase stamps an ID onto
	// a freshly created entity.
	ID string

	handlersMu sync.RWMutex
	handlers   map[string]ExtensionHandler
	negotiated map[string]uint32
}

func newStream(conn net.Conn, session xcrypto.Session, peerAddr string) *Stream {
	return &Stream{
		conn: conn, session: session, peerAddr: peerAddr,
		ID:         uuid.New().String(),
		handlers:   make(map[string]ExtensionHandler),
		negotiated: make(map[string]uint32),
	}
}

// DialStream opens a TCP connection to addr and runs the Sync/Ack
// handshake under the already-established session.
func DialStream(addr string, session xcrypto.Session, selfPort uint16, selfNodeID string) (*Stream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial stream: %w", err)
	}
	s := newStream(conn, session, addr)
	if err := s.writeFrame(frameSync, mustEncode(&syncBody{Port: selfPort, NodeID: selfNodeID})); err != nil {
		conn.Close()
		return nil, err
	}
	kind, body, err := s.readFrame()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if kind != frameAck {
		conn.Close()
		return nil, fmt.Errorf("p2p: expected Ack, got frame kind %d", kind)
	}
	var ack ackBody
	if err := rlp.DecodeBytes(body, &ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("p2p: decode ack: %w", err)
	}
	return s, nil
}

// AcceptStream answers an inbound TCP connection: reads Sync, replies
// Ack.
func AcceptStream(conn net.Conn, session xcrypto.Session) (*Stream, error) {
	s := newStream(conn, session, conn.RemoteAddr().String())
	kind, body, err := s.readFrame()
	if err != nil {
		return nil, err
	}
	if kind != frameSync {
		return nil, fmt.Errorf("p2p: expected Sync, got frame kind %d", kind)
	}
	var sync syncBody
	if err := rlp.DecodeBytes(body, &sync); err != nil {
		return nil, fmt.Errorf("p2p: decode sync: %w", err)
	}
	s.nodeID = sync.NodeID
	if err := s.writeFrame(frameAck, mustEncode(&ackBody{Version: StreamVersion})); err != nil {
		return nil, err
	}
	return s, nil
}

func mustEncode(v interface{}) []byte {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(fmt.Sprintf("p2p: encode %T: %v", v, err))
	}
	return b
}

// writeFrame encrypts body under the session and writes it length-prefixed.
func (s *Stream) writeFrame(kind frameKind, body []byte) error {
	plain, err := rlp.EncodeToBytes(&struct {
		Kind uint8
		Body []byte
	}{Kind: uint8(kind), Body: body})
	if err != nil {
		return fmt.Errorf("p2p: encode frame: %w", err)
	}
	enc, err := s.session.Seal(plain, nil)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(enc)))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = s.conn.Write(enc)
	return err
}

func (s *Stream) readFrame() (frameKind, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(s.conn, lenPrefix[:]); err != nil {
		return 0, nil, fmt.Errorf("p2p: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	enc := make([]byte, n)
	if _, err := io.ReadFull(s.conn, enc); err != nil {
		return 0, nil, fmt.Errorf("p2p: read frame body: %w", err)
	}
	plain, err := s.session.Open(enc, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("p2p: %w", ironerr.ErrDecryptionFailed)
	}
	var f struct {
		Kind uint8
		Body []byte
	}
	if err := rlp.DecodeBytes(plain, &f); err != nil {
		return 0, nil, fmt.Errorf("p2p: decode frame: %w", err)
	}
	return frameKind(f.Kind), f.Body, nil
}

// RegisterExtension installs handler for extension-name frames, per
// consensus.NetworkService's registration contract.
func (s *Stream) RegisterExtension(name string, handler ExtensionHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[name] = handler
}

// Negotiate proposes versions for extension on this stream. It returns
// once the Negotiation frame is written; it does not wait for the peer's
// NegotiationAllowed reply.
func (s *Stream) Negotiate(seq uint64, extension string, versions []uint32) error {
	return s.writeFrame(frameNegotiation, mustEncode(&negotiationBody{Seq: seq, ExtensionName: extension, Versions: versions}))
}

// SendExtension delivers an opaque payload to the peer's named extension.
func (s *Stream) SendExtension(extension string, version uint32, payload []byte, encrypted bool) error {
	return s.writeFrame(frameExtension, mustEncode(&extensionBody{
		ExtensionName: extension, Version: version, Payload: payload, Encrypted: encrypted,
	}))
}

// Serve reads frames until the connection closes or an unrecoverable
// error occurs, dispatching Negotiation/Extension frames to registered
// handlers. Runs on its own goroutine per Established connection.
func (s *Stream) Serve() error {
	for {
		kind, body, err := s.readFrame()
		if err != nil {
			return err
		}
		switch kind {
		case frameNegotiation:
			var n negotiationBody
			if err := rlp.DecodeBytes(body, &n); err != nil {
				return err
			}
			chosen := StreamVersion
			for _, v := range n.Versions {
				if v == StreamVersion {
					chosen = int(v)
					break
				}
			}
			s.handlersMu.Lock()
			s.negotiated[n.ExtensionName] = uint32(chosen)
			s.handlersMu.Unlock()
			if err := s.writeFrame(frameNegotiationAllowed, mustEncode(&negotiationAllowedBody{Seq: n.Seq, Chosen: uint32(chosen)})); err != nil {
				return err
			}
		case frameNegotiationAllowed:
			// Caller-side of Negotiate is request/response but this core
			// treats it as fire-and-forget bookkeeping; a future reactor
			// wiring can correlate Seq to unblock a waiting caller.
		case frameExtension:
			var e extensionBody
			if err := rlp.DecodeBytes(body, &e); err != nil {
				return err
			}
			s.handlersMu.RLock()
			h, ok := s.handlers[e.ExtensionName]
			s.handlersMu.RUnlock()
			if !ok {
				continue
			}
			if err := h(s.peerAddr, e.Payload); err != nil {
				return fmt.Errorf("p2p: extension %s handler: %w", e.ExtensionName, err)
			}
		default:
			return fmt.Errorf("p2p: unexpected frame kind %d on established stream", kind)
		}
	}
}

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }
