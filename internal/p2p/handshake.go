package p2p

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// DefaultRequestTimeout is the per-request handshake timeout of spec.md
// §4.6: "per-request timeout is 3 seconds; on expiry the candidate is
// dropped."
const DefaultRequestTimeout = 3 * time.Second

// Transport sends an encoded datagram to addr; the concrete production
// implementation wraps a net.PacketConn (see udp.go).
type Transport interface {
	WriteTo(addr string, data []byte) error
}

// Scheduler lets the handshake's request timeouts be driven by a fake
// clock under test instead of real wall time.
type Scheduler interface {
	ScheduleOnce(d time.Duration, fn func()) (cancel func())
}

type realScheduler struct{}

func (realScheduler) ScheduleOnce(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type pendingRequest struct {
	seq    uint64
	kind   msgKind
	cancel func()
	// ephemeralPriv is carried across the Secret step: generated when the
	// SecretRequest is sent, needed to derive the ECDH secret once
	// SecretAllowed arrives.
	ephemeralPriv xcrypto.PrivateKey
	proposalNonce [24]byte
}

// Initiator runs spec.md §4.6's UDP session-initiator protocol. A single
// instance serves both roles: it drives outbound handshakes it begins
// (Begin) and answers inbound handshake steps from peers dialing it
// (HandleDatagram) — exactly the symmetric role every full node plays.
type Initiator struct {
	mu        sync.Mutex
	selfAddr  string
	table     *RoutingTable
	transport Transport
	scheduler Scheduler
	timeout   time.Duration
	seq       uint64
	pending   map[string]*pendingRequest // keyed by peer addr: one outstanding request per peer

	// OnSessionEstablished fires once an address reaches SessionShared,
	// ready for the TCP stream (stream.go) to dial.
	OnSessionEstablished func(addr string, secret [32]byte, session xcrypto.Session)
}

// NewInitiator builds a session initiator bound to selfAddr (what this
// node identifies itself as in NodeIdRequest).
func NewInitiator(selfAddr string, table *RoutingTable, transport Transport) *Initiator {
	return &Initiator{
		selfAddr:  selfAddr,
		table:     table,
		transport: transport,
		scheduler: realScheduler{},
		timeout:   DefaultRequestTimeout,
		pending:   make(map[string]*pendingRequest),
	}
}

func (in *Initiator) nextSeq() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.seq++
	return in.seq
}

func (in *Initiator) setPending(addr string, p *pendingRequest) {
	in.mu.Lock()
	if old, ok := in.pending[addr]; ok && old.cancel != nil {
		old.cancel()
	}
	in.pending[addr] = p
	in.mu.Unlock()
}

func (in *Initiator) clearPending(addr string, seq uint64) (*pendingRequest, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	p, ok := in.pending[addr]
	if !ok || p.seq != seq {
		return nil, false
	}
	delete(in.pending, addr)
	return p, true
}

func (in *Initiator) armTimeout(addr string, seq uint64) func() {
	return in.scheduler.ScheduleOnce(in.timeout, func() {
		if _, ok := in.clearPending(addr, seq); ok {
			in.table.Drop(addr)
		}
	})
}

// Begin starts the handshake against addr: a fresh Candidate entry sends
// NodeIdRequest(selfAddr).
func (in *Initiator) Begin(addr string) error {
	e := in.table.GetOrCreate(addr)
	if e.currentState() != Candidate {
		return fmt.Errorf("p2p: %s is not a fresh candidate (state=%s)", addr, e.currentState())
	}
	seq := in.nextSeq()
	body, err := encodeBody(&nodeIDRequestBody{InitiatorAddr: in.selfAddr})
	if err != nil {
		return err
	}
	dg, err := encodeDatagram(seq, kindNodeIDRequest, body)
	if err != nil {
		return err
	}
	p := &pendingRequest{seq: seq, kind: kindNodeIDRequest}
	p.cancel = in.armTimeout(addr, seq)
	in.setPending(addr, p)
	return in.transport.WriteTo(addr, dg)
}

// PreimportSecret skips the NodeId and Secret steps for an
// offline-provisioned secret, jumping straight to the nonce exchange.
func (in *Initiator) PreimportSecret(addr string, secret [32]byte) error {
	e := in.table.GetOrCreate(addr)
	if !e.transition(Candidate, KeyPairShared) || !e.transition(KeyPairShared, SecretShared) {
		return fmt.Errorf("p2p: %s is not a fresh candidate", addr)
	}
	e.mu.Lock()
	e.Secret = secret
	e.mu.Unlock()
	return in.beginNonceExchange(addr, secret)
}

// HandleDatagram dispatches one decoded UDP datagram from addr.
func (in *Initiator) HandleDatagram(addr string, data []byte) error {
	dg, err := decodeDatagram(data)
	if err != nil {
		return err
	}
	if e, ok := in.table.Get(addr); ok && e.currentState() == Banned {
		return fmt.Errorf("p2p: %w: %s", ironerr.ErrPeerBanned, addr)
	}
	switch msgKind(dg.Kind) {
	case kindNodeIDRequest:
		return in.handleNodeIDRequest(addr, dg.Seq, dg.Body)
	case kindNodeIDResponse:
		return in.handleNodeIDResponse(addr, dg.Seq, dg.Body)
	case kindSecretRequest:
		return in.handleSecretRequest(addr, dg.Seq, dg.Body)
	case kindSecretAllowed:
		return in.handleSecretAllowed(addr, dg.Seq, dg.Body)
	case kindSecretDenied:
		_, _ = in.clearPending(addr, dg.Seq)
		return nil
	case kindNonceRequest:
		return in.handleNonceRequest(addr, dg.Seq, dg.Body)
	case kindNonceAllowed:
		return in.handleNonceAllowed(addr, dg.Seq, dg.Body)
	case kindNonceDenied:
		_, _ = in.clearPending(addr, dg.Seq)
		return nil
	default:
		return fmt.Errorf("p2p: unknown handshake message kind %d", dg.Kind)
	}
}

// --- responder side ---

func (in *Initiator) handleNodeIDRequest(addr string, seq uint64, body []byte) error {
	var req nodeIDRequestBody
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	e := in.table.GetOrCreate(addr)
	if !e.transition(Candidate, KeyPairShared) {
		return fmt.Errorf("p2p: %s already past the identity step", addr)
	}
	resp, err := encodeBody(&nodeIDResponseBody{InitiatorAddr: in.selfAddr})
	if err != nil {
		return err
	}
	dg, err := encodeDatagram(seq, kindNodeIDResponse, resp)
	if err != nil {
		return err
	}
	return in.transport.WriteTo(addr, dg)
}

func (in *Initiator) handleSecretRequest(addr string, seq uint64, body []byte) error {
	var req secretRequestBody
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	e, ok := in.table.Get(addr)
	if !ok {
		return fmt.Errorf("p2p: secret request from unknown address %s", addr)
	}
	peerPub, err := xcrypto.PublicKeyFromBytes(req.PubKey)
	if err != nil {
		denied, _ := encodeBody(&secretDeniedBody{Reason: "bad pubkey"})
		dg, _ := encodeDatagram(seq, kindSecretDenied, denied)
		return in.transport.WriteTo(addr, dg)
	}
	priv, err := xcrypto.GenerateKey()
	if err != nil {
		return err
	}
	secret := xcrypto.ECDH(priv, peerPub)
	if !e.transition(KeyPairShared, SecretShared) {
		return fmt.Errorf("p2p: %s already past the secret step", addr)
	}
	e.mu.Lock()
	e.PeerPubKey = peerPub
	e.Secret = secret
	e.mu.Unlock()

	resp, err := encodeBody(&secretAllowedBody{PubKey: priv.Public().Bytes()})
	if err != nil {
		return err
	}
	dg, err := encodeDatagram(seq, kindSecretAllowed, resp)
	if err != nil {
		return err
	}
	return in.transport.WriteTo(addr, dg)
}

func (in *Initiator) handleNonceRequest(addr string, seq uint64, body []byte) error {
	var req nonceBody
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	e, ok := in.table.Get(addr)
	if !ok {
		return fmt.Errorf("p2p: nonce request from unknown address %s", addr)
	}
	e.mu.RLock()
	secret := e.Secret
	e.mu.RUnlock()
	temp := xcrypto.ZeroNonceSession(secret)
	if _, err := temp.Open(req.EncNonce, nil); err != nil {
		denied, _ := encodeBody(&denyBody{Reason: "decrypt failed"})
		dg, _ := encodeDatagram(seq, kindNonceDenied, denied)
		return in.transport.WriteTo(addr, dg)
	}
	if !e.transition(SecretShared, TemporaryNonceShared) {
		return fmt.Errorf("p2p: %s already past the temporary-session step", addr)
	}
	var finalNonce [24]byte
	if _, err := rand.Read(finalNonce[:]); err != nil {
		return fmt.Errorf("p2p: generate nonce: %w", err)
	}
	enc, err := temp.Seal(finalNonce[:], nil)
	if err != nil {
		return err
	}
	if !e.transition(TemporaryNonceShared, SessionShared) {
		return fmt.Errorf("p2p: %s already past the session step", addr)
	}
	e.mu.Lock()
	e.Session = xcrypto.Session{Secret: secret, Nonce: finalNonce}
	e.mu.Unlock()

	resp, err := encodeBody(&nonceBody{EncNonce: enc})
	if err != nil {
		return err
	}
	dg, err := encodeDatagram(seq, kindNonceAllowed, resp)
	if err != nil {
		return err
	}
	if err := in.transport.WriteTo(addr, dg); err != nil {
		return err
	}
	if in.OnSessionEstablished != nil {
		in.OnSessionEstablished(addr, secret, xcrypto.Session{Secret: secret, Nonce: finalNonce})
	}
	return nil
}

// --- initiator side ---

func (in *Initiator) handleNodeIDResponse(addr string, seq uint64, body []byte) error {
	var resp nodeIDResponseBody
	if err := decodeBody(body, &resp); err != nil {
		return err
	}
	if _, ok := in.clearPending(addr, seq); !ok {
		return fmt.Errorf("p2p: unexpected NodeIdResponse from %s", addr)
	}
	e, ok := in.table.Get(addr)
	if !ok || !e.transition(Candidate, KeyPairShared) {
		return fmt.Errorf("p2p: %s not awaiting identity confirmation", addr)
	}
	e.mu.Lock()
	e.NodeID = resp.InitiatorAddr
	e.mu.Unlock()

	priv, err := xcrypto.GenerateKey()
	if err != nil {
		return err
	}
	reqSeq := in.nextSeq()
	body2, err := encodeBody(&secretRequestBody{PubKey: priv.Public().Bytes()})
	if err != nil {
		return err
	}
	dg, err := encodeDatagram(reqSeq, kindSecretRequest, body2)
	if err != nil {
		return err
	}
	p := &pendingRequest{seq: reqSeq, kind: kindSecretRequest, ephemeralPriv: priv}
	p.cancel = in.armTimeout(addr, reqSeq)
	in.setPending(addr, p)
	return in.transport.WriteTo(addr, dg)
}

func (in *Initiator) handleSecretAllowed(addr string, seq uint64, body []byte) error {
	var resp secretAllowedBody
	if err := decodeBody(body, &resp); err != nil {
		return err
	}
	p, ok := in.clearPending(addr, seq)
	if !ok {
		return fmt.Errorf("p2p: unexpected SecretAllowed from %s", addr)
	}
	peerPub, err := xcrypto.PublicKeyFromBytes(resp.PubKey)
	if err != nil {
		return err
	}
	secret := xcrypto.ECDH(p.ephemeralPriv, peerPub)
	e, ok := in.table.Get(addr)
	if !ok || !e.transition(KeyPairShared, SecretShared) {
		return fmt.Errorf("p2p: %s not awaiting secret confirmation", addr)
	}
	e.mu.Lock()
	e.PeerPubKey = peerPub
	e.Secret = secret
	e.mu.Unlock()
	return in.beginNonceExchange(addr, secret)
}

func (in *Initiator) beginNonceExchange(addr string, secret [32]byte) error {
	e, ok := in.table.Get(addr)
	if !ok || !e.transition(SecretShared, TemporaryNonceShared) {
		return fmt.Errorf("p2p: %s not ready for the nonce exchange", addr)
	}
	var proposal [24]byte
	if _, err := rand.Read(proposal[:]); err != nil {
		return fmt.Errorf("p2p: generate proposal nonce: %w", err)
	}
	temp := xcrypto.ZeroNonceSession(secret)
	enc, err := temp.Seal(proposal[:], nil)
	if err != nil {
		return err
	}
	seq := in.nextSeq()
	body, err := encodeBody(&nonceBody{EncNonce: enc})
	if err != nil {
		return err
	}
	dg, err := encodeDatagram(seq, kindNonceRequest, body)
	if err != nil {
		return err
	}
	p := &pendingRequest{seq: seq, kind: kindNonceRequest, proposalNonce: proposal}
	p.cancel = in.armTimeout(addr, seq)
	in.setPending(addr, p)
	return in.transport.WriteTo(addr, dg)
}

func (in *Initiator) handleNonceAllowed(addr string, seq uint64, body []byte) error {
	var resp nonceBody
	if err := decodeBody(body, &resp); err != nil {
		return err
	}
	if _, ok := in.clearPending(addr, seq); !ok {
		return fmt.Errorf("p2p: unexpected NonceAllowed from %s", addr)
	}
	e, ok := in.table.Get(addr)
	if !ok {
		return fmt.Errorf("p2p: unknown address %s", addr)
	}
	e.mu.RLock()
	secret := e.Secret
	e.mu.RUnlock()
	temp := xcrypto.ZeroNonceSession(secret)
	plain, err := temp.Open(resp.EncNonce, nil)
	if err != nil {
		return fmt.Errorf("p2p: %w", ironerr.ErrDecryptionFailed)
	}
	var finalNonce [24]byte
	copy(finalNonce[:], plain)
	if !e.transition(TemporaryNonceShared, SessionShared) {
		return fmt.Errorf("p2p: %s not awaiting session confirmation", addr)
	}
	session := xcrypto.Session{Secret: secret, Nonce: finalNonce}
	e.mu.Lock()
	e.Session = session
	e.mu.Unlock()
	if in.OnSessionEstablished != nil {
		in.OnSessionEstablished(addr, secret, session)
	}
	return nil
}

// ResetSession returns an Establishing peer to SessionShared, the one
// explicit backward transition spec.md §4.6 allows, to let a dropped TCP
// connection reconnect without repeating the UDP handshake.
func (in *Initiator) ResetSession(addr string) error {
	e, ok := in.table.Get(addr)
	if !ok {
		return fmt.Errorf("p2p: unknown address %s", addr)
	}
	if !e.transition(Establishing, SessionShared) {
		return fmt.Errorf("p2p: %s is not in Establishing", addr)
	}
	return nil
}
