package p2p

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// msgKind discriminates a UDP handshake datagram's body, per spec.md
// §4.6's three-step session initiator.
type msgKind uint8

const (
	kindNodeIDRequest msgKind = iota
	kindNodeIDResponse
	kindSecretRequest
	kindSecretAllowed
	kindSecretDenied
	kindNonceRequest
	kindNonceAllowed
	kindNonceDenied
)

// datagram is the wire envelope: "[version=0, seq, body_kind,
// body_fields...]", at most one message per UDP datagram.
type datagram struct {
	Version uint8
	Seq     uint64
	Kind    uint8
	Body    []byte
}

func encodeDatagram(seq uint64, kind msgKind, body []byte) ([]byte, error) {
	d := datagram{Version: 0, Seq: seq, Kind: uint8(kind), Body: body}
	b, err := rlp.EncodeToBytes(&d)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode datagram: %w", err)
	}
	return b, nil
}

func decodeDatagram(b []byte) (datagram, error) {
	var d datagram
	if err := rlp.DecodeBytes(b, &d); err != nil {
		return datagram{}, fmt.Errorf("p2p: decode datagram: %w", err)
	}
	if d.Version != 0 {
		return datagram{}, fmt.Errorf("p2p: unsupported datagram version %d", d.Version)
	}
	return d, nil
}

type nodeIDRequestBody struct{ InitiatorAddr string }
type nodeIDResponseBody struct{ InitiatorAddr string }
type secretRequestBody struct{ PubKey []byte }
type secretAllowedBody struct{ PubKey []byte }
type secretDeniedBody struct{ Reason string }
type nonceBody struct{ EncNonce []byte }
type denyBody struct{ Reason string }

func encodeBody(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode body: %w", err)
	}
	return b, nil
}

func decodeBody(b []byte, v interface{}) error {
	if err := rlp.DecodeBytes(b, v); err != nil {
		return fmt.Errorf("p2p: decode body: %w", err)
	}
	return nil
}
