package p2p

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

// UDPTransport adapts a net.PacketConn to the Transport interface and
// drives an Initiator's HandleDatagram from a dedicated read loop.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket at addr (host:port) for the session
// initiator.
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("p2p: listen udp: %w", err)
	}
	return &UDPTransport{conn: conn}, nil
}

// WriteTo implements Transport.
func (t *UDPTransport) WriteTo(addr string, data []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("p2p: resolve udp addr: %w", err)
	}
	_, err = t.conn.WriteToUDP(data, udpAddr)
	return err
}

// Close shuts down the underlying socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }

// ServeInitiator reads datagrams in a loop and feeds them to in, until the
// socket closes. Intended to run in its own goroutine; malformed
// datagrams are logged and skipped rather than treated as fatal.
func (t *UDPTransport) ServeInitiator(in *Initiator) error {
	buf := make([]byte, 2048)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		if err := in.HandleDatagram(from.String(), append([]byte(nil), buf[:n]...)); err != nil {
			logrus.WithError(err).WithField("peer", from.String()).Warn("p2p: handshake datagram rejected")
		}
	}
}
