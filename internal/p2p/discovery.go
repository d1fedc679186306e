package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// Discovery runs a libp2p host purely to learn of LAN peers via mDNS; it
// never carries consensus or block traffic itself (that is what the UDP
// handshake and TCP stream above are for), since libp2p's own session
// model has no notion of this core's Candidate/.../Established ladder.
type Discovery struct {
	host host.Host
	tag  string
	// onPeerFound is called with a peer's best-guess UDP handshake
	// address whenever mDNS discovers it.
	onPeerFound func(addr string)
}

// NewDiscovery starts an mDNS-advertising libp2p host listening at
// listenAddr (a multiaddr string), tagged with tag so only peers running
// the same network discover each other.
func NewDiscovery(listenAddr, tag string, onPeerFound func(addr string)) (*Discovery, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("p2p: new discovery host: %w", err)
	}
	d := &Discovery{host: h, tag: tag, onPeerFound: onPeerFound}
	mdns.NewMdnsService(h, tag, d)
	return d, nil
}

// HandlePeerFound implements mdns.Notifee.
func (d *Discovery) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == d.host.ID() {
		return
	}
	if len(info.Addrs) == 0 {
		return
	}
	addr := info.Addrs[0].String()
	logrus.WithField("peer", info.ID.String()).Info("p2p: discovered peer via mDNS")
	if d.onPeerFound != nil {
		d.onPeerFound(addr)
	}
}

var _ mdns.Notifee = (*Discovery)(nil)

// Close shuts down the discovery host.
func (d *Discovery) Close() error {
	return d.host.Close()
}

// Context is a convenience background context for host lifecycle calls
// that don't need cancellation beyond process exit.
func Context() context.Context { return context.Background() }
