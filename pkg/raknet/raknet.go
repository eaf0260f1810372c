// Package raknet is the public surface of the transport: a thin re-export
// of internal/endpoint so applications get a stable import path while the
// wire codec, reliability engine, and socket plumbing stay unexported.
// It carries no behavior of its own beyond the two role-specific
// constructors below.
package raknet

import (
	"net"
	"time"

	"github.com/ventosilenzioso/raknet-go/internal/config"
	"github.com/ventosilenzioso/raknet-go/internal/encap"
	"github.com/ventosilenzioso/raknet-go/internal/endpoint"
	"github.com/ventosilenzioso/raknet-go/internal/metrics"
	"github.com/ventosilenzioso/raknet-go/internal/peer"
	"github.com/ventosilenzioso/raknet-go/internal/rlog"
)

// Reliability selects the delivery guarantee a Send call asks for.
type Reliability = encap.Reliability

const (
	Unreliable                   = encap.Unreliable
	UnreliableSequenced          = encap.UnreliableSequenced
	Reliable                     = encap.Reliable
	ReliableOrdered              = encap.ReliableOrdered
	ReliableSequenced            = encap.ReliableSequenced
	UnreliableWithAckReceipt     = encap.UnreliableWithAckReceipt
	ReliableWithAckReceipt       = encap.ReliableWithAckReceipt
	ReliableOrderedWithAckReceipt = encap.ReliableOrderedWithAckReceipt
)

type (
	// Config is the endpoint's runtime configuration, normally produced
	// by config.Load.
	Config = config.Config

	// EventSink is the callback surface an application wires up to learn
	// about peer lifecycle, inbound messages, and delivery receipts.
	EventSink = endpoint.EventSink

	// Recipient names the peer a Send call should reach.
	Recipient = endpoint.Recipient

	// ReceiptHandle identifies a pending acknowledge/not-acknowledge
	// receipt reported back through EventSink.OnAcknowledge/OnNotAcknowledge.
	ReceiptHandle = endpoint.ReceiptHandle

	// Peer is a single remote endpoint's connection state.
	Peer = peer.Peer

	// PeerState is one of Peer's lifecycle states.
	PeerState = peer.State

	// DisconnectReason explains why a peer left the connected-peer set.
	DisconnectReason = peer.DisconnectReason

	// Collector is the prometheus.Collector tracking transport counters;
	// register it with a prometheus.Registry to expose /metrics.
	Collector = metrics.ReliabilityCollector

	// Logger is the structured logging interface the endpoint accepts;
	// rlog.Default() or rlog.New() satisfy it. The endpoint stores it but
	// does not write log records through it.
	Logger = rlog.Logger
)

// Peer lifecycle states and disconnect reasons, re-exported for callers
// that branch on them in EventSink callbacks.
const (
	StateConnected    = peer.Connected
	StateHandshaking  = peer.Handshaking
	StateLoggedIn     = peer.LoggedIn
	StateDisconnected = peer.Disconnected

	ReasonExplicit = peer.ReasonExplicit
	ReasonTimeout  = peer.ReasonTimeout
	ReasonFlood    = peer.ReasonFlood
	ReasonShutdown = peer.ReasonShutdown
)

// ToAddress targets the peer currently bound to addr.
func ToAddress(addr *net.UDPAddr) Recipient { return endpoint.ToAddress(addr) }

// ToGUID targets the peer whose remote GUID is guid, regardless of which
// address it is currently connected from.
func ToGUID(guid uint64) Recipient { return endpoint.ToGUID(guid) }

// NewCollector builds a prometheus collector for transport counters,
// labeled with prefix (e.g. "raknet") plus any constant labels.
func NewCollector(prefix string, constLabels map[string]string) *Collector {
	return metrics.New(prefix, constLabels)
}

// Endpoint is a running (or not-yet-started) RakNet transport: one UDP
// socket plus every peer currently connected to it.
type Endpoint struct {
	inner *endpoint.Endpoint
}

// NewServer binds cfg.BindAddress and accepts inbound handshakes up to
// cfg.MaxConnections. log and metric may be nil.
func NewServer(cfg *Config, sink EventSink, log Logger, metric *Collector) (*Endpoint, error) {
	return newEndpoint(cfg, peer.RoleServer, sink, log, metric)
}

// NewClient binds cfg.BindAddress (a wildcard address and ephemeral port
// when it is empty) and drives the client side of the handshake once
// Connect is called. log and metric may be nil.
func NewClient(cfg *Config, sink EventSink, log Logger, metric *Collector) (*Endpoint, error) {
	return newEndpoint(cfg, peer.RoleClient, sink, log, metric)
}

func newEndpoint(cfg *Config, role peer.Role, sink EventSink, log Logger, metric *Collector) (*Endpoint, error) {
	var l rlog.Logger
	if log != nil {
		l = log
	}
	ep, err := endpoint.New(cfg, role, sink, l, metric)
	if err != nil {
		return nil, err
	}
	return &Endpoint{inner: ep}, nil
}

// Start launches the socket reader and tick driver goroutines.
func (e *Endpoint) Start() error { return e.inner.Start() }

// Stop notifies every connected peer and tears down the socket.
func (e *Endpoint) Stop() error { return e.inner.Stop() }

// Connect begins the client-side handshake against a remote server. Only
// meaningful on an endpoint built with NewClient.
func (e *Endpoint) Connect(addr *net.UDPAddr) error { return e.inner.Connect(addr) }

// Send submits payload to recipient under the given reliability on
// channel, returning a receipt handle when that reliability requests one.
func (e *Endpoint) Send(recipient Recipient, reliability Reliability, channel uint8, payload []byte) (ReceiptHandle, bool, error) {
	return e.inner.Send(recipient, reliability, channel, payload)
}

// Disconnect gracefully tears down p.
func (e *Endpoint) Disconnect(p *Peer) { e.inner.Disconnect(p) }

// Ban rejects every future datagram from addr, including handshake
// attempts, until Unban is called.
func (e *Endpoint) Ban(addr *net.UDPAddr) { e.inner.Ban(addr) }

// Unban reverses a prior Ban.
func (e *Endpoint) Unban(addr *net.UDPAddr) { e.inner.Unban(addr) }

// Block rejects datagrams from addr for duration d, then lifts
// automatically; used for the flood cooldown and available to callers
// directly.
func (e *Endpoint) Block(addr *net.UDPAddr, d time.Duration) { e.inner.Block(addr, d) }

// Unblock reverses a prior Block.
func (e *Endpoint) Unblock(addr *net.UDPAddr) { e.inner.Unblock(addr) }

// LocalGUID is this endpoint's own identifier.
func (e *Endpoint) LocalGUID() uint64 { return e.inner.LocalGUID() }

// LocalAddr is the socket's bound address.
func (e *Endpoint) LocalAddr() *net.UDPAddr { return e.inner.LocalAddr() }
