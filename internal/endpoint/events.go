package endpoint

import (
	"fmt"
	"net"

	"github.com/ventosilenzioso/raknet-go/internal/peer"
)

// EventSink is the endpoint's single typed callback surface — one struct
// field per lifecycle event rather than the teacher's map-keyed event
// bus, since the event set here is small, fixed, and fully known at
// compile time. A nil field is simply not invoked. OnConnect, OnLogin,
// OnMessage, OnAcknowledge, OnNotAcknowledge and OnPeerError run on a
// worker goroutine dedicated to the originating peer, in dispatch order;
// when that worker already has 64 events pending, the event runs inline
// on the dispatching goroutine instead. OnDisconnect runs on the
// goroutine that removes the peer (the tick loop, the socket reader, or
// a Disconnect/Stop caller) while the peer's worker may still be
// delivering earlier events, and removing a peer waits for that worker
// to drain. OnHandlerError and HandlePing run synchronously on the
// goroutine that raised them. A callback that panics is caught
// and surfaced through OnHandlerError instead of crashing the process —
// an application bug must never propagate back into the protocol loop.
type EventSink struct {
	OnConnect        func(p *peer.Peer)
	OnLogin          func(p *peer.Peer)
	OnDisconnect     func(p *peer.Peer, reason peer.DisconnectReason)
	OnMessage        func(p *peer.Peer, channel uint8, payload []byte)
	OnAcknowledge    func(handle ReceiptHandle)
	OnNotAcknowledge func(handle ReceiptHandle)
	OnHandlerError   func(addr *net.UDPAddr, cause error)
	OnPeerError      func(p *peer.Peer, cause error)
	// HandlePing lets the application override the identifier bytes
	// returned in an UnconnectedPong; returning nil keeps the endpoint's
	// configured default.
	HandlePing func(sender *net.UDPAddr) []byte
}

// recoverInto reports a panicking callback through OnHandlerError instead
// of letting it unwind into the caller (the peer worker, or the tick/read
// loop for callbacks invoked synchronously). addr may be nil when no
// remote address applies to the failing callback.
func (s EventSink) recoverInto(addr *net.UDPAddr) {
	if r := recover(); r != nil {
		s.fireHandlerError(addr, fmt.Errorf("panic in event callback: %v", r))
	}
}

func (s EventSink) fireConnect(p *peer.Peer) {
	if s.OnConnect == nil {
		return
	}
	defer s.recoverInto(p.RemoteAddr)
	s.OnConnect(p)
}

func (s EventSink) fireLogin(p *peer.Peer) {
	if s.OnLogin == nil {
		return
	}
	defer s.recoverInto(p.RemoteAddr)
	s.OnLogin(p)
}

func (s EventSink) fireDisconnect(p *peer.Peer, reason peer.DisconnectReason) {
	if s.OnDisconnect == nil {
		return
	}
	defer s.recoverInto(p.RemoteAddr)
	s.OnDisconnect(p, reason)
}

func (s EventSink) fireMessage(p *peer.Peer, channel uint8, payload []byte) {
	if s.OnMessage == nil {
		return
	}
	defer s.recoverInto(p.RemoteAddr)
	s.OnMessage(p, channel, payload)
}

func (s EventSink) fireAcknowledge(h ReceiptHandle) {
	if s.OnAcknowledge == nil {
		return
	}
	defer s.recoverInto(nil)
	s.OnAcknowledge(h)
}

func (s EventSink) fireNotAcknowledge(h ReceiptHandle) {
	if s.OnNotAcknowledge == nil {
		return
	}
	defer s.recoverInto(nil)
	s.OnNotAcknowledge(h)
}

// fireHandlerError invokes OnHandlerError directly, recovering silently
// (no further reporting) if the handler itself panics — there is nowhere
// left to surface that failure to.
func (s EventSink) fireHandlerError(addr *net.UDPAddr, cause error) {
	if s.OnHandlerError == nil {
		return
	}
	defer func() { recover() }()
	s.OnHandlerError(addr, cause)
}

func (s EventSink) firePeerError(p *peer.Peer, cause error) {
	if s.OnPeerError == nil {
		return
	}
	defer s.recoverInto(p.RemoteAddr)
	s.OnPeerError(p, cause)
}

// handlePing invokes HandlePing, recovering if it panics (it runs
// synchronously on the socket read loop, not a peer worker) and
// reporting the failure through OnHandlerError. A nil return — whether
// from a nil HandlePing or a recovered panic — tells the caller to keep
// the endpoint's configured default identifier.
func (s EventSink) handlePing(addr *net.UDPAddr) (override []byte) {
	if s.HandlePing == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			override = nil
			s.fireHandlerError(addr, fmt.Errorf("panic in HandlePing callback: %v", r))
		}
	}()
	return s.HandlePing(addr)
}
