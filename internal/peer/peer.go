package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ventosilenzioso/raknet-go/internal/reliability"
	"github.com/ventosilenzioso/raknet-go/internal/rerr"
)

// State is one point in a peer's connection lifecycle. DISCONNECTED is
// terminal; no transition out of it is valid.
type State int

const (
	Connected State = iota
	Handshaking
	LoggedIn
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Handshaking:
		return "HANDSHAKING"
	case LoggedIn:
		return "LOGGED_IN"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validTransitions enumerates the only state changes Transition accepts;
// anything else is a protocol-level bug, not a recoverable condition.
var validTransitions = map[State][]State{
	Connected:   {Handshaking, Disconnected},
	Handshaking: {LoggedIn, Disconnected},
	LoggedIn:    {Disconnected},
}

// DisconnectReason records why a peer left the peer map, surfaced on the
// on_disconnect event.
type DisconnectReason int

const (
	ReasonExplicit DisconnectReason = iota
	ReasonTimeout
	ReasonFlood
	ReasonShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonExplicit:
		return "explicit"
	case ReasonTimeout:
		return "timeout"
	case ReasonFlood:
		return "flood"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Role distinguishes which side of the handshake this process plays for
// a given peer; the offline handshake sequence is symmetric but the
// initiating side differs.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Peer is one remote endpoint's connection state: identity, negotiated
// MTU, lifecycle state, liveness bookkeeping, and the reliability engine
// that owns its datagram traffic. The endpoint's tick loop is the sole
// mutator — nothing here is safe for concurrent use.
type Peer struct {
	RemoteAddr *net.UDPAddr
	GUID       uint64
	MTU        int
	Role       Role

	state State

	Engine *reliability.Engine
	// EngineMu guards Engine: the tick loop advances it once per tick
	// while application goroutines may submit sends at any time.
	EngineMu sync.Mutex

	ConnectedAt   time.Time
	LastReceiveAt time.Time
	nextKeepAlive time.Time

	packetWindowStart time.Time
	packetWindowCount int
}

// New creates a peer entry in the CONNECTED state, the state every peer
// starts in once the second handshake round completes.
func New(addr *net.UDPAddr, guid uint64, mtu int, role Role, now time.Time) *Peer {
	return &Peer{
		RemoteAddr:    addr,
		GUID:          guid,
		MTU:           mtu,
		Role:          role,
		state:         Connected,
		Engine:        reliability.NewEngine(mtu),
		ConnectedAt:   now,
		LastReceiveAt: now,
		nextKeepAlive: now,
	}
}

// State reports the peer's current lifecycle state.
func (p *Peer) State() State { return p.state }

// Ready reports whether the peer has completed the handshake and is
// eligible for steady-state application traffic.
func (p *Peer) Ready() bool { return p.state == LoggedIn }

// Transition moves the peer to to, rejecting any change not listed in
// validTransitions.
func (p *Peer) Transition(to State) error {
	for _, allowed := range validTransitions[p.state] {
		if allowed == to {
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %v -> %v", rerr.ErrProtocolViolation, p.state, to)
}

// Touch records an inbound datagram's arrival, resetting the timeout
// clock. It does not count toward the flood window; NoteFlood does.
func (p *Peer) Touch(now time.Time) {
	p.LastReceiveAt = now
}

// TimedOut reports whether the peer has been silent longer than timeout.
func (p *Peer) TimedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastReceiveAt) >= timeout
}

// NoteFlood records one inbound datagram against the current one-second
// window and reports whether maxPerSecond has been exceeded, in which
// case the caller should block the peer's address and disconnect it with
// ReasonFlood.
func (p *Peer) NoteFlood(now time.Time, maxPerSecond int) bool {
	if maxPerSecond <= 0 {
		return false
	}
	if now.Sub(p.packetWindowStart) >= time.Second {
		p.packetWindowStart = now
		p.packetWindowCount = 0
	}
	p.packetWindowCount++
	return p.packetWindowCount > maxPerSecond
}

// DueForKeepAlive reports whether interval has elapsed since the last
// keep-alive was due, and advances the internal clock
// if so (callers that decide not to send after all must not call this
// again before the next tick). It does not look at whether other traffic
// was sent or received in the meantime.
func (p *Peer) DueForKeepAlive(now time.Time, interval time.Duration) bool {
	if now.Before(p.nextKeepAlive) {
		return false
	}
	p.nextKeepAlive = now.Add(interval)
	return true
}
