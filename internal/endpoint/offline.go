package endpoint

import (
	"net"
	"time"

	"github.com/ventosilenzioso/raknet-go/internal/config"
	"github.com/ventosilenzioso/raknet-go/internal/encap"
	"github.com/ventosilenzioso/raknet-go/internal/framer"
	"github.com/ventosilenzioso/raknet-go/internal/peer"
)

// handleOffline processes a single-shot handshake or discovery message.
// Only the server role replies to OpenConnectionRequest1/2 here; a client
// endpoint instead drives its own handshake through Connect. Either role
// answers UnconnectedPing when broadcasting is enabled. Messages from a
// banned or blocked address are dropped, except OpenConnectionRequest1,
// which gets an explicit ConnectionBanned reply.
func (e *Endpoint) handleOffline(data []byte, addr *net.UDPAddr, now time.Time) {
	msg, err := framer.DecodeOffline(data)
	if err != nil {
		e.dispatchHandlerError(addr, err)
		return
	}

	if msg.ID != peer.IDOpenConnectionRequest1 {
		key := addr.String()
		e.mu.RLock()
		_, banned := e.banned[key]
		blockedUntil, isBlocked := e.blocked[key]
		e.mu.RUnlock()
		if banned || (isBlocked && now.Before(blockedUntil.until)) {
			return
		}
	}

	switch msg.ID {
	case peer.IDUnconnectedPing, peer.IDUnconnectedPingOpenConnections:
		e.handleUnconnectedPing(msg, addr, msg.ID == peer.IDUnconnectedPingOpenConnections)
	case peer.IDOpenConnectionRequest1:
		if e.role == peer.RoleServer {
			e.handleOpenConnectionRequest1(msg, addr, now)
		}
	case peer.IDOpenConnectionRequest2:
		if e.role == peer.RoleServer {
			e.handleOpenConnectionRequest2(msg, addr, now)
		}
	case peer.IDOpenConnectionReply1, peer.IDOpenConnectionReply2, peer.IDUnconnectedPong:
		if e.role == peer.RoleClient {
			e.handleClientHandshakeReply(msg, addr, now)
		}
	}
}

func (e *Endpoint) handleUnconnectedPing(msg *framer.OfflineMessage, addr *net.UDPAddr, openConnectionsOnly bool) {
	if !e.cfg.BroadcastingEnabled {
		return
	}
	if openConnectionsOnly && e.atCapacity() {
		return
	}
	timestamp, _, err := peer.DecodeUnconnectedPing(msg.Payload)
	if err != nil {
		e.dispatchHandlerError(addr, err)
		return
	}
	identifier := []byte(e.cfg.Identifier)
	if override := e.sink.handlePing(addr); override != nil {
		identifier = override
	}
	e.sendRaw(addr, peer.EncodeUnconnectedPong(timestamp, e.localGUID, identifier))
}

func (e *Endpoint) atCapacity() bool {
	if e.cfg.MaxConnections < 0 {
		return false
	}
	e.mu.RLock()
	n := len(e.peersByAddr)
	e.mu.RUnlock()
	return n >= e.cfg.MaxConnections
}

func (e *Endpoint) handleOpenConnectionRequest1(msg *framer.OfflineMessage, addr *net.UDPAddr, now time.Time) {
	req, err := peer.DecodeOpenConnectionRequest1(msg.Payload)
	if err != nil {
		e.dispatchHandlerError(addr, err)
		return
	}
	if req.ProtocolVersion != peer.ProtocolVersion {
		e.sendRaw(addr, peer.EncodeSimpleWithMagic(peer.IDIncompatibleProtocolVersion))
		return
	}
	key := addr.String()
	e.mu.RLock()
	_, banned := e.banned[key]
	blockedUntil, isBlocked := e.blocked[key]
	e.mu.RUnlock()
	if banned || (isBlocked && now.Before(blockedUntil.until)) {
		e.sendRaw(addr, peer.EncodeSimpleWithMagic(peer.IDConnectionBanned))
		return
	}
	if e.atCapacity() {
		e.sendRaw(addr, peer.EncodeSimpleWithMagic(peer.IDNoFreeIncomingConnections))
		return
	}

	e.mu.RLock()
	existing := e.peersByAddr[key]
	e.mu.RUnlock()
	if existing != nil && existing.State() == peer.LoggedIn {
		e.removePeer(existing, peer.ReasonExplicit)
	}

	mtu := req.MTU
	if mtu > e.cfg.MTU {
		mtu = e.cfg.MTU
	}
	e.sendRaw(addr, peer.EncodeOpenConnectionReply1(e.localGUID, uint16(mtu)))
}

func (e *Endpoint) handleOpenConnectionRequest2(msg *framer.OfflineMessage, addr *net.UDPAddr, now time.Time) {
	req, err := peer.DecodeOpenConnectionRequest2(msg.Payload)
	if err != nil {
		e.dispatchHandlerError(addr, err)
		return
	}
	mtu := int(req.ClientMTU)
	if mtu > e.cfg.MTU {
		mtu = e.cfg.MTU
	}
	if mtu < config.MinMTU {
		mtu = config.MinMTU
	}

	p := peer.New(addr, req.ClientGUID, mtu, peer.RoleServer, now)
	e.addPeer(p)

	e.sendRaw(addr, peer.EncodeOpenConnectionReply2(e.localGUID, addr, uint16(mtu)))
}

// handleClientHandshakeReply drives the client side of the handshake:
// OpenConnectionReply1 triggers OpenConnectionRequest2; OpenConnectionReply2
// completes the offline phase and creates the local peer entry for the
// server, after which the connected-datagram ConnectionRequest continues
// the handshake exactly as the server does in handleDelivery.
func (e *Endpoint) handleClientHandshakeReply(msg *framer.OfflineMessage, addr *net.UDPAddr, now time.Time) {
	switch msg.ID {
	case peer.IDOpenConnectionReply1:
		reply, err := peer.DecodeOpenConnectionReply1(msg.Payload)
		if err != nil {
			e.dispatchHandlerError(addr, err)
			return
		}
		mtu := int(reply.MTU)
		if mtu > e.cfg.MTU {
			mtu = e.cfg.MTU
		}
		e.sendRaw(addr, peer.EncodeOpenConnectionRequest2(addr, uint16(mtu), e.localGUID))
	case peer.IDOpenConnectionReply2:
		reply, err := peer.DecodeOpenConnectionReply2(msg.Payload)
		if err != nil {
			e.dispatchHandlerError(addr, err)
			return
		}
		e.mu.RLock()
		_, exists := e.peersByAddr[addr.String()]
		e.mu.RUnlock()
		if exists {
			return
		}
		p := peer.New(addr, reply.ServerGUID, int(reply.MTU), peer.RoleClient, now)
		e.addPeer(p)
		p.Transition(peer.Handshaking)
		p.EngineMu.Lock()
		p.Engine.Submit(encap.Reliable, 0, peer.EncodeConnectionRequest(e.localGUID, uint64(now.UnixMilli())))
		p.EngineMu.Unlock()
	}
}

// Connect begins the client-side handshake against a server at addr,
// sending the first OpenConnectionRequest1 probe. The rest of the
// handshake is driven by handleClientHandshakeReply/handleDelivery as
// replies and connected datagrams arrive.
func (e *Endpoint) Connect(addr *net.UDPAddr) error {
	e.sendRaw(addr, peer.EncodeOpenConnectionRequest1(peer.ProtocolVersion, e.cfg.MTU))
	return nil
}
