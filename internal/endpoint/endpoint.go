// Package endpoint owns the UDP socket, the dual-indexed peer map, the
// ban/block lists, and the tick loop that drives every peer's reliability
// engine, liveness checks, and the offline handshake. It is the one
// package that knows about addresses and sockets; everything below it
// works in terms of bytes and peer identities.
package endpoint

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ventosilenzioso/raknet-go/internal/config"
	"github.com/ventosilenzioso/raknet-go/internal/encap"
	"github.com/ventosilenzioso/raknet-go/internal/framer"
	"github.com/ventosilenzioso/raknet-go/internal/metrics"
	"github.com/ventosilenzioso/raknet-go/internal/peer"
	"github.com/ventosilenzioso/raknet-go/internal/rerr"
	"github.com/ventosilenzioso/raknet-go/internal/rlog"
)

// TickInterval is the endpoint's drive period, at the spec's ceiling of
// 10ms for responsive retransmission and ACK/NACK flushing.
const TickInterval = 10 * time.Millisecond

const recvBufferSize = 2048

type blockedEntry struct {
	until time.Time
}

type peerWorker struct {
	jobs chan func()
	done chan struct{}
}

func newPeerWorker() *peerWorker {
	w := &peerWorker{jobs: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		for job := range w.jobs {
			job()
		}
		close(w.done)
	}()
	return w
}

func (w *peerWorker) enqueue(job func()) {
	select {
	case w.jobs <- job:
	default:
		// Worker fell behind; run inline rather than drop an event.
		job()
	}
}

func (w *peerWorker) stop() {
	close(w.jobs)
	<-w.done
}

// Endpoint is a process-wide RakNet transport: one UDP socket, a role
// (server or client), and every peer currently connected to it.
type Endpoint struct {
	cfg    *config.Config
	role   peer.Role
	conn   *net.UDPConn
	sink   EventSink
	log    rlog.Logger
	metric *metrics.ReliabilityCollector

	localGUID uint64
	startedAt time.Time

	mu          sync.RWMutex
	peersByAddr map[string]*peer.Peer
	peersByGUID map[uint64]*peer.Peer
	workers     map[uint64]*peerWorker
	banned      map[string]struct{}
	blocked     map[string]blockedEntry

	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New binds a UDP socket per cfg.BindAddress and constructs an endpoint
// in the given role. It does not start serving until Start is called.
func New(cfg *config.Config, role peer.Role, sink EventSink, log rlog.Logger, metric *metrics.ReliabilityCollector) (*Endpoint, error) {
	var laddr *net.UDPAddr
	if cfg.BindAddress != "" {
		a, err := net.ResolveUDPAddr("udp", cfg.BindAddress)
		if err != nil {
			return nil, fmt.Errorf("raknet: resolving bind address %q: %w", cfg.BindAddress, err)
		}
		laddr = a
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrSocketError, err)
	}
	guid, err := newGUID()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Endpoint{
		cfg:         cfg,
		role:        role,
		conn:        conn,
		sink:        sink,
		log:         log,
		metric:      metric,
		localGUID:   guid,
		peersByAddr: make(map[string]*peer.Peer),
		peersByGUID: make(map[uint64]*peer.Peer),
		workers:     make(map[uint64]*peerWorker),
		banned:      make(map[string]struct{}),
		blocked:     make(map[string]blockedEntry),
		stopCh:      make(chan struct{}),
	}, nil
}

// LocalGUID is this endpoint's own 64-bit identifier, surfaced in
// OpenConnectionReply1/2 and UnconnectedPong.
func (e *Endpoint) LocalGUID() uint64 { return e.localGUID }

// LocalAddr is the socket's bound address.
func (e *Endpoint) LocalAddr() *net.UDPAddr { return e.conn.LocalAddr().(*net.UDPAddr) }

// Start launches the socket reader and tick driver goroutines.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return rerr.ErrAlreadyRunning
	}
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.wg.Add(2)
	go e.readLoop()
	go e.tickLoop()
	return nil
}

// Stop drains a disconnection notification to every connected peer, then
// tears down the socket and both driver goroutines.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return rerr.ErrNotRunning
	}
	e.running = false
	peers := make([]*peer.Peer, 0, len(e.peersByAddr))
	for _, p := range e.peersByAddr {
		peers = append(peers, p)
	}
	e.mu.Unlock()

	for _, p := range peers {
		e.sendDisconnectionNotice(p)
		e.removePeer(p, peer.ReasonShutdown)
	}

	close(e.stopCh)
	e.conn.Close()
	e.wg.Wait()
	return nil
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, recvBufferSize)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleInbound(data, addr, time.Now())
	}
}

func (e *Endpoint) tickLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

func (e *Endpoint) tick(now time.Time) {
	e.mu.RLock()
	peers := make([]*peer.Peer, 0, len(e.peersByAddr))
	for _, p := range e.peersByAddr {
		peers = append(peers, p)
	}
	e.mu.RUnlock()

	for _, p := range peers {
		e.tickPeer(p, now)
	}
}

func (e *Endpoint) tickPeer(p *peer.Peer, now time.Time) {
	if p.TimedOut(now, e.cfg.Timeout) {
		e.removePeer(p, peer.ReasonTimeout)
		return
	}

	if p.Ready() && p.DueForKeepAlive(now, e.cfg.KeepAliveInterval) {
		p.EngineMu.Lock()
		p.Engine.Submit(encap.Reliable, 0, peer.EncodeConnectionRequest(e.localGUID, uint64(now.UnixMilli())))
		p.EngineMu.Unlock()
	}

	p.EngineMu.Lock()
	res, err := p.Engine.Tick(now)
	p.EngineMu.Unlock()
	if err != nil {
		e.dispatchPeerError(p, err)
		return
	}
	for _, raw := range res.Datagrams {
		e.sendRaw(p.RemoteAddr, raw)
		if e.metric != nil {
			e.metric.AddDatagramSent(len(raw))
		}
	}
	if e.metric != nil {
		for i := 0; i < res.Retransmits; i++ {
			e.metric.AddRetransmit()
		}
		for i := 0; i < res.NacksIssued; i++ {
			e.metric.AddNackIssued()
		}
	}
}

func (e *Endpoint) sendRaw(addr *net.UDPAddr, data []byte) {
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		e.dispatchHandlerError(addr, fmt.Errorf("%w: %v", rerr.ErrSocketError, err))
	}
}

func (e *Endpoint) handleInbound(data []byte, addr *net.UDPAddr, now time.Time) {
	key := addr.String()

	kind, err := framer.Classify(data)
	if err != nil {
		e.dispatchHandlerError(addr, err)
		return
	}

	if kind == framer.KindOffline {
		// Bans/blocks are enforced inside handleOffline: an
		// OpenConnectionRequest1 from a banned address still gets an
		// explicit ConnectionBanned reply, per the handshake's contract.
		e.handleOffline(data, addr, now)
		return
	}

	e.mu.RLock()
	_, banned := e.banned[key]
	blockedUntil, isBlocked := e.blocked[key]
	e.mu.RUnlock()
	if banned || (isBlocked && now.Before(blockedUntil.until)) {
		return
	}

	e.mu.RLock()
	p := e.peersByAddr[key]
	e.mu.RUnlock()
	if p == nil {
		return // connected-flag datagram from an unknown peer; silently dropped
	}

	p.Touch(now)
	if p.NoteFlood(now, e.cfg.MaxPacketsPerSecond) {
		e.ban(addr, e.cfg.FloodBlockDuration)
		e.removePeer(p, peer.ReasonFlood)
		return
	}
	if e.metric != nil {
		e.metric.AddDatagramReceived(len(data))
	}

	switch kind {
	case framer.KindData:
		e.handleData(p, data)
	case framer.KindAck:
		ids, err := framer.DecodeAck(data)
		if err != nil {
			e.dispatchHandlerError(addr, err)
			return
		}
		p.EngineMu.Lock()
		acked := p.Engine.HandleAck(ids)
		p.EngineMu.Unlock()
		for _, id := range acked {
			if e.metric != nil {
				e.metric.AddReliableAcked()
			}
			e.dispatchAcknowledge(p, uint64(id))
		}
	case framer.KindNack:
		ids, err := framer.DecodeNack(data)
		if err != nil {
			e.dispatchHandlerError(addr, err)
			return
		}
		if e.metric != nil {
			e.metric.AddNackReceived()
		}
		p.EngineMu.Lock()
		notAcked, retransmitted := p.Engine.HandleNack(ids)
		p.EngineMu.Unlock()
		if e.metric != nil {
			for i := 0; i < retransmitted; i++ {
				e.metric.AddRetransmit()
			}
		}
		for _, id := range notAcked {
			e.dispatchNotAcknowledge(p, uint64(id))
		}
	}
}

func (e *Endpoint) handleData(p *peer.Peer, data []byte) {
	p.EngineMu.Lock()
	res, err := p.Engine.HandleDatagram(data)
	p.EngineMu.Unlock()
	if err != nil {
		e.dispatchPeerError(p, err)
		return
	}
	for _, d := range res.Deliveries {
		e.handleDelivery(p, d.Channel, d.Payload)
	}
}

// handleDelivery inspects a delivered payload for the handful of
// connected-datagram handshake messages before surfacing it to the
// application as on_message.
func (e *Endpoint) handleDelivery(p *peer.Peer, channel uint8, payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case peer.IDConnectionRequest:
		if p.State() != peer.Connected {
			return
		}
		if err := p.Transition(peer.Handshaking); err != nil {
			e.dispatchPeerError(p, err)
			return
		}
		req, err := peer.DecodeConnectionRequest(payload[1:])
		if err != nil {
			e.dispatchPeerError(p, err)
			return
		}
		p.EngineMu.Lock()
		p.Engine.Submit(encap.Reliable, 0, peer.EncodeConnectionRequestAccepted(p.RemoteAddr, req.Timestamp))
		p.EngineMu.Unlock()
	case peer.IDNewIncomingConnection:
		if p.State() != peer.Handshaking {
			return
		}
		if err := p.Transition(peer.LoggedIn); err != nil {
			e.dispatchPeerError(p, err)
			return
		}
		e.dispatchLogin(p)
	case peer.IDConnectionRequestAccepted:
		if p.State() != peer.Connected && p.State() != peer.Handshaking {
			return
		}
		if p.State() == peer.Connected {
			if err := p.Transition(peer.Handshaking); err != nil {
				return
			}
		}
		p.EngineMu.Lock()
		p.Engine.Submit(encap.Reliable, 0, peer.EncodeNewIncomingConnection(p.RemoteAddr))
		p.EngineMu.Unlock()
		if err := p.Transition(peer.LoggedIn); err != nil {
			e.dispatchPeerError(p, err)
			return
		}
		e.dispatchLogin(p)
	case peer.IDDisconnectionNotification:
		e.removePeer(p, peer.ReasonExplicit)
	default:
		e.dispatchMessage(p, channel, payload)
	}
}

// Send submits payload to whatever peer recipient names, assigning it to
// the peer's reliability engine for the next tick. It reports a receipt
// handle iff reliability requests an ack receipt.
func (e *Endpoint) Send(recipient Recipient, reliability encap.Reliability, channel uint8, payload []byte) (ReceiptHandle, bool, error) {
	p := e.resolve(recipient)
	if p == nil {
		return ReceiptHandle{}, false, rerr.ErrNotConnected
	}
	p.EngineMu.Lock()
	id, hasReceipt, err := p.Engine.Submit(reliability, channel, payload)
	p.EngineMu.Unlock()
	if err != nil {
		return ReceiptHandle{}, false, err
	}
	return ReceiptHandle{PeerGUID: p.GUID, ReceiptID: uint64(id)}, hasReceipt, nil
}

func (e *Endpoint) resolve(r Recipient) *peer.Peer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r.byGUID {
		return e.peersByGUID[r.guid]
	}
	return e.peersByAddr[r.addr.String()]
}

// Disconnect gracefully tears down p: a best-effort disconnection
// notification followed by immediate removal.
func (e *Endpoint) Disconnect(p *peer.Peer) {
	e.sendDisconnectionNotice(p)
	e.removePeer(p, peer.ReasonExplicit)
}

// sendDisconnectionNotice submits DisconnectionNotification as an
// UNRELIABLE encapsulated message through p's reliability engine — per
// §4.5 it travels inside a connected DATA datagram, not as a bare offline
// byte, so the remote side decodes it through HandleDatagram and reaches
// handleDelivery's IDDisconnectionNotification case instead of silently
// dropping it as an unrecognized offline message. p is about to be
// removed, so the resulting datagram is packed and flushed immediately
// rather than waiting for the next tick.
func (e *Endpoint) sendDisconnectionNotice(p *peer.Peer) {
	p.EngineMu.Lock()
	p.Engine.Submit(encap.Unreliable, 0, peer.EncodeDisconnectionNotification())
	res, err := p.Engine.Tick(time.Now())
	p.EngineMu.Unlock()
	if err != nil {
		e.dispatchPeerError(p, err)
		return
	}
	for _, raw := range res.Datagrams {
		e.sendRaw(p.RemoteAddr, raw)
	}
}

func (e *Endpoint) Ban(addr *net.UDPAddr) {
	e.mu.Lock()
	e.banned[addr.String()] = struct{}{}
	e.mu.Unlock()
}

func (e *Endpoint) Unban(addr *net.UDPAddr) {
	e.mu.Lock()
	delete(e.banned, addr.String())
	e.mu.Unlock()
}

func (e *Endpoint) Block(addr *net.UDPAddr, d time.Duration) { e.ban(addr, d) }

func (e *Endpoint) Unblock(addr *net.UDPAddr) {
	e.mu.Lock()
	delete(e.blocked, addr.String())
	e.mu.Unlock()
}

func (e *Endpoint) ban(addr *net.UDPAddr, d time.Duration) {
	e.mu.Lock()
	e.blocked[addr.String()] = blockedEntry{until: time.Now().Add(d)}
	e.mu.Unlock()
}

func (e *Endpoint) addPeer(p *peer.Peer) {
	e.mu.Lock()
	e.peersByAddr[p.RemoteAddr.String()] = p
	e.peersByGUID[p.GUID] = p
	e.workers[p.GUID] = newPeerWorker()
	e.mu.Unlock()
	if e.metric != nil {
		e.metric.AddPeerConnected()
	}
	e.dispatchConnect(p)
}

func (e *Endpoint) removePeer(p *peer.Peer, reason peer.DisconnectReason) {
	e.mu.Lock()
	if _, ok := e.peersByAddr[p.RemoteAddr.String()]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.peersByAddr, p.RemoteAddr.String())
	delete(e.peersByGUID, p.GUID)
	w := e.workers[p.GUID]
	delete(e.workers, p.GUID)
	e.mu.Unlock()

	p.Transition(peer.Disconnected)
	if e.metric != nil {
		e.metric.AddPeerDisconnected(metrics.DisconnectReason(reason.String()))
	}
	e.dispatchDisconnect(p, reason)
	if w != nil {
		w.stop()
	}
}

func (e *Endpoint) workerFor(guid uint64) *peerWorker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workers[guid]
}

func (e *Endpoint) dispatchConnect(p *peer.Peer) {
	if w := e.workerFor(p.GUID); w != nil {
		w.enqueue(func() { e.sink.fireConnect(p) })
	}
}

func (e *Endpoint) dispatchLogin(p *peer.Peer) {
	if w := e.workerFor(p.GUID); w != nil {
		w.enqueue(func() { e.sink.fireLogin(p) })
	}
}

func (e *Endpoint) dispatchDisconnect(p *peer.Peer, reason peer.DisconnectReason) {
	e.sink.fireDisconnect(p, reason) // the peer's worker is already removed from the map by the time we know the reason
}

func (e *Endpoint) dispatchMessage(p *peer.Peer, channel uint8, payload []byte) {
	if w := e.workerFor(p.GUID); w != nil {
		w.enqueue(func() { e.sink.fireMessage(p, channel, payload) })
	}
}

func (e *Endpoint) dispatchAcknowledge(p *peer.Peer, id uint64) {
	h := ReceiptHandle{PeerGUID: p.GUID, ReceiptID: id}
	if w := e.workerFor(p.GUID); w != nil {
		w.enqueue(func() { e.sink.fireAcknowledge(h) })
	}
}

func (e *Endpoint) dispatchNotAcknowledge(p *peer.Peer, id uint64) {
	h := ReceiptHandle{PeerGUID: p.GUID, ReceiptID: id}
	if w := e.workerFor(p.GUID); w != nil {
		w.enqueue(func() { e.sink.fireNotAcknowledge(h) })
	}
}

func (e *Endpoint) dispatchHandlerError(addr *net.UDPAddr, err error) {
	e.sink.fireHandlerError(addr, err)
}

func (e *Endpoint) dispatchPeerError(p *peer.Peer, err error) {
	if w := e.workerFor(p.GUID); w != nil {
		w.enqueue(func() { e.sink.firePeerError(p, err) })
	}
}
