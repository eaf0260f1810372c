// Package reliability implements the per-peer reliability engine: the
// outbound queue, fragmentation, packing, retransmission and inbound
// dedup/reorder/resequence/reassembly plus ACK/NACK bookkeeping described
// by the component design. It knows nothing about sockets or addresses —
// it consumes and produces raw connected-datagram bytes, and the
// endpoint is the one that puts them on the wire.
package reliability

import (
	"fmt"
	"time"

	"github.com/ventosilenzioso/raknet-go/internal/encap"
	"github.com/ventosilenzioso/raknet-go/internal/framer"
	"github.com/ventosilenzioso/raknet-go/internal/rerr"
)

// MaxChannels bounds the ordered/sequenced channel space, per the data
// model's requirement of at least 32 channels.
const MaxChannels = 32

// datagramHeaderSize is the flag byte plus the 24-bit sequence triad
// every connected DATA datagram carries.
const datagramHeaderSize = 4

// resendFloor and resendStep implement the linear-with-cap retransmit
// back-off pinned as the resolution of the corresponding Open Question:
// a message unacknowledged after resendFloor is resent, and every prior
// retry of that same message adds resendStep to its next timeout, up to
// resendCap. A single lost ACK on an otherwise healthy link costs one
// extra 100ms round; sustained loss backs off linearly rather than
// exploding exponentially or hammering the peer at a fixed rate.
const (
	resendFloor = 100 * time.Millisecond
	resendStep  = 50 * time.Millisecond
	resendCap   = 1000 * time.Millisecond
)

func resendTimeout(retries int) time.Duration {
	d := resendFloor + time.Duration(retries)*resendStep
	if d > resendCap {
		return resendCap
	}
	return d
}

// duplicateWindowSize bounds the set of recently seen datagram sequence
// numbers, evicted oldest-first (the supplement described in SPEC_FULL.md
// §4.4), so reordered-but-not-lost datagrams below the highest seen
// number are deduplicated instead of merely re-NACKed.
const duplicateWindowSize = 2048

// ReceiptID names a pending acknowledge/not-acknowledge receipt handed
// back to the caller of Submit for a *_WITH_ACK_RECEIPT send.
type ReceiptID uint64

// Delivery is one payload handed up to the application, already stripped
// of split/order/sequence bookkeeping.
type Delivery struct {
	Channel uint8
	Payload []byte
}

type unackedEntry struct {
	message  *encap.Message
	sentAt   time.Time
	seq      uint32
	retries  int
}

type packedRef struct {
	reliable      bool
	reliableIndex uint32
	hasReceipt    bool
	receiptID     ReceiptID
}

type splitAssembly struct {
	count    uint32
	total    int
	payloads map[uint32][]byte
	sample   *encap.Message // any one fragment, for shared reliability metadata
}

// Engine is the per-peer reliability state. It is not safe for concurrent
// use — the endpoint serializes every access to a peer's engine (from the
// tick loop, the socket reader and application Send calls) through that
// peer's EngineMu.
type Engine struct {
	mtu int

	// outbound counters
	nextReliableIndex uint32
	nextSeqIndex      [MaxChannels]uint32
	nextOrderIndex    [MaxChannels]uint32
	nextSplitID       uint16
	nextDatagramSeq   uint32
	nextReceiptID     ReceiptID

	sendQueue []*encap.Message

	unacked         map[uint32]*unackedEntry // by reliable index
	datagramContent map[uint32][]packedRef   // by outbound datagram seq

	// inbound
	haveHighestSeq   bool
	highestSeq       uint32
	seenDatagrams    map[uint32]struct{} // bounded duplicate window
	seenOrder        []uint32            // insertion order, for eviction

	reliableReceived map[uint32]struct{}

	hasSeqSeen  [MaxChannels]bool
	highestSeqSeen [MaxChannels]uint32

	nextExpectedOrder [MaxChannels]uint32
	orderedBuffer     [MaxChannels]map[uint32]*encap.Message

	splits map[uint16]*splitAssembly

	ackSet  map[uint32]struct{}
	nackSet map[uint32]struct{}

	pendingReliableReceipts   map[uint32]ReceiptID       // by reliable index
	pendingUnreliableReceipts map[*encap.Message]ReceiptID

	// retryCounts carries a requeued message's prior retry count from
	// requeueTimedOut/HandleNack through to the next packSendQueue call,
	// which folds it into the new unackedEntry.
	retryCounts map[uint32]int
}

// NewEngine creates a reliability engine for a peer negotiated at the
// given MTU (the cap on a single outbound datagram's size).
func NewEngine(mtu int) *Engine {
	e := &Engine{
		mtu:              mtu,
		unacked:          make(map[uint32]*unackedEntry),
		datagramContent:  make(map[uint32][]packedRef),
		seenDatagrams:    make(map[uint32]struct{}),
		reliableReceived: make(map[uint32]struct{}),
		splits:           make(map[uint16]*splitAssembly),
		ackSet:           make(map[uint32]struct{}),
		nackSet:          make(map[uint32]struct{}),
	}
	for c := 0; c < MaxChannels; c++ {
		e.orderedBuffer[c] = make(map[uint32]*encap.Message)
	}
	return e
}

// fragmentOverhead returns the wire overhead (everything but the payload)
// of a message with the given reliability, as a split fragment.
func fragmentOverhead(rel encap.Reliability) int {
	m := &encap.Message{Reliability: rel, Split: true}
	return m.WireSize()
}

// Submit assigns reliability indices to a new application message,
// splitting it into fragments if its wire size would exceed the peer's
// MTU, and enqueues the result for the next Tick. It reports a ReceiptID
// when rel requests an ack receipt.
func (e *Engine) Submit(rel encap.Reliability, channel uint8, payload []byte) (ReceiptID, bool, error) {
	if !rel.Valid() {
		return 0, false, fmt.Errorf("%w: %d", rerr.ErrInvalidReliability, rel)
	}
	if (rel.IsOrdered() || rel.IsSequenced()) && int(channel) >= MaxChannels {
		return 0, false, fmt.Errorf("%w: channel %d", rerr.ErrInvalidChannel, channel)
	}

	base := &encap.Message{Reliability: rel, Channel: channel, Payload: payload}
	if rel.IsSequenced() {
		base.SequenceIndex = e.nextSeqIndex[channel]
		e.nextSeqIndex[channel]++
	}
	if rel.IsSequenced() || rel.IsOrdered() {
		base.OrderIndex = e.nextOrderIndex[channel]
		e.nextOrderIndex[channel]++
	}

	budget := e.mtu - datagramHeaderSize
	var msgs []*encap.Message
	if base.WireSize() <= budget {
		if rel.IsReliable() {
			base.ReliableIndex = e.nextReliableIndex
			e.nextReliableIndex++
		}
		msgs = []*encap.Message{base}
	} else {
		overhead := fragmentOverhead(rel)
		maxFragPayload := budget - overhead
		if maxFragPayload <= 0 {
			return 0, false, fmt.Errorf("%w: mtu %d too small for reliability %v", rerr.ErrMtuExceeded, e.mtu, rel)
		}
		splitID := e.nextSplitID
		e.nextSplitID++
		count := (len(payload) + maxFragPayload - 1) / maxFragPayload
		msgs = make([]*encap.Message, 0, count)
		for i := 0; i < count; i++ {
			start := i * maxFragPayload
			end := start + maxFragPayload
			if end > len(payload) {
				end = len(payload)
			}
			frag := &encap.Message{
				Reliability:   rel,
				SequenceIndex: base.SequenceIndex,
				OrderIndex:    base.OrderIndex,
				Channel:       channel,
				Split:         true,
				SplitCount:    uint32(count),
				SplitID:       splitID,
				SplitIndex:    uint32(i),
				Payload:       payload[start:end],
			}
			if rel.IsReliable() {
				frag.ReliableIndex = e.nextReliableIndex
				e.nextReliableIndex++
			}
			msgs = append(msgs, frag)
		}
	}

	var receipt ReceiptID
	hasReceipt := rel.HasAckReceipt()
	if hasReceipt {
		receipt = e.nextReceiptID
		e.nextReceiptID++
	}

	for _, m := range msgs {
		// A split message's fragments all share one ack-receipt
		// obligation: whichever fragment's covering datagram is
		// acked/nacked first resolves the receipt, mirroring how a
		// split message is "delivered exactly once" on the inbound
		// side regardless of fragment arrival order.
		e.pendingReceipt(m, hasReceipt, receipt)
		e.sendQueue = append(e.sendQueue, m)
	}
	return receipt, hasReceipt, nil
}

// pendingReceipt records the ack-receipt obligation for m: by reliable
// index for reliable sends (stable across retransmits), or by message
// pointer for unreliable sends (sent exactly once, never requeued).
func (e *Engine) pendingReceipt(m *encap.Message, hasReceipt bool, id ReceiptID) {
	if !hasReceipt {
		return
	}
	if !m.Reliability.IsReliable() {
		if e.pendingUnreliableReceipts == nil {
			e.pendingUnreliableReceipts = make(map[*encap.Message]ReceiptID)
		}
		e.pendingUnreliableReceipts[m] = id
		return
	}
	if e.pendingReliableReceipts == nil {
		e.pendingReliableReceipts = make(map[uint32]ReceiptID)
	}
	e.pendingReliableReceipts[m.ReliableIndex] = id
}

// TickResult is everything a Tick call produced that the endpoint must
// act on: datagrams to send, plus counts for metrics. Receipts are never
// produced by Tick; they come only from HandleAck/HandleNack.
type TickResult struct {
	Datagrams [][]byte
	// Retransmits is how many unacknowledged reliable messages this tick
	// requeued after their resend timeout elapsed.
	Retransmits int
	// NacksIssued is how many missing datagram sequence numbers this tick
	// reported in its NACK datagram (individual numbers, not condensed
	// records).
	NacksIssued int
}

// Tick requeues any reliable message whose resend timeout has elapsed,
// packs the outbound queue into as many MTU-sized datagrams as needed,
// and appends any pending ACK/NACK datagram. It must be called on every
// peer, every tick, regardless of whether the application has anything
// to send — retransmission and ACK/NACK flushing depend on it.
func (e *Engine) Tick(now time.Time) (TickResult, error) {
	retransmits := e.requeueTimedOut(now)

	var out [][]byte
	datagrams, err := e.packSendQueue(now)
	if err != nil {
		return TickResult{}, err
	}
	out = append(out, datagrams...)

	if len(e.ackSet) > 0 {
		ids := make([]uint32, 0, len(e.ackSet))
		for id := range e.ackSet {
			ids = append(ids, id)
		}
		out = append(out, framer.EncodeAck(ids))
		e.ackSet = make(map[uint32]struct{})
	}
	var nacksIssued int
	if len(e.nackSet) > 0 {
		ids := make([]uint32, 0, len(e.nackSet))
		for id := range e.nackSet {
			ids = append(ids, id)
		}
		nacksIssued = len(ids)
		out = append(out, framer.EncodeNack(ids))
		e.nackSet = make(map[uint32]struct{})
	}
	return TickResult{Datagrams: out, Retransmits: retransmits, NacksIssued: nacksIssued}, nil
}

// requeueTimedOut moves every unacknowledged reliable message older than
// its resend timeout back onto the send queue for a fresh datagram
// sequence number, per the retransmit-on-timeout rule, and reports how
// many messages it requeued.
func (e *Engine) requeueTimedOut(now time.Time) int {
	var requeued int
	for idx, entry := range e.unacked {
		if now.Sub(entry.sentAt) < resendTimeout(entry.retries) {
			continue
		}
		e.sendQueue = append(e.sendQueue, entry.message)
		delete(e.unacked, idx)
		e.removeFromDatagramContent(idx)
		// The re-pack below will recreate the unacked entry with
		// retries+1; stash it ahead of time via a side table keyed by
		// reliable index so packSendQueue can pick the count back up.
		e.pendingRetryCount(idx, entry.retries+1)
		requeued++
	}
	return requeued
}

// pendingRetryCount stashes a requeued message's next retry count,
// picked back up by packSendQueue when it re-sends the message.
func (e *Engine) pendingRetryCount(reliableIndex uint32, retries int) {
	if e.retryCounts == nil {
		e.retryCounts = make(map[uint32]int)
	}
	e.retryCounts[reliableIndex] = retries
}

// removeFromDatagramContent drops reliableIndex from whatever datagram
// content list still references it (only relevant while it is in-flight
// and gets superseded by a requeue before being acked or nacked).
func (e *Engine) removeFromDatagramContent(reliableIndex uint32) {
	for seq, refs := range e.datagramContent {
		for i, ref := range refs {
			if ref.reliable && ref.reliableIndex == reliableIndex {
				e.datagramContent[seq] = append(refs[:i], refs[i+1:]...)
				break
			}
		}
		if len(e.datagramContent[seq]) == 0 {
			delete(e.datagramContent, seq)
		}
	}
}

// packSendQueue packs as many pending messages as fit into successive
// MTU-sized datagrams, stamping each with a fresh outbound sequence
// number and recording reliable/ack-receipt bookkeeping for later
// ACK/NACK processing.
func (e *Engine) packSendQueue(now time.Time) ([][]byte, error) {
	budget := e.mtu - datagramHeaderSize
	var out [][]byte

	for len(e.sendQueue) > 0 {
		var batch []*encap.Message
		used := 0
		for len(e.sendQueue) > 0 {
			next := e.sendQueue[0]
			size := next.WireSize()
			if used > 0 && used+size > budget {
				break
			}
			batch = append(batch, next)
			used += size
			e.sendQueue = e.sendQueue[1:]
		}
		if len(batch) == 0 {
			// A single message alone exceeds budget; this should not
			// happen given Submit's splitting, but send it alone
			// rather than loop forever.
			batch = append(batch, e.sendQueue[0])
			e.sendQueue = e.sendQueue[1:]
		}

		seq := e.nextDatagramSeq
		e.nextDatagramSeq++
		raw, err := framer.EncodeData(seq, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)

		var refs []packedRef
		for _, m := range batch {
			if m.Reliability.IsReliable() {
				retries := 0
				if e.retryCounts != nil {
					if r, ok := e.retryCounts[m.ReliableIndex]; ok {
						retries = r
						delete(e.retryCounts, m.ReliableIndex)
					}
				}
				e.unacked[m.ReliableIndex] = &unackedEntry{message: m, sentAt: now, seq: seq, retries: retries}
				ref := packedRef{reliable: true, reliableIndex: m.ReliableIndex}
				if id, ok := e.pendingReliableReceipts[m.ReliableIndex]; ok {
					ref.hasReceipt = true
					ref.receiptID = id
				}
				refs = append(refs, ref)
			} else if id, ok := e.pendingUnreliableReceipts[m]; ok {
				refs = append(refs, packedRef{hasReceipt: true, receiptID: id})
				delete(e.pendingUnreliableReceipts, m)
			}
		}
		if len(refs) > 0 {
			e.datagramContent[seq] = refs
		}
	}
	return out, nil
}

// HandleAck processes an inbound ACK datagram's covered datagram sequence
// numbers: every reliable message those datagrams carried is considered
// delivered and removed from the unacknowledged set, and any ack-receipt
// obligation they carried resolves to Acknowledged.
func (e *Engine) HandleAck(ids []uint32) []ReceiptID {
	var acked []ReceiptID
	for _, seq := range ids {
		refs, ok := e.datagramContent[seq]
		if !ok {
			continue
		}
		for _, ref := range refs {
			if ref.reliable {
				delete(e.unacked, ref.reliableIndex)
				delete(e.pendingReliableReceipts, ref.reliableIndex)
			}
			if ref.hasReceipt {
				acked = append(acked, ref.receiptID)
			}
		}
		delete(e.datagramContent, seq)
	}
	return acked
}

// HandleNack processes an inbound NACK datagram's covered datagram
// sequence numbers: reliable messages those datagrams carried are
// requeued for immediate retransmission (a fresh datagram, not waiting
// for the resend timeout); unreliable ack-receipt messages resolve to
// NotAcknowledged and are never retransmitted. It reports how many
// messages it requeued, for the caller to account as retransmits.
func (e *Engine) HandleNack(ids []uint32) ([]ReceiptID, int) {
	var notAcked []ReceiptID
	var retransmitted int
	for _, seq := range ids {
		refs, ok := e.datagramContent[seq]
		if !ok {
			continue
		}
		for _, ref := range refs {
			if ref.reliable {
				if entry, ok := e.unacked[ref.reliableIndex]; ok {
					e.sendQueue = append(e.sendQueue, entry.message)
					e.pendingRetryCount(ref.reliableIndex, entry.retries+1)
					delete(e.unacked, ref.reliableIndex)
					retransmitted++
				}
			} else if ref.hasReceipt {
				notAcked = append(notAcked, ref.receiptID)
			}
		}
		delete(e.datagramContent, seq)
	}
	return notAcked, retransmitted
}

// HandleResult is everything inbound processing of one connected datagram
// produced: application payloads ready for delivery. The ACK/NACK entries
// it gives rise to are kept in the engine and sent on the next Tick.
type HandleResult struct {
	Deliveries []Delivery
}

// HandleDatagram classifies and processes one connected datagram already
// known to carry the DATA flag. Feedback datagrams (ACK/NACK) are the
// caller's responsibility to route to HandleAck/HandleNack — framer.Classify
// tells it which is which before calling into the engine.
func (e *Engine) HandleDatagram(raw []byte) (HandleResult, error) {
	dg, err := framer.DecodeData(raw)
	if err != nil {
		return HandleResult{}, err
	}

	if e.isDuplicateDatagram(dg.Sequence) {
		return HandleResult{}, nil
	}
	e.recordDatagramSeen(dg.Sequence)
	e.ackSet[dg.Sequence] = struct{}{}

	var out HandleResult
	for _, m := range dg.Messages {
		deliveries, err := e.handleMessage(m)
		if err != nil {
			return HandleResult{}, err
		}
		out.Deliveries = append(out.Deliveries, deliveries...)
	}
	return out, nil
}

// isDuplicateDatagram reports whether seq has already been processed,
// either because it falls inside the bounded duplicate window or because
// it is at or below the lowest sequence number the window still tracks
// and is therefore assumed stale.
func (e *Engine) isDuplicateDatagram(seq uint32) bool {
	if _, ok := e.seenDatagrams[seq]; ok {
		return true
	}
	if e.haveHighestSeq && seq+duplicateWindowSize <= e.highestSeq {
		return true
	}
	return false
}

// recordDatagramSeen admits seq into the duplicate window, evicting the
// oldest tracked sequence numbers once the window is full, and advances
// any gap between the previous highest sequence number and seq into the
// NACK set.
func (e *Engine) recordDatagramSeen(seq uint32) {
	if e.haveHighestSeq && seq > e.highestSeq {
		for missing := e.highestSeq + 1; missing < seq; missing++ {
			e.nackSet[missing] = struct{}{}
		}
	}
	if !e.haveHighestSeq || seq > e.highestSeq {
		e.highestSeq = seq
		e.haveHighestSeq = true
	}
	delete(e.nackSet, seq)

	e.seenDatagrams[seq] = struct{}{}
	e.seenOrder = append(e.seenOrder, seq)
	for len(e.seenOrder) > duplicateWindowSize {
		oldest := e.seenOrder[0]
		e.seenOrder = e.seenOrder[1:]
		delete(e.seenDatagrams, oldest)
	}
}

// handleMessage dedups a reliable message by its reliable index, folds
// split fragments into a reassembled message once complete, and applies
// sequenced/ordered/immediate delivery gating to whatever message (plain
// or reassembled) results.
func (e *Engine) handleMessage(m *encap.Message) ([]Delivery, error) {
	if (m.Reliability.IsOrdered() || m.Reliability.IsSequenced()) && int(m.Channel) >= MaxChannels {
		return nil, fmt.Errorf("%w: channel %d", rerr.ErrInvalidChannel, m.Channel)
	}

	if m.Reliability.IsReliable() {
		if _, dup := e.reliableReceived[m.ReliableIndex]; dup {
			return nil, nil
		}
		e.reliableReceived[m.ReliableIndex] = struct{}{}
	}

	if m.Split {
		assembled := e.assembleSplit(m)
		if assembled == nil {
			return nil, nil
		}
		m = assembled
	}

	return e.dispatch(m)
}

// assembleSplit accumulates one fragment of a split message and returns
// the reassembled synthetic message once every fragment has arrived, or
// nil while the set is still incomplete.
func (e *Engine) assembleSplit(frag *encap.Message) *encap.Message {
	sa, ok := e.splits[frag.SplitID]
	if !ok {
		sa = &splitAssembly{
			count:    frag.SplitCount,
			payloads: make(map[uint32][]byte),
			sample:   frag,
		}
		e.splits[frag.SplitID] = sa
	}
	if _, already := sa.payloads[frag.SplitIndex]; !already {
		sa.payloads[frag.SplitIndex] = frag.Payload
		sa.total += len(frag.Payload)
	}
	if uint32(len(sa.payloads)) < sa.count {
		return nil
	}

	full := make([]byte, 0, sa.total)
	for i := uint32(0); i < sa.count; i++ {
		full = append(full, sa.payloads[i]...)
	}
	delete(e.splits, frag.SplitID)

	return &encap.Message{
		Reliability:   sa.sample.Reliability,
		SequenceIndex: sa.sample.SequenceIndex,
		OrderIndex:    sa.sample.OrderIndex,
		Channel:       sa.sample.Channel,
		Payload:       full,
	}
}

// dispatch applies sequenced latest-wins dropping or ordered
// contiguous-delivery buffering to m and returns whatever becomes
// deliverable as a result. Unreliable, non-sequenced, non-ordered
// messages are delivered immediately.
func (e *Engine) dispatch(m *encap.Message) ([]Delivery, error) {
	switch {
	case m.Reliability.IsOrdered():
		return e.dispatchOrdered(m), nil
	case m.Reliability.IsSequenced():
		if e.dispatchSequenced(m) {
			return []Delivery{{Channel: m.Channel, Payload: m.Payload}}, nil
		}
		return nil, nil
	default:
		return []Delivery{{Channel: m.Channel, Payload: m.Payload}}, nil
	}
}

// dispatchSequenced reports whether m is newer than the highest sequence
// index already seen on its channel (latest-wins: older or equal
// sequence numbers are silently dropped, never delivered).
func (e *Engine) dispatchSequenced(m *encap.Message) bool {
	c := m.Channel
	if e.hasSeqSeen[c] && m.SequenceIndex <= e.highestSeqSeen[c] {
		return false
	}
	e.highestSeqSeen[c] = m.SequenceIndex
	e.hasSeqSeen[c] = true
	return true
}

// dispatchOrdered buffers m by order index and flushes every contiguous
// message starting at the channel's next expected index, so delivery to
// the application is always strictly ascending with no gaps.
func (e *Engine) dispatchOrdered(m *encap.Message) []Delivery {
	c := m.Channel
	if m.OrderIndex < e.nextExpectedOrder[c] {
		return nil // already delivered, a retransmitted duplicate fragment's reassembly
	}
	e.orderedBuffer[c][m.OrderIndex] = m

	var out []Delivery
	for {
		next, ok := e.orderedBuffer[c][e.nextExpectedOrder[c]]
		if !ok {
			break
		}
		out = append(out, Delivery{Channel: next.Channel, Payload: next.Payload})
		delete(e.orderedBuffer[c], e.nextExpectedOrder[c])
		e.nextExpectedOrder[c]++
	}
	return out
}
