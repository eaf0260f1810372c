// Package encap implements the encapsulation layer: the per-message
// envelope carried inside a connected datagram, combining a reliability
// variant with the reliable/sequenced/ordered indices and the optional
// split-packet header the reliability engine uses to reassemble
// fragmented messages.
package encap

import (
	"fmt"

	"github.com/ventosilenzioso/raknet-go/internal/rerr"
	"github.com/ventosilenzioso/raknet-go/internal/wire"
)

// Reliability names the seven wire reliability variants plus the
// ack-receipt variant of UNRELIABLE, matching the bit-exact values used
// by deployed RakNet peers.
type Reliability byte

const (
	Unreliable                    Reliability = 0
	UnreliableSequenced           Reliability = 1
	Reliable                      Reliability = 2
	ReliableOrdered                Reliability = 3
	ReliableSequenced              Reliability = 4
	UnreliableWithAckReceipt        Reliability = 5
	ReliableWithAckReceipt          Reliability = 6
	ReliableOrderedWithAckReceipt   Reliability = 7
)

// Valid reports whether r is one of the eight defined variants.
func (r Reliability) Valid() bool { return r <= ReliableOrderedWithAckReceipt }

// IsReliable reports whether the reliability variant carries a reliable
// index and participates in dedup/retransmission.
func (r Reliability) IsReliable() bool {
	switch r {
	case Reliable, ReliableOrdered, ReliableSequenced, ReliableWithAckReceipt, ReliableOrderedWithAckReceipt:
		return true
	}
	return false
}

// IsSequenced reports whether r carries a sequence index (latest-wins delivery).
func (r Reliability) IsSequenced() bool {
	switch r {
	case UnreliableSequenced, ReliableSequenced:
		return true
	}
	return false
}

// IsOrdered reports whether r is strictly-ordered delivery.
func (r Reliability) IsOrdered() bool {
	switch r {
	case ReliableOrdered, ReliableOrderedWithAckReceipt:
		return true
	}
	return false
}

// carriesOrderChannel reports whether r's wire form carries the
// ordered-index + channel fields — true for sequenced AND ordered
// variants, since a sequenced message is encoded with both a sequence
// index and an order index/channel pair.
func (r Reliability) carriesOrderChannel() bool {
	return r.IsSequenced() || r.IsOrdered()
}

// HasAckReceipt reports whether delivery (or loss, for the unreliable
// variant) of a message sent with r surfaces an application-visible
// acknowledge/not-acknowledge event.
func (r Reliability) HasAckReceipt() bool {
	switch r {
	case UnreliableWithAckReceipt, ReliableWithAckReceipt, ReliableOrderedWithAckReceipt:
		return true
	}
	return false
}

func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "UNRELIABLE"
	case UnreliableSequenced:
		return "UNRELIABLE_SEQUENCED"
	case Reliable:
		return "RELIABLE"
	case ReliableOrdered:
		return "RELIABLE_ORDERED"
	case ReliableSequenced:
		return "RELIABLE_SEQUENCED"
	case UnreliableWithAckReceipt:
		return "UNRELIABLE_WITH_ACK_RECEIPT"
	case ReliableWithAckReceipt:
		return "RELIABLE_WITH_ACK_RECEIPT"
	case ReliableOrderedWithAckReceipt:
		return "RELIABLE_ORDERED_WITH_ACK_RECEIPT"
	default:
		return fmt.Sprintf("Reliability(%d)", byte(r))
	}
}

const splitFlag = 0x10

// Message is one encapsulated message: reliability metadata plus payload.
// A zero ReliableIndex/SequenceIndex/OrderIndex is a legitimate value (the
// first message assigned from a counter); callers must consult the
// reliability variant to know which fields are meaningful.
type Message struct {
	Reliability Reliability

	ReliableIndex uint32 // valid iff Reliability.IsReliable()
	SequenceIndex uint32 // valid iff Reliability.IsSequenced()
	OrderIndex    uint32 // valid iff Reliability.carriesOrderChannel()
	Channel       uint8  // valid iff Reliability.carriesOrderChannel()

	Split      bool
	SplitCount uint32
	SplitID    uint16
	SplitIndex uint32

	Payload []byte
}

// WireSize returns the encoded size of m in bytes, used by the
// reliability engine to decide whether a message must be split to fit
// the peer's MTU.
func (m *Message) WireSize() int {
	size := 3 // flag byte + 2-byte bit-length
	if m.Reliability.IsReliable() {
		size += 3
	}
	if m.Reliability.IsSequenced() {
		size += 3
	}
	if m.Reliability.carriesOrderChannel() {
		size += 4
	}
	if m.Split {
		size += 10
	}
	return size + len(m.Payload)
}

// Encode appends the wire encoding of m to w.
func (m *Message) Encode(w *wire.Writer) error {
	if !m.Reliability.Valid() {
		return fmt.Errorf("%w: reliability %d", rerr.ErrInvalidReliability, m.Reliability)
	}
	flags := byte(m.Reliability) << 5
	if m.Split {
		flags |= splitFlag
	}
	w.WriteByte(flags)
	w.WriteUint16BE(uint16(len(m.Payload)) << 3)

	if m.Reliability.IsReliable() {
		w.WriteTriad(m.ReliableIndex)
	}
	if m.Reliability.IsSequenced() {
		w.WriteTriad(m.SequenceIndex)
	}
	if m.Reliability.carriesOrderChannel() {
		w.WriteTriad(m.OrderIndex)
		w.WriteByte(m.Channel)
	}
	if m.Split {
		w.WriteUint32BE(m.SplitCount)
		w.WriteUint16BE(m.SplitID)
		w.WriteUint32BE(m.SplitIndex)
	}
	w.WriteBytes(m.Payload)
	return nil
}

// Decode reads one encapsulated message from r.
func Decode(r *wire.Reader) (*Message, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	m := &Message{
		Reliability: Reliability((flags >> 5) & 0x07),
		Split:       flags&splitFlag != 0,
	}
	if !m.Reliability.Valid() {
		return nil, fmt.Errorf("%w: reliability %d", rerr.ErrInvalidReliability, m.Reliability)
	}

	lengthBits, err := r.ReadUint16BE()
	if err != nil {
		return nil, err
	}
	lengthBytes := int(lengthBits+7) / 8

	if m.Reliability.IsReliable() {
		if m.ReliableIndex, err = r.ReadTriad(); err != nil {
			return nil, err
		}
	}
	if m.Reliability.IsSequenced() {
		if m.SequenceIndex, err = r.ReadTriad(); err != nil {
			return nil, err
		}
	}
	if m.Reliability.carriesOrderChannel() {
		if m.OrderIndex, err = r.ReadTriad(); err != nil {
			return nil, err
		}
		if m.Channel, err = r.ReadByte(); err != nil {
			return nil, err
		}
	}
	if m.Split {
		if m.SplitCount, err = r.ReadUint32BE(); err != nil {
			return nil, err
		}
		if m.SplitID, err = r.ReadUint16BE(); err != nil {
			return nil, err
		}
		if m.SplitIndex, err = r.ReadUint32BE(); err != nil {
			return nil, err
		}
	}
	payload, err := r.ReadBytes(lengthBytes)
	if err != nil {
		return nil, err
	}
	m.Payload = append([]byte(nil), payload...)
	return m, nil
}
