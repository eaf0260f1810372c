// Package framer implements the outer datagram envelope: the
// classification of an inbound UDP payload as an offline (single-shot
// handshake/discovery) message or a connected datagram (DATA, ACK, or
// NACK), and the ACK/NACK record codec that condenses contiguous
// sequence numbers into ranges on send and expands them back into
// individual ids on receive.
package framer

import (
	"fmt"
	"sort"

	"github.com/ventosilenzioso/raknet-go/internal/encap"
	"github.com/ventosilenzioso/raknet-go/internal/rerr"
	"github.com/ventosilenzioso/raknet-go/internal/wire"
)

// Flag byte values. FlagValid alone marks a DATA datagram; combined with
// FlagACK/FlagNACK it marks the two feedback datagram kinds. These are
// bit-exact with the values used by deployed RakNet peers.
const (
	FlagValid byte = 0x80
	FlagACK   byte = 0x40
	FlagNACK  byte = 0x20

	dataFlag byte = FlagValid
	ackFlag  byte = FlagValid | FlagACK
	nackFlag byte = FlagValid | FlagNACK
)

// Kind classifies an inbound UDP payload.
type Kind int

const (
	KindOffline Kind = iota
	KindData
	KindAck
	KindNack
)

// Classify inspects the first byte of data and reports its Kind. It does
// not consume data.
func Classify(data []byte) (Kind, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty datagram", rerr.ErrMalformedField)
	}
	if data[0]&FlagValid == 0 {
		return KindOffline, nil
	}
	switch data[0] {
	case ackFlag:
		return KindAck, nil
	case nackFlag:
		return KindNack, nil
	default:
		return KindData, nil
	}
}

// OfflineMessage is a single-shot handshake or discovery message: the
// message identifier byte plus whatever fixed layout that identifier
// defines, left undecoded here (the peer state machine owns those
// layouts).
type OfflineMessage struct {
	ID      byte
	Payload []byte
}

// DecodeOffline reads the message identifier and the remaining payload.
func DecodeOffline(data []byte) (*OfflineMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty offline datagram", rerr.ErrMalformedField)
	}
	if data[0]&FlagValid != 0 {
		return nil, fmt.Errorf("%w: high bit set on offline datagram", rerr.ErrMalformedField)
	}
	return &OfflineMessage{ID: data[0], Payload: append([]byte(nil), data[1:]...)}, nil
}

// EncodeOffline builds the raw bytes of an offline message.
func EncodeOffline(id byte, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, id)
	out = append(out, payload...)
	return out
}

// DataDatagram is a connected datagram carrying one or more encapsulated
// messages, stamped with the outbound datagram sequence number.
type DataDatagram struct {
	Sequence uint32
	Messages []*encap.Message
}

// EncodeData frames seq and msgs into one connected DATA datagram.
func EncodeData(seq uint32, msgs []*encap.Message) ([]byte, error) {
	w := wire.NewWriter(256)
	w.WriteByte(dataFlag)
	w.WriteTriad(seq)
	for _, m := range msgs {
		if err := m.Encode(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeData parses a connected DATA datagram, decoding encapsulated
// messages until the buffer is exhausted.
func DecodeData(data []byte) (*DataDatagram, error) {
	r := wire.NewReader(data)
	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if flag != dataFlag {
		return nil, fmt.Errorf("%w: not a data datagram (flag 0x%02X)", rerr.ErrMalformedField, flag)
	}
	seq, err := r.ReadTriad()
	if err != nil {
		return nil, err
	}
	dg := &DataDatagram{Sequence: seq}
	for r.Remaining() > 0 {
		m, err := encap.Decode(r)
		if err != nil {
			return nil, err
		}
		dg.Messages = append(dg.Messages, m)
	}
	return dg, nil
}

// record discriminators, matching the RakNet-family convention of a
// range record followed by two triads versus a single record followed
// by one.
const (
	recordRange  byte = 0
	recordSingle byte = 1
)

// encodeRecords condenses ids (order not significant) into contiguous
// ranges and writes the ACK/NACK record list: flag byte, record count
// (u16 big-endian), then each record.
func encodeRecords(flag byte, ids []uint32) []byte {
	w := wire.NewWriter(8 + len(ids)*4)
	w.WriteByte(flag)

	if len(ids) == 0 {
		w.WriteUint16BE(0)
		return w.Bytes()
	}

	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	type span struct{ start, end uint32 }
	var spans []span
	start, end := sorted[0], sorted[0]
	for _, id := range sorted[1:] {
		if id == end {
			continue // duplicate id, already covered by the current span
		}
		if id == end+1 {
			end = id
			continue
		}
		spans = append(spans, span{start, end})
		start, end = id, id
	}
	spans = append(spans, span{start, end})

	w.WriteUint16BE(uint16(len(spans)))
	for _, s := range spans {
		if s.start == s.end {
			w.WriteByte(recordSingle)
			w.WriteTriad(s.start)
		} else {
			w.WriteByte(recordRange)
			w.WriteTriad(s.start)
			w.WriteTriad(s.end)
		}
	}
	return w.Bytes()
}

// decodeRecords expands an ACK/NACK record list back into individual ids.
func decodeRecords(data []byte, wantFlag byte) ([]uint32, error) {
	r := wire.NewReader(data)
	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if flag != wantFlag {
		return nil, fmt.Errorf("%w: expected flag 0x%02X, got 0x%02X", rerr.ErrMalformedField, wantFlag, flag)
	}
	count, err := r.ReadUint16BE()
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for i := uint16(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch kind {
		case recordSingle:
			id, err := r.ReadTriad()
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		case recordRange:
			start, err := r.ReadTriad()
			if err != nil {
				return nil, err
			}
			end, err := r.ReadTriad()
			if err != nil {
				return nil, err
			}
			for id := start; id <= end; id++ {
				ids = append(ids, id)
			}
		default:
			return nil, fmt.Errorf("%w: invalid record type %d", rerr.ErrMalformedField, kind)
		}
	}
	return ids, nil
}

// EncodeAck builds an ACK datagram covering ids.
func EncodeAck(ids []uint32) []byte { return encodeRecords(ackFlag, ids) }

// DecodeAck expands an ACK datagram into the covered ids.
func DecodeAck(data []byte) ([]uint32, error) { return decodeRecords(data, ackFlag) }

// EncodeNack builds a NACK datagram covering ids.
func EncodeNack(ids []uint32) []byte { return encodeRecords(nackFlag, ids) }

// DecodeNack expands a NACK datagram into the covered ids.
func DecodeNack(data []byte) ([]uint32, error) { return decodeRecords(data, nackFlag) }
