package encap

import (
	"bytes"
	"testing"

	"github.com/ventosilenzioso/raknet-go/internal/wire"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	w := wire.NewWriter(64)
	if err := m.Encode(w); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTripEveryReliability(t *testing.T) {
	variants := []Reliability{
		Unreliable, UnreliableSequenced, Reliable, ReliableOrdered,
		ReliableSequenced, UnreliableWithAckReceipt, ReliableWithAckReceipt,
		ReliableOrderedWithAckReceipt,
	}
	for _, rel := range variants {
		m := &Message{
			Reliability:   rel,
			ReliableIndex: 111,
			SequenceIndex: 222,
			OrderIndex:    333,
			Channel:       7,
			Payload:       []byte("payload for " + rel.String()),
		}
		got := roundTrip(t, m)
		if got.Reliability != rel {
			t.Errorf("%v: Reliability = %v", rel, got.Reliability)
		}
		if !bytes.Equal(got.Payload, m.Payload) {
			t.Errorf("%v: Payload = %q, want %q", rel, got.Payload, m.Payload)
		}
		if rel.IsReliable() && got.ReliableIndex != m.ReliableIndex {
			t.Errorf("%v: ReliableIndex = %d, want %d", rel, got.ReliableIndex, m.ReliableIndex)
		}
		if rel.IsSequenced() && got.SequenceIndex != m.SequenceIndex {
			t.Errorf("%v: SequenceIndex = %d, want %d", rel, got.SequenceIndex, m.SequenceIndex)
		}
		if (rel.IsSequenced() || rel.IsOrdered()) && (got.OrderIndex != m.OrderIndex || got.Channel != m.Channel) {
			t.Errorf("%v: OrderIndex/Channel = %d/%d, want %d/%d", rel, got.OrderIndex, got.Channel, m.OrderIndex, m.Channel)
		}
	}
}

func TestRoundTripSplit(t *testing.T) {
	m := &Message{
		Reliability: Reliable,
		Split:       true,
		SplitCount:  4,
		SplitID:     9001,
		SplitIndex:  2,
		Payload:     bytes.Repeat([]byte{0xAB}, 37),
	}
	got := roundTrip(t, m)
	if !got.Split || got.SplitCount != 4 || got.SplitID != 9001 || got.SplitIndex != 2 {
		t.Fatalf("split header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWireSizeMatchesEncodedLength(t *testing.T) {
	m := &Message{
		Reliability: ReliableOrdered,
		OrderIndex:  1,
		Channel:     0,
		Payload:     []byte("0123456789"),
	}
	w := wire.NewWriter(64)
	if err := m.Encode(w); err != nil {
		t.Fatal(err)
	}
	if got, want := m.WireSize(), len(w.Bytes()); got != want {
		t.Fatalf("WireSize() = %d, want %d (actual encoded length)", got, want)
	}
}

func TestInvalidReliabilityRejectedOnEncode(t *testing.T) {
	m := &Message{Reliability: Reliability(200), Payload: []byte("x")}
	w := wire.NewWriter(16)
	if err := m.Encode(w); err == nil {
		t.Fatal("Encode of an out-of-range reliability should fail")
	}
}
