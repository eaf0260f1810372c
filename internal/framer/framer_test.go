package framer

import (
	"reflect"
	"sort"
	"testing"

	"github.com/ventosilenzioso/raknet-go/internal/encap"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Kind
	}{
		{"offline", []byte{0x05, 1, 2, 3}, KindOffline},
		{"data", []byte{dataFlag, 1, 2, 3}, KindData},
		{"ack", []byte{ackFlag, 0, 0}, KindAck},
		{"nack", []byte{nackFlag, 0, 0}, KindNack},
	}
	for _, c := range cases {
		got, err := Classify(c.data)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: Classify = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestOfflineRoundTrip(t *testing.T) {
	raw := EncodeOffline(0x01, []byte{0xAA, 0xBB})
	msg, err := DecodeOffline(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != 0x01 || len(msg.Payload) != 2 || msg.Payload[0] != 0xAA {
		t.Fatalf("DecodeOffline = %+v", msg)
	}
}

func TestDataDatagramRoundTrip(t *testing.T) {
	msgs := []*encap.Message{
		{Reliability: encap.Unreliable, Payload: []byte("a")},
		{Reliability: encap.Reliable, ReliableIndex: 5, Payload: []byte("bb")},
		{Reliability: encap.ReliableOrdered, OrderIndex: 1, Channel: 3, Payload: []byte("ccc")},
	}
	raw, err := EncodeData(42, msgs)
	if err != nil {
		t.Fatal(err)
	}
	dg, err := DecodeData(raw)
	if err != nil {
		t.Fatal(err)
	}
	if dg.Sequence != 42 {
		t.Fatalf("Sequence = %d, want 42", dg.Sequence)
	}
	if len(dg.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(dg.Messages))
	}
	for i, m := range dg.Messages {
		if string(m.Payload) != string(msgs[i].Payload) {
			t.Errorf("message %d payload = %q, want %q", i, m.Payload, msgs[i].Payload)
		}
	}
}

func TestAckCondensingRoundTrip(t *testing.T) {
	ids := []uint32{1, 2, 3, 4, 10, 20, 21, 22, 0xABCDEF}
	raw := EncodeAck(ids)
	got, err := DecodeAck(raw)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := append([]uint32(nil), ids...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DecodeAck = %v, want %v", got, want)
	}
}

func TestAckCondensesContiguousRunIntoOneRange(t *testing.T) {
	ids := []uint32{5, 6, 7, 8, 9}
	raw := EncodeAck(ids)
	// flag(1) + count(2) + one range record: type(1) + triad(3) + triad(3) = 10
	if len(raw) != 10 {
		t.Fatalf("encoded length = %d, want 10 (single condensed range)", len(raw))
	}
}

func TestEmptyAck(t *testing.T) {
	raw := EncodeAck(nil)
	got, err := DecodeAck(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("DecodeAck(empty) = %v, want empty", got)
	}
}

func TestNackRoundTrip(t *testing.T) {
	ids := []uint32{100, 101, 200}
	raw := EncodeNack(ids)
	got, err := DecodeNack(raw)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !reflect.DeepEqual(got, ids) {
		t.Fatalf("DecodeNack = %v, want %v", got, ids)
	}
}

func TestDecodeAckRejectsWrongFlag(t *testing.T) {
	raw := EncodeNack([]uint32{1})
	if _, err := DecodeAck(raw); err == nil {
		t.Fatal("DecodeAck should reject a NACK-flagged buffer")
	}
}
