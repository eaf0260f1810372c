package reliability

import (
	"testing"
	"time"

	"github.com/ventosilenzioso/raknet-go/internal/encap"
	"github.com/ventosilenzioso/raknet-go/internal/framer"
)

func drainTick(t *testing.T, e *Engine, now time.Time) [][]byte {
	t.Helper()
	res, err := e.Tick(now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return res.Datagrams
}

func onlyDataDatagrams(t *testing.T, raws [][]byte) [][]byte {
	t.Helper()
	var out [][]byte
	for _, raw := range raws {
		kind, err := framer.Classify(raw)
		if err != nil {
			t.Fatal(err)
		}
		if kind == framer.KindData {
			out = append(out, raw)
		}
	}
	return out
}

func TestReliableDeliveredExactlyOnce(t *testing.T) {
	sender := NewEngine(1200)
	receiver := NewEngine(1200)

	if _, _, err := sender.Submit(encap.Reliable, 0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	datagrams := onlyDataDatagrams(t, drainTick(t, sender, now))
	if len(datagrams) != 1 {
		t.Fatalf("got %d datagrams, want 1", len(datagrams))
	}

	var deliveries []Delivery
	for i := 0; i < 2; i++ { // deliver the same datagram twice, as if retransmitted
		res, err := receiver.HandleDatagram(datagrams[0])
		if err != nil {
			t.Fatal(err)
		}
		deliveries = append(deliveries, res.Deliveries...)
	}
	if len(deliveries) != 1 {
		t.Fatalf("got %d deliveries across two identical datagrams, want 1", len(deliveries))
	}
	if string(deliveries[0].Payload) != "hello" {
		t.Fatalf("payload = %q", deliveries[0].Payload)
	}
}

func TestOrderedDeliveryIsStrictlyAscendingUnderReordering(t *testing.T) {
	sender := NewEngine(1200)
	receiver := NewEngine(1200)

	var raws [][]byte
	for i := 0; i < 4; i++ {
		if _, _, err := sender.Submit(encap.ReliableOrdered, 0, []byte{byte('a' + i)}); err != nil {
			t.Fatal(err)
		}
		raws = append(raws, onlyDataDatagrams(t, drainTick(t, sender, time.Now()))...)
	}
	if len(raws) != 4 {
		t.Fatalf("got %d datagrams, want 4", len(raws))
	}

	// deliver out of order: 2, 0, 3, 1
	order := []int{2, 0, 3, 1}
	var got []byte
	for _, idx := range order {
		res, err := receiver.HandleDatagram(raws[idx])
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range res.Deliveries {
			got = append(got, d.Payload...)
		}
	}
	if string(got) != "abcd" {
		t.Fatalf("delivered %q, want %q", got, "abcd")
	}
}

func TestSequencedDropsStaleMessages(t *testing.T) {
	sender := NewEngine(1200)
	receiver := NewEngine(1200)

	var raws [][]byte
	for i := 0; i < 3; i++ {
		if _, _, err := sender.Submit(encap.UnreliableSequenced, 0, []byte{byte('a' + i)}); err != nil {
			t.Fatal(err)
		}
		raws = append(raws, onlyDataDatagrams(t, drainTick(t, sender, time.Now()))...)
	}

	// deliver newest first, then the two older ones
	var got []byte
	for _, idx := range []int{2, 0, 1} {
		res, err := receiver.HandleDatagram(raws[idx])
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range res.Deliveries {
			got = append(got, d.Payload...)
		}
	}
	if string(got) != "c" {
		t.Fatalf("delivered %q, want only the newest message %q", got, "c")
	}
}

func TestSplitMessageReassemblesRegardlessOfFragmentOrder(t *testing.T) {
	sender := NewEngine(64) // small MTU forces fragmentation
	receiver := NewEngine(64)

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, _, err := sender.Submit(encap.Reliable, 0, payload); err != nil {
		t.Fatal(err)
	}
	raws := onlyDataDatagrams(t, drainTick(t, sender, time.Now()))
	if len(raws) < 2 {
		t.Fatalf("got %d fragment datagrams, want at least 2", len(raws))
	}

	// deliver fragments in reverse order
	var delivered []Delivery
	for i := len(raws) - 1; i >= 0; i-- {
		res, err := receiver.HandleDatagram(raws[i])
		if err != nil {
			t.Fatal(err)
		}
		delivered = append(delivered, res.Deliveries...)
	}
	if len(delivered) != 1 {
		t.Fatalf("got %d deliveries, want exactly 1 reassembled message", len(delivered))
	}
	if len(delivered[0].Payload) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", len(delivered[0].Payload), len(payload))
	}
	for i, b := range delivered[0].Payload {
		if b != payload[i] {
			t.Fatalf("reassembled payload mismatch at byte %d", i)
		}
	}
}

func TestNackTriggersImmediateRetransmission(t *testing.T) {
	sender := NewEngine(1200)
	if _, _, err := sender.Submit(encap.Reliable, 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	first := onlyDataDatagrams(t, drainTick(t, sender, now))
	if len(first) != 1 {
		t.Fatalf("got %d datagrams, want 1", len(first))
	}

	dg, err := framer.DecodeData(first[0])
	if err != nil {
		t.Fatal(err)
	}
	sender.HandleNack([]uint32{dg.Sequence})

	// a resend should be queued for the very next tick, without waiting
	// for the resend timeout to elapse.
	second := onlyDataDatagrams(t, drainTick(t, sender, now))
	if len(second) != 1 {
		t.Fatalf("got %d datagrams after NACK, want 1 immediate resend", len(second))
	}
}

func TestAckClearsUnacknowledgedState(t *testing.T) {
	sender := NewEngine(1200)
	if _, _, err := sender.Submit(encap.Reliable, 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	raws := onlyDataDatagrams(t, drainTick(t, sender, now))
	dg, err := framer.DecodeData(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	sender.HandleAck([]uint32{dg.Sequence})

	if len(sender.unacked) != 0 {
		t.Fatalf("unacked map not cleared after ACK: %d entries remain", len(sender.unacked))
	}

	// well past any resend timeout, nothing should be retransmitted
	later := now.Add(5 * time.Second)
	if got := onlyDataDatagrams(t, drainTick(t, sender, later)); len(got) != 0 {
		t.Fatalf("got %d datagrams after ACK and timeout, want 0", len(got))
	}
}

func TestRetransmitsAfterResendTimeout(t *testing.T) {
	sender := NewEngine(1200)
	if _, _, err := sender.Submit(encap.Reliable, 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	first := onlyDataDatagrams(t, drainTick(t, sender, now))
	if len(first) != 1 {
		t.Fatalf("got %d datagrams, want 1", len(first))
	}

	later := now.Add(resendFloor + time.Millisecond)
	second := onlyDataDatagrams(t, drainTick(t, sender, later))
	if len(second) != 1 {
		t.Fatalf("got %d datagrams after resend timeout, want 1", len(second))
	}
}

func TestAckReceiptResolvesOnAck(t *testing.T) {
	sender := NewEngine(1200)
	receiptID, hasReceipt, err := sender.Submit(encap.ReliableWithAckReceipt, 0, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !hasReceipt {
		t.Fatal("expected a receipt for RELIABLE_WITH_ACK_RECEIPT")
	}

	raws := onlyDataDatagrams(t, drainTick(t, sender, time.Now()))
	dg, err := framer.DecodeData(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	acked := sender.HandleAck([]uint32{dg.Sequence})
	if len(acked) != 1 || acked[0] != receiptID {
		t.Fatalf("HandleAck = %v, want [%v]", acked, receiptID)
	}
}

func TestUnreliableAckReceiptNotAckedOnNack(t *testing.T) {
	sender := NewEngine(1200)
	receiptID, hasReceipt, err := sender.Submit(encap.UnreliableWithAckReceipt, 0, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !hasReceipt {
		t.Fatal("expected a receipt for UNRELIABLE_WITH_ACK_RECEIPT")
	}

	raws := onlyDataDatagrams(t, drainTick(t, sender, time.Now()))
	dg, err := framer.DecodeData(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	notAcked, _ := sender.HandleNack([]uint32{dg.Sequence})
	if len(notAcked) != 1 || notAcked[0] != receiptID {
		t.Fatalf("HandleNack = %v, want [%v]", notAcked, receiptID)
	}

	// an unreliable message is never retransmitted, NACK or not
	if got := onlyDataDatagrams(t, drainTick(t, sender, time.Now())); len(got) != 0 {
		t.Fatalf("got %d datagrams after NACKing an unreliable send, want 0", len(got))
	}
}

func TestDuplicateDatagramWithinWindowIsIgnored(t *testing.T) {
	sender := NewEngine(1200)
	receiver := NewEngine(1200)
	if _, _, err := sender.Submit(encap.Unreliable, 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	raws := onlyDataDatagrams(t, drainTick(t, sender, time.Now()))

	res1, err := receiver.HandleDatagram(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	res2, err := receiver.HandleDatagram(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(res1.Deliveries) != 1 || len(res2.Deliveries) != 0 {
		t.Fatalf("first delivery count = %d, repeat = %d, want 1 then 0", len(res1.Deliveries), len(res2.Deliveries))
	}
}

func TestMtuTooSmallForReliabilityIsRejected(t *testing.T) {
	e := NewEngine(8)
	if _, _, err := e.Submit(encap.ReliableOrdered, 0, []byte("hello world")); err == nil {
		t.Fatal("expected an error when MTU cannot fit even one fragment")
	}
}

func TestInvalidChannelRejected(t *testing.T) {
	e := NewEngine(1200)
	if _, _, err := e.Submit(encap.ReliableOrdered, MaxChannels, []byte("x")); err == nil {
		t.Fatal("expected an error for an out-of-range channel")
	}
}
