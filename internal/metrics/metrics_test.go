package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorReportsCounters(t *testing.T) {
	c := New("raknet_test", nil)
	c.AddDatagramSent(100)
	c.AddDatagramReceived(50)
	c.AddRetransmit()
	c.AddPeerConnected()
	c.AddPeerDisconnected(ReasonTimeout)

	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)

	var metrics []dto.Metric
	for m := range ch {
		var d dto.Metric
		if err := m.Write(&d); err != nil {
			t.Fatal(err)
		}
		metrics = append(metrics, d)
	}
	if len(metrics) == 0 {
		t.Fatal("expected at least one metric")
	}
}

func TestDescribeSendsEveryDescriptor(t *testing.T) {
	c := New("raknet_test", nil)
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	if count != 10 {
		t.Fatalf("got %d descriptors, want 10", count)
	}
}
