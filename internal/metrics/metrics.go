// Package metrics exposes the endpoint's reliability counters as a
// Prometheus Collector, grounded on the retrieval pack's synchronized
// map-backed Collect/Describe pattern. Both the collector and its
// registration are optional: an endpoint given a nil collector never
// calls into this package, a collector that is never registered is
// updated but never scraped, and the core functions identically either
// way.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// DisconnectReason labels the peers_disconnected_total counter.
type DisconnectReason string

const (
	ReasonExplicit DisconnectReason = "explicit"
	ReasonTimeout  DisconnectReason = "timeout"
	ReasonFlood    DisconnectReason = "flood"
	ReasonShutdown DisconnectReason = "shutdown"
)

// ReliabilityCollector accumulates endpoint-wide counters and reports
// them to Prometheus on scrape. All Add* methods are safe for concurrent
// use from the tick loop and the socket reader.
type ReliabilityCollector struct {
	datagramsSent     uint64
	datagramsReceived uint64
	bytesSent         uint64
	bytesReceived     uint64
	retransmits       uint64
	nacksIssued       uint64
	nacksReceived     uint64
	reliableAcked     uint64
	peersConnected    uint64

	mu                  sync.Mutex
	peersDisconnectedBy map[DisconnectReason]uint64

	datagramsSentDesc     *prometheus.Desc
	datagramsReceivedDesc *prometheus.Desc
	bytesSentDesc         *prometheus.Desc
	bytesReceivedDesc     *prometheus.Desc
	retransmitsDesc       *prometheus.Desc
	nacksIssuedDesc       *prometheus.Desc
	nacksReceivedDesc     *prometheus.Desc
	reliableAckedDesc     *prometheus.Desc
	peersConnectedDesc    *prometheus.Desc
	peersDisconnectedDesc *prometheus.Desc
}

// New builds a collector whose metric names are prefixed with prefix
// (e.g. "raknet"), with constLabels attached to every exported series.
func New(prefix string, constLabels prometheus.Labels) *ReliabilityCollector {
	ns := func(name string) string { return prefix + "_" + name }
	return &ReliabilityCollector{
		peersDisconnectedBy:   make(map[DisconnectReason]uint64),
		datagramsSentDesc:     prometheus.NewDesc(ns("datagrams_sent_total"), "Connected datagrams sent.", nil, constLabels),
		datagramsReceivedDesc: prometheus.NewDesc(ns("datagrams_received_total"), "Connected datagrams received.", nil, constLabels),
		bytesSentDesc:         prometheus.NewDesc(ns("bytes_sent_total"), "Bytes sent on connected datagrams.", nil, constLabels),
		bytesReceivedDesc:     prometheus.NewDesc(ns("bytes_received_total"), "Bytes received on connected datagrams.", nil, constLabels),
		retransmitsDesc:       prometheus.NewDesc(ns("retransmits_total"), "Reliable messages retransmitted.", nil, constLabels),
		nacksIssuedDesc:       prometheus.NewDesc(ns("nacks_issued_total"), "Missing datagram sequence numbers reported in sent NACKs.", nil, constLabels),
		nacksReceivedDesc:     prometheus.NewDesc(ns("nacks_received_total"), "NACK datagrams received.", nil, constLabels),
		reliableAckedDesc:     prometheus.NewDesc(ns("reliable_acknowledged_total"), "Ack receipts resolved by an ACK; messages sent without an ack receipt are not counted.", nil, constLabels),
		peersConnectedDesc:    prometheus.NewDesc(ns("peers_connected_total"), "Peers that completed the handshake.", nil, constLabels),
		peersDisconnectedDesc: prometheus.NewDesc(ns("peers_disconnected_total"), "Peers removed from the peer map.", []string{"reason"}, constLabels),
	}
}

func (c *ReliabilityCollector) AddDatagramSent(bytes int) {
	atomic.AddUint64(&c.datagramsSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(bytes))
}

func (c *ReliabilityCollector) AddDatagramReceived(bytes int) {
	atomic.AddUint64(&c.datagramsReceived, 1)
	atomic.AddUint64(&c.bytesReceived, uint64(bytes))
}

func (c *ReliabilityCollector) AddRetransmit()   { atomic.AddUint64(&c.retransmits, 1) }
func (c *ReliabilityCollector) AddNackIssued()    { atomic.AddUint64(&c.nacksIssued, 1) }
func (c *ReliabilityCollector) AddNackReceived()  { atomic.AddUint64(&c.nacksReceived, 1) }
func (c *ReliabilityCollector) AddReliableAcked() { atomic.AddUint64(&c.reliableAcked, 1) }
func (c *ReliabilityCollector) AddPeerConnected()  { atomic.AddUint64(&c.peersConnected, 1) }

func (c *ReliabilityCollector) AddPeerDisconnected(reason DisconnectReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peersDisconnectedBy[reason]++
}

// Describe implements prometheus.Collector.
func (c *ReliabilityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.datagramsSentDesc
	ch <- c.datagramsReceivedDesc
	ch <- c.bytesSentDesc
	ch <- c.bytesReceivedDesc
	ch <- c.retransmitsDesc
	ch <- c.nacksIssuedDesc
	ch <- c.nacksReceivedDesc
	ch <- c.reliableAckedDesc
	ch <- c.peersConnectedDesc
	ch <- c.peersDisconnectedDesc
}

// Collect implements prometheus.Collector.
func (c *ReliabilityCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.datagramsSentDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.datagramsSent)))
	ch <- prometheus.MustNewConstMetric(c.datagramsReceivedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.datagramsReceived)))
	ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.bytesSent)))
	ch <- prometheus.MustNewConstMetric(c.bytesReceivedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.bytesReceived)))
	ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.retransmits)))
	ch <- prometheus.MustNewConstMetric(c.nacksIssuedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.nacksIssued)))
	ch <- prometheus.MustNewConstMetric(c.nacksReceivedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.nacksReceived)))
	ch <- prometheus.MustNewConstMetric(c.reliableAckedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.reliableAcked)))
	ch <- prometheus.MustNewConstMetric(c.peersConnectedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.peersConnected)))

	c.mu.Lock()
	defer c.mu.Unlock()
	for reason, count := range c.peersDisconnectedBy {
		ch <- prometheus.MustNewConstMetric(c.peersDisconnectedDesc, prometheus.CounterValue, float64(count), string(reason))
	}
}
