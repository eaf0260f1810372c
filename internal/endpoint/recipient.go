package endpoint

import "net"

// Recipient names who a Send call should reach: either a known remote
// address or a remote GUID, resolved against the endpoint's dual-indexed
// peer map at send time.
type Recipient struct {
	addr *net.UDPAddr
	guid uint64
	byGUID bool
}

// ToAddress targets the peer currently bound to addr.
func ToAddress(addr *net.UDPAddr) Recipient { return Recipient{addr: addr} }

// ToGUID targets the peer whose remote GUID is guid, regardless of
// which address it is currently connected from.
func ToGUID(guid uint64) Recipient { return Recipient{guid: guid, byGUID: true} }

// ReceiptHandle identifies a pending acknowledge/not-acknowledge receipt
// for a specific peer's specific reliability-engine receipt id; on_acknowledge
// and on_not_acknowledge carry this handle back to the application.
type ReceiptHandle struct {
	PeerGUID  uint64
	ReceiptID uint64
}
