package peer

import (
	"net"
	"testing"
)

func TestOpenConnectionRequest1RoundTrip(t *testing.T) {
	raw := EncodeOpenConnectionRequest1(ProtocolVersion, 576)
	got, err := DecodeOpenConnectionRequest1(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.ProtocolVersion != ProtocolVersion {
		t.Fatalf("ProtocolVersion = %d, want %d", got.ProtocolVersion, ProtocolVersion)
	}
}

func TestOpenConnectionReply1RoundTrip(t *testing.T) {
	raw := EncodeOpenConnectionReply1(0xDEADBEEF, 1400)
	got, err := DecodeOpenConnectionReply1(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.ServerGUID != 0xDEADBEEF || got.MTU != 1400 {
		t.Fatalf("got %+v", got)
	}
}

func TestOpenConnectionRequest2RoundTrip(t *testing.T) {
	serverAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
	raw := EncodeOpenConnectionRequest2(serverAddr, 1200, 0x1122334455)
	got, err := DecodeOpenConnectionRequest2(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.ClientMTU != 1200 || got.ClientGUID != 0x1122334455 {
		t.Fatalf("got %+v", got)
	}
	if !got.ServerAddress.IP.Equal(serverAddr.IP) || got.ServerAddress.Port != serverAddr.Port {
		t.Fatalf("address mismatch: got %v, want %v", got.ServerAddress, serverAddr)
	}
}

func TestOpenConnectionReply2RoundTrip(t *testing.T) {
	clientAddr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 5000}
	raw := EncodeOpenConnectionReply2(0xAABBCC, clientAddr, 1200)
	got, err := DecodeOpenConnectionReply2(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.ServerGUID != 0xAABBCC || got.MTU != 1200 {
		t.Fatalf("got %+v", got)
	}
	if !got.ClientAddress.IP.Equal(clientAddr.IP) {
		t.Fatalf("address mismatch: got %v, want %v", got.ClientAddress, clientAddr)
	}
}

func TestUnconnectedPingPongRoundTrip(t *testing.T) {
	raw := EncodeUnconnectedPing(IDUnconnectedPing, 123456, 0x9988)
	ts, guid, err := DecodeUnconnectedPing(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if ts != 123456 || guid != 0x9988 {
		t.Fatalf("ts=%d guid=%x", ts, guid)
	}

	pong := EncodeUnconnectedPong(ts, 0x1234, []byte("test server"))
	echoTs, serverGUID, identifier, err := DecodeUnconnectedPong(pong[1:])
	if err != nil {
		t.Fatal(err)
	}
	if echoTs != ts || serverGUID != 0x1234 || string(identifier) != "test server" {
		t.Fatalf("echoTs=%d serverGUID=%x identifier=%q", echoTs, serverGUID, identifier)
	}
}

func TestConnectionRequestRoundTrip(t *testing.T) {
	raw := EncodeConnectionRequest(0xABCDEF, 999)
	got, err := DecodeConnectionRequest(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.ClientGUID != 0xABCDEF || got.Timestamp != 999 {
		t.Fatalf("got %+v", got)
	}
}

func TestConnectionRequestAcceptedRoundTrip(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 1), Port: 1234}
	raw := EncodeConnectionRequestAccepted(addr, 555)
	got, err := DecodeConnectionRequestAccepted(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestTimestamp != 555 {
		t.Fatalf("got %+v", got)
	}
	if !got.ClientAddress.IP.Equal(addr.IP) {
		t.Fatalf("address mismatch")
	}
}

func TestNewIncomingConnectionRoundTrip(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}
	raw := EncodeNewIncomingConnection(addr)
	got, err := DecodeNewIncomingConnection(raw[1:])
	if err != nil {
		t.Fatal(err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("got %v, want %v", got, addr)
	}
}

func TestSimpleMessagesCarryMagicCookieAndID(t *testing.T) {
	for _, id := range []byte{IDIncompatibleProtocolVersion, IDConnectionBanned, IDNoFreeIncomingConnections, IDAlreadyConnected} {
		raw := EncodeSimpleWithMagic(id)
		if raw[0] != id {
			t.Fatalf("id = 0x%02X, want 0x%02X", raw[0], id)
		}
		if len(raw) != 17 {
			t.Fatalf("len = %d, want 17 (id + 16-byte magic)", len(raw))
		}
	}
}
