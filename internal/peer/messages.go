// Package peer implements the offline handshake message codec and the
// per-peer connection state machine: CONNECTED, HANDSHAKING, LOGGED_IN,
// DISCONNECTED, liveness tracking, and flood detection. It knows nothing
// about the socket or the peer map — the endpoint drives the state
// machine from datagrams it has already classified and routed.
package peer

import (
	"fmt"
	"net"

	"github.com/ventosilenzioso/raknet-go/internal/rerr"
	"github.com/ventosilenzioso/raknet-go/internal/wire"
)

// Offline message identifiers, bit-exact with deployed RakNet peers.
const (
	IDConnectedPing                 byte = 0x00
	IDUnconnectedPing                byte = 0x01
	IDUnconnectedPingOpenConnections byte = 0x02
	IDConnectedPong                 byte = 0x03
	IDOpenConnectionRequest1         byte = 0x05
	IDOpenConnectionReply1           byte = 0x06
	IDOpenConnectionRequest2         byte = 0x07
	IDOpenConnectionReply2           byte = 0x08
	IDConnectionRequest              byte = 0x09
	IDConnectionRequestAccepted      byte = 0x10
	IDAlreadyConnected               byte = 0x12
	IDNewIncomingConnection          byte = 0x13
	IDNoFreeIncomingConnections      byte = 0x14
	IDDisconnectionNotification      byte = 0x15
	IDConnectionBanned               byte = 0x17
	IDIncompatibleProtocolVersion    byte = 0x19
	IDUnconnectedPong                byte = 0x1C
)

// ProtocolVersion is the RakNet wire protocol version this implementation
// speaks; OpenConnectionRequest1 peers advertising a different version are
// rejected with IncompatibleProtocolVersion.
const ProtocolVersion byte = 9

// OpenConnectionRequest1 is the first offline handshake message: the
// client's protocol version plus MTU-probing padding (the total datagram
// size is the client's way of proposing an MTU before either side has
// negotiated one).
type OpenConnectionRequest1 struct {
	ProtocolVersion byte
	MTU             int // inferred from the padded payload length
}

func EncodeOpenConnectionRequest1(protocolVersion byte, mtu int) []byte {
	w := wire.NewWriter(mtu)
	w.WriteByte(IDOpenConnectionRequest1)
	w.WriteUint128(wire.MagicCookie)
	w.WriteByte(protocolVersion)
	padding := mtu - w.Len()
	for i := 0; i < padding; i++ {
		w.WriteByte(0)
	}
	return w.Bytes()
}

func DecodeOpenConnectionRequest1(payload []byte) (*OpenConnectionRequest1, error) {
	r := wire.NewReader(payload)
	magic, err := r.ReadUint128()
	if err != nil {
		return nil, err
	}
	if magic != wire.MagicCookie {
		return nil, fmt.Errorf("%w: bad magic cookie in OpenConnectionRequest1", rerr.ErrProtocolViolation)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return &OpenConnectionRequest1{ProtocolVersion: version, MTU: len(payload) + 1}, nil
}

// OpenConnectionReply1 carries the server's GUID and the MTU it is
// willing to negotiate down to (the minimum of the client's request and
// the server's configured cap).
type OpenConnectionReply1 struct {
	ServerGUID uint64
	MTU        uint16
}

func EncodeOpenConnectionReply1(serverGUID uint64, mtu uint16) []byte {
	w := wire.NewWriter(32)
	w.WriteByte(IDOpenConnectionReply1)
	w.WriteUint128(wire.MagicCookie)
	w.WriteUint64BE(serverGUID)
	w.WriteBool(false) // security/cookie negotiation, unsupported
	w.WriteUint16BE(mtu)
	return w.Bytes()
}

func DecodeOpenConnectionReply1(payload []byte) (*OpenConnectionReply1, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadUint128(); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadBool(); err != nil {
		return nil, err
	}
	mtu, err := r.ReadUint16BE()
	if err != nil {
		return nil, err
	}
	return &OpenConnectionReply1{ServerGUID: guid, MTU: mtu}, nil
}

// OpenConnectionRequest2 carries the client's final MTU choice, its GUID,
// and the server address it believes it is talking to.
type OpenConnectionRequest2 struct {
	ServerAddress *net.UDPAddr
	ClientMTU     uint16
	ClientGUID    uint64
}

func EncodeOpenConnectionRequest2(serverAddr *net.UDPAddr, clientMTU uint16, clientGUID uint64) []byte {
	w := wire.NewWriter(32)
	w.WriteByte(IDOpenConnectionRequest2)
	w.WriteUint128(wire.MagicCookie)
	w.WriteAddress(serverAddr)
	w.WriteUint16BE(clientMTU)
	w.WriteUint64BE(clientGUID)
	return w.Bytes()
}

func DecodeOpenConnectionRequest2(payload []byte) (*OpenConnectionRequest2, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadUint128(); err != nil {
		return nil, err
	}
	addr, err := r.ReadAddress()
	if err != nil {
		return nil, err
	}
	mtu, err := r.ReadUint16BE()
	if err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, err
	}
	return &OpenConnectionRequest2{ServerAddress: addr, ClientMTU: mtu, ClientGUID: guid}, nil
}

// OpenConnectionReply2 confirms the negotiated MTU and echoes the
// server's GUID and the client's observed external address.
type OpenConnectionReply2 struct {
	ServerGUID    uint64
	ClientAddress *net.UDPAddr
	MTU           uint16
}

func EncodeOpenConnectionReply2(serverGUID uint64, clientAddr *net.UDPAddr, mtu uint16) []byte {
	w := wire.NewWriter(48)
	w.WriteByte(IDOpenConnectionReply2)
	w.WriteUint128(wire.MagicCookie)
	w.WriteUint64BE(serverGUID)
	w.WriteAddress(clientAddr)
	w.WriteUint16BE(mtu)
	w.WriteBool(false) // encryption enabled, unsupported
	return w.Bytes()
}

func DecodeOpenConnectionReply2(payload []byte) (*OpenConnectionReply2, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadUint128(); err != nil {
		return nil, err
	}
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, err
	}
	addr, err := r.ReadAddress()
	if err != nil {
		return nil, err
	}
	mtu, err := r.ReadUint16BE()
	if err != nil {
		return nil, err
	}
	return &OpenConnectionReply2{ServerGUID: guid, ClientAddress: addr, MTU: mtu}, nil
}

// EncodeSimpleWithMagic builds the handful of offline messages that carry no
// payload beyond their identifier (IncompatibleProtocolVersion,
// ConnectionBanned, NoFreeIncomingConnections, AlreadyConnected all carry
// the magic cookie as their only body).
func EncodeSimpleWithMagic(id byte) []byte {
	w := wire.NewWriter(17)
	w.WriteByte(id)
	w.WriteUint128(wire.MagicCookie)
	return w.Bytes()
}

// PingPayload is the body of UnconnectedPing/ConnectedPing: a client
// timestamp the peer is expected to echo back in the pong.
type PingPayload struct {
	Timestamp uint64
}

func EncodeUnconnectedPing(id byte, timestamp uint64, clientGUID uint64) []byte {
	w := wire.NewWriter(32)
	w.WriteByte(id)
	w.WriteUint64BE(timestamp)
	w.WriteUint128(wire.MagicCookie)
	w.WriteUint64BE(clientGUID)
	return w.Bytes()
}

func DecodeUnconnectedPing(payload []byte) (timestamp uint64, clientGUID uint64, err error) {
	r := wire.NewReader(payload)
	if timestamp, err = r.ReadUint64BE(); err != nil {
		return 0, 0, err
	}
	if _, err = r.ReadUint128(); err != nil {
		return 0, 0, err
	}
	if clientGUID, err = r.ReadUint64BE(); err != nil {
		return 0, 0, err
	}
	return timestamp, clientGUID, nil
}

// UnconnectedPong echoes the ping's timestamp plus the server's GUID and
// identifier bytes (the "pong id", a free-form server description).
func EncodeUnconnectedPong(echoTimestamp uint64, serverGUID uint64, identifier []byte) []byte {
	w := wire.NewWriter(32 + len(identifier))
	w.WriteByte(IDUnconnectedPong)
	w.WriteUint64BE(echoTimestamp)
	w.WriteUint64BE(serverGUID)
	w.WriteUint128(wire.MagicCookie)
	w.WriteStringBE(string(identifier))
	return w.Bytes()
}

func DecodeUnconnectedPong(payload []byte) (echoTimestamp uint64, serverGUID uint64, identifier []byte, err error) {
	r := wire.NewReader(payload)
	if echoTimestamp, err = r.ReadUint64BE(); err != nil {
		return
	}
	if serverGUID, err = r.ReadUint64BE(); err != nil {
		return
	}
	if _, err = r.ReadUint128(); err != nil {
		return
	}
	s, err := r.ReadStringBE()
	if err != nil {
		return
	}
	identifier = []byte(s)
	return
}

// ConnectionRequest and its acceptance/confirmation messages are carried
// as encapsulated messages inside a connected datagram, not as offline
// messages, but share the same identifier-byte + body convention.

type ConnectionRequest struct {
	ClientGUID uint64
	Timestamp  uint64
}

func EncodeConnectionRequest(clientGUID uint64, timestamp uint64) []byte {
	w := wire.NewWriter(17)
	w.WriteByte(IDConnectionRequest)
	w.WriteUint64BE(clientGUID)
	w.WriteUint64BE(timestamp)
	return w.Bytes()
}

func DecodeConnectionRequest(payload []byte) (*ConnectionRequest, error) {
	r := wire.NewReader(payload)
	guid, err := r.ReadUint64BE()
	if err != nil {
		return nil, err
	}
	ts, err := r.ReadUint64BE()
	if err != nil {
		return nil, err
	}
	return &ConnectionRequest{ClientGUID: guid, Timestamp: ts}, nil
}

type ConnectionRequestAccepted struct {
	ClientAddress *net.UDPAddr
	RequestTimestamp uint64
}

func EncodeConnectionRequestAccepted(clientAddr *net.UDPAddr, requestTimestamp uint64) []byte {
	w := wire.NewWriter(48)
	w.WriteByte(IDConnectionRequestAccepted)
	w.WriteAddress(clientAddr)
	w.WriteUint16BE(0) // system index, unused beyond single-socket deployments
	w.WriteUint64BE(requestTimestamp)
	return w.Bytes()
}

func DecodeConnectionRequestAccepted(payload []byte) (*ConnectionRequestAccepted, error) {
	r := wire.NewReader(payload)
	addr, err := r.ReadAddress()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadUint16BE(); err != nil {
		return nil, err
	}
	ts, err := r.ReadUint64BE()
	if err != nil {
		return nil, err
	}
	return &ConnectionRequestAccepted{ClientAddress: addr, RequestTimestamp: ts}, nil
}

func EncodeNewIncomingConnection(serverAddr *net.UDPAddr) []byte {
	w := wire.NewWriter(24)
	w.WriteByte(IDNewIncomingConnection)
	w.WriteAddress(serverAddr)
	return w.Bytes()
}

func DecodeNewIncomingConnection(payload []byte) (*net.UDPAddr, error) {
	r := wire.NewReader(payload)
	return r.ReadAddress()
}

func EncodeDisconnectionNotification() []byte {
	return []byte{IDDisconnectionNotification}
}
