// Package rerr defines the typed error kinds shared across the transport
// core, per the error handling design: codec errors never kill a peer,
// protocol violations refuse only the offending peer, and endpoint-wide
// errors are fatal to the endpoint alone.
package rerr

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", Kind) to attach
// context while keeping errors.Is usable against the kind.
var (
	// ErrMalformedField is returned by the codec on a truncated buffer or
	// an invalid discriminator byte (e.g. an unknown address family tag).
	ErrMalformedField = errors.New("raknet: malformed field")

	// ErrProtocolViolation is returned when an encapsulated message is
	// decoded in a state where it is illegal (e.g. NewIncomingConnection
	// before ConnectionRequest).
	ErrProtocolViolation = errors.New("raknet: protocol violation")

	// ErrInvalidChannel is returned when a channel index is >= MaxChannels.
	ErrInvalidChannel = errors.New("raknet: invalid channel")

	// ErrInvalidReliability is returned for an unknown reliability id, or
	// one that claims to be both ordered and sequenced.
	ErrInvalidReliability = errors.New("raknet: invalid reliability")

	// ErrMtuExceeded is returned when a configured MTU is below the wire
	// floor, or a caller requests a send the engine cannot ever fragment
	// to fit (should not happen given split support, but guards config).
	ErrMtuExceeded = errors.New("raknet: mtu exceeded")

	// ErrNotConnected is returned by Send when the recipient names no
	// known peer (unknown address or GUID).
	ErrNotConnected = errors.New("raknet: not connected")

	// ErrAlreadyRunning is returned by Start on an endpoint already serving.
	ErrAlreadyRunning = errors.New("raknet: already running")

	// ErrNotRunning is returned by operations that require a started endpoint.
	ErrNotRunning = errors.New("raknet: not running")

	// ErrSocketError wraps an OS-level socket failure.
	ErrSocketError = errors.New("raknet: socket error")

	// ErrTimeout marks a peer disconnected for liveness timeout.
	ErrTimeout = errors.New("raknet: timeout")

	// ErrFlood marks a peer disconnected for exceeding the packet-rate cap.
	ErrFlood = errors.New("raknet: flood")
)
