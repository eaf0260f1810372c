package wire

import (
	"errors"
	"net"
	"testing"

	"github.com/ventosilenzioso/raknet-go/internal/rerr"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteByte(0x42)
	w.WriteUint16BE(1234)
	w.WriteUint16LE(1234)
	w.WriteUint32BE(567890)
	w.WriteUint64LE(123456789012345)
	w.WriteTriad(0xABCDEF)
	w.WriteStringBE("hello world")
	w.WriteBool(true)

	r := NewReader(w.Bytes())

	if b, err := r.ReadByte(); err != nil || b != 0x42 {
		t.Fatalf("ReadByte = %v, %v, want 0x42, nil", b, err)
	}
	if v, err := r.ReadUint16BE(); err != nil || v != 1234 {
		t.Fatalf("ReadUint16BE = %v, %v", v, err)
	}
	if v, err := r.ReadUint16LE(); err != nil || v != 1234 {
		t.Fatalf("ReadUint16LE = %v, %v", v, err)
	}
	if v, err := r.ReadUint32BE(); err != nil || v != 567890 {
		t.Fatalf("ReadUint32BE = %v, %v", v, err)
	}
	if v, err := r.ReadUint64LE(); err != nil || v != 123456789012345 {
		t.Fatalf("ReadUint64LE = %v, %v", v, err)
	}
	if v, err := r.ReadTriad(); err != nil || v != 0xABCDEF {
		t.Fatalf("ReadTriad = 0x%X, %v, want 0xABCDEF", v, err)
	}
	if s, err := r.ReadStringBE(); err != nil || s != "hello world" {
		t.Fatalf("ReadStringBE = %q, %v", s, err)
	}
	if b, err := r.ReadBool(); err != nil || !b {
		t.Fatalf("ReadBool = %v, %v", b, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestTriadIgnoresHighByte(t *testing.T) {
	w := NewWriter(3)
	w.WriteTriad(0xFFABCDEF)
	r := NewReader(w.Bytes())
	v, err := r.ReadTriad()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xABCDEF {
		t.Fatalf("ReadTriad = 0x%X, want 0xABCDEF", v)
	}
}

func TestAddressRoundTripIPv4(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.37").To4(), Port: 19132}
	w := NewWriter(8)
	w.WriteAddress(addr)

	// Confirm the bytes are bitwise-inverted on the wire, not the raw IP.
	raw := w.Bytes()
	if raw[0] != 4 {
		t.Fatalf("family tag = %d, want 4", raw[0])
	}
	for i, b := range addr.IP {
		if raw[1+i] != ^b {
			t.Fatalf("address byte %d = 0x%02X, want inverted 0x%02X", i, raw[1+i], ^b)
		}
	}

	r := NewReader(raw)
	got, err := r.ReadAddress()
	if err != nil {
		t.Fatal(err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("ReadAddress = %v, want %v", got, addr)
	}
}

func TestAddressRoundTripIPv6(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 443}
	w := NewWriter(32)
	w.WriteAddress(addr)
	r := NewReader(w.Bytes())
	got, err := r.ReadAddress()
	if err != nil {
		t.Fatal(err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("ReadAddress = %v, want %v", got, addr)
	}
}

func TestReadAddressInvalidFamily(t *testing.T) {
	r := NewReader([]byte{9, 0, 0, 0, 0})
	if _, err := r.ReadAddress(); !errors.Is(err, rerr.ErrMalformedField) {
		t.Fatalf("err = %v, want ErrMalformedField", err)
	}
}

func TestReadTruncatedBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadUint32BE(); !errors.Is(err, rerr.ErrMalformedField) {
		t.Fatalf("err = %v, want ErrMalformedField", err)
	}
}

func TestUint128RoundTrip(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint128(MagicCookie)
	r := NewReader(w.Bytes())
	got, err := r.ReadUint128()
	if err != nil {
		t.Fatal(err)
	}
	if got != MagicCookie {
		t.Fatalf("ReadUint128 = %x, want %x", got, MagicCookie)
	}
}
