// Package wire implements the pure wire-format primitives of the RakNet
// codec: fixed-width integers in both byte orders, 24-bit "triads",
// length-prefixed strings, address records and 128-bit identifiers. No
// I/O happens here — every function operates on an in-memory buffer, in
// the spirit of the teacher's BitStream but split into a Writer that only
// grows and a Reader that only consumes, so a decode error can never
// corrupt a buffer still being read by something else.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/ventosilenzioso/raknet-go/internal/rerr"
)

// Writer accumulates an outbound wire buffer. The zero value is ready to
// use; callers typically pre-size it with NewWriter(cap) to avoid
// reallocation while packing a datagram.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hint n.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Bytes returns the accumulated buffer. The slice aliases the Writer's
// internal storage; callers that retain it past further writes must copy.
func (w *Writer) Bytes() []byte { return w.buf }

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func (w *Writer) WriteUint16BE(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteUint16LE(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteUint32BE(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteUint32LE(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteUint64BE(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteUint64LE(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteTriad writes the low 24 bits of v, little-endian. Every reliable
// index, ordered/sequenced index and datagram sequence number on the wire
// is a triad.
func (w *Writer) WriteTriad(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

// WriteStringBE writes a UTF-8 string prefixed with a big-endian u16 length.
func (w *Writer) WriteStringBE(s string) {
	w.WriteUint16BE(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteStringLE writes a UTF-8 string prefixed with a little-endian u16 length.
func (w *Writer) WriteStringLE(s string) {
	w.WriteUint16LE(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteAddress writes an address record: family tag, bit-inverted address
// bytes (+10 pad bytes for v6), big-endian port.
func (w *Writer) WriteAddress(addr *net.UDPAddr) {
	if v4 := addr.IP.To4(); v4 != nil {
		w.WriteByte(4)
		for _, b := range v4 {
			w.WriteByte(^b)
		}
		w.WriteUint16BE(uint16(addr.Port))
		return
	}
	w.WriteByte(6)
	v6 := addr.IP.To16()
	for _, b := range v6 {
		w.WriteByte(^b)
	}
	for i := 0; i < 10; i++ {
		w.WriteByte(0)
	}
	w.WriteUint16BE(uint16(addr.Port))
}

// WriteUint128 writes a 16-byte identifier verbatim (used for the magic
// cookie and for extended GUID fields).
func (w *Writer) WriteUint128(id [16]byte) {
	w.buf = append(w.buf, id[:]...)
}

// Reader consumes a wire buffer left to right. Every Read method reports
// rerr.ErrMalformedField (wrapped with context) on truncation or an
// invalid discriminator.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps buf for sequential decoding. buf is not copied.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", rerr.ErrMalformedField, n, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadUint16BE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint16LE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32BE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64BE() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadUint64LE() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadTriad reads a 24-bit little-endian value.
func (r *Reader) ReadTriad() (uint32, error) {
	b, err := r.ReadBytes(3)
	if err != nil {
		return 0, fmt.Errorf("%w: triad: %v", rerr.ErrMalformedField, err)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (r *Reader) ReadStringBE() (string, error) {
	n, err := r.ReadUint16BE()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadStringLE() (string, error) {
	n, err := r.ReadUint16LE()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadAddress reads an address record written by Writer.WriteAddress.
func (r *Reader) ReadAddress() (*net.UDPAddr, error) {
	family, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch family {
	case 4:
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, 4)
		for i, v := range b {
			ip[i] = ^v
		}
		port, err := r.ReadUint16BE()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case 6:
		b, err := r.ReadBytes(16)
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, 16)
		for i, v := range b {
			ip[i] = ^v
		}
		if _, err := r.ReadBytes(10); err != nil {
			return nil, err
		}
		port, err := r.ReadUint16BE()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, fmt.Errorf("%w: invalid address family %d", rerr.ErrMalformedField, family)
	}
}

// ReadUint128 reads a 16-byte identifier verbatim.
func (r *Reader) ReadUint128() ([16]byte, error) {
	var out [16]byte
	b, err := r.ReadBytes(16)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// MagicCookie is the 16-byte offline message data ID every handshake
// message carries, bit-exact per the wire-level constants.
var MagicCookie = [16]byte{0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE, 0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78}
