package socks5

import (
	"encoding/binary"
	"io"
)

// readFull reads exactly len(buf) bytes, failing if the peer closes early.
// It is a thin, named wrapper around io.ReadFull so call sites read like the
// protocol description in RFC 1928/1929 rather than generic I/O.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// readByte reads a single byte.
func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readUint16 reads a big-endian 16-bit unsigned integer, the wire format
// SOCKS5 uses for ports.
func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// writeAll writes an entire buffer, returning any short-write error from the
// underlying writer unchanged.
func writeAll(w io.Writer, buf []byte) error {
	_, err := w.Write(buf)
	return err
}
