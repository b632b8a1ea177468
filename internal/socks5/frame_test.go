package socks5

import (
	"bytes"
	"io"
	"testing"
)

func TestReadByte(t *testing.T) {
	r := bytes.NewReader([]byte{0x42})
	b, err := readByte(r)
	if err != nil {
		t.Fatalf("readByte() error = %v", err)
	}
	if b != 0x42 {
		t.Errorf("readByte() = %#x, want 0x42", b)
	}
}

func TestReadByte_EOF(t *testing.T) {
	r := bytes.NewReader(nil)
	if _, err := readByte(r); err == nil {
		t.Fatal("readByte() on empty reader should error")
	}
}

func TestReadUint16(t *testing.T) {
	r := bytes.NewReader([]byte{0x1f, 0x90}) // 8080 big-endian
	v, err := readUint16(r)
	if err != nil {
		t.Fatalf("readUint16() error = %v", err)
	}
	if v != 8080 {
		t.Errorf("readUint16() = %d, want 8080", v)
	}
}

func TestWriteAll(t *testing.T) {
	var buf bytes.Buffer
	if err := writeAll(&buf, []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeAll() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("writeAll() wrote %v, want [1 2 3]", buf.Bytes())
	}
}

func TestReadFull_ShortRead(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2})
	buf := make([]byte, 4)
	err := readFull(r, buf)
	if err != io.ErrUnexpectedEOF {
		t.Errorf("readFull() error = %v, want io.ErrUnexpectedEOF", err)
	}
}
