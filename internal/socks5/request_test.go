package socks5

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func shortTimeout() time.Duration { return time.Second }

func TestParseRequest_IPv4(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x05, CmdConnect, 0x00, AddrIPv4, 93, 184, 216, 34, 0x00, 0x50})

	req, err := parseRequest(&fakeConn{Buffer: &buf}, &fakeResolver{}, shortTimeout)
	if err != nil {
		t.Fatalf("parseRequest() error = %v", err)
	}
	if !req.DestIP.Equal(net.IPv4(93, 184, 216, 34)) {
		t.Errorf("DestIP = %v, want 93.184.216.34", req.DestIP)
	}
	if req.Port != 80 {
		t.Errorf("Port = %d, want 80", req.Port)
	}
}

func TestParseRequest_IPv6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	var buf bytes.Buffer
	buf.WriteByte(0x05)
	buf.WriteByte(CmdConnect)
	buf.WriteByte(0x00)
	buf.WriteByte(AddrIPv6)
	buf.Write(ip.To16())
	buf.Write([]byte{0x01, 0xbb}) // 443

	req, err := parseRequest(&fakeConn{Buffer: &buf}, &fakeResolver{}, shortTimeout)
	if err != nil {
		t.Fatalf("parseRequest() error = %v", err)
	}
	if !req.DestIP.Equal(ip) {
		t.Errorf("DestIP = %v, want %v", req.DestIP, ip)
	}
	if req.Port != 443 {
		t.Errorf("Port = %d, want 443", req.Port)
	}
}

func TestParseRequest_Domain(t *testing.T) {
	var buf bytes.Buffer
	host := "example.com"
	buf.Write([]byte{0x05, CmdConnect, 0x00, AddrDomain, byte(len(host))})
	buf.WriteString(host)
	buf.Write([]byte{0x00, 0x50})

	resolver := &fakeResolver{addrs: []string{"93.184.216.34"}}
	req, err := parseRequest(&fakeConn{Buffer: &buf}, resolver, shortTimeout)
	if err != nil {
		t.Fatalf("parseRequest() error = %v", err)
	}
	if req.Domain != host {
		t.Errorf("Domain = %q, want %q", req.Domain, host)
	}
	if !req.DestIP.Equal(net.IPv4(93, 184, 216, 34)) {
		t.Errorf("DestIP = %v, want resolved address", req.DestIP)
	}
}

func TestParseRequest_DomainResolutionFailure(t *testing.T) {
	var buf bytes.Buffer
	host := "nowhere.invalid"
	buf.Write([]byte{0x05, CmdConnect, 0x00, AddrDomain, byte(len(host))})
	buf.WriteString(host)
	buf.Write([]byte{0x00, 0x50})

	resolver := &fakeResolver{err: errors.New("no such host")}
	_, err := parseRequest(&fakeConn{Buffer: &buf}, resolver, shortTimeout)

	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Kind != KindHostUnreachable {
		t.Fatalf("parseRequest() error = %v, want CommandError(HostUnreachable)", err)
	}
}

func TestParseRequest_EmptyDomainRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x05, CmdConnect, 0x00, AddrDomain, 0x00, 0x00, 0x50})

	_, err := parseRequest(&fakeConn{Buffer: &buf}, &fakeResolver{}, shortTimeout)
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Kind != KindHostUnreachable {
		t.Fatalf("parseRequest() error = %v, want CommandError(HostUnreachable)", err)
	}
}

func TestParseRequest_InvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x04, CmdConnect, 0x00, AddrIPv4, 1, 2, 3, 4, 0, 80})

	_, err := parseRequest(&fakeConn{Buffer: &buf}, &fakeResolver{}, shortTimeout)
	verErr, ok := err.(*InvalidVersionError)
	if !ok {
		t.Fatalf("parseRequest() error = %v (%T), want *InvalidVersionError", err, err)
	}
	if verErr.Got != 0x04 {
		t.Errorf("Got = %#x, want 0x04", verErr.Got)
	}
}

func TestParseRequest_UnsupportedCommand(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x05, 0x02, 0x00, AddrIPv4}) // BIND, no address bytes follow

	_, err := parseRequest(&fakeConn{Buffer: &buf}, &fakeResolver{}, shortTimeout)
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Kind != KindUnsupportedCommand {
		t.Fatalf("parseRequest() error = %v, want CommandError(UnsupportedCommand)", err)
	}
}

func TestParseRequest_UnsupportedAddrType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x05, CmdConnect, 0x00, 0x7f})

	_, err := parseRequest(&fakeConn{Buffer: &buf}, &fakeResolver{}, shortTimeout)
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Kind != KindUnsupportedAddr {
		t.Fatalf("parseRequest() error = %v, want CommandError(UnsupportedAddr)", err)
	}
}

func TestWriteReply_NilBindIPRendersZeroAddress(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReply(&fakeConn{Buffer: &buf}, 0x00, nil, 0); err != nil {
		t.Fatalf("writeReply() error = %v", err)
	}
	want := []byte{0x05, 0x00, 0x00, AddrIPv4, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("writeReply() = %v, want %v", buf.Bytes(), want)
	}
}

func TestWriteReply_IPv6Bind(t *testing.T) {
	var buf bytes.Buffer
	ip := net.ParseIP("2001:db8::2")
	if err := writeReply(&fakeConn{Buffer: &buf}, 0x00, ip, 1080); err != nil {
		t.Fatalf("writeReply() error = %v", err)
	}
	if buf.Bytes()[3] != AddrIPv6 {
		t.Errorf("addr type = %#x, want AddrIPv6", buf.Bytes()[3])
	}
	if len(buf.Bytes()) != 4+16+2 {
		t.Errorf("reply length = %d, want %d", len(buf.Bytes()), 4+16+2)
	}
}

func TestMapDialError(t *testing.T) {
	ctx := context.Background()

	if kind := mapDialError(&net.DNSError{Err: "no such host"}, ctx); kind != KindHostUnreachable {
		t.Errorf("DNS error => %v, want KindHostUnreachable", kind)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if kind := mapDialError(errors.New("timed out"), cancelled); kind != KindTTLExpired {
		t.Errorf("cancelled context => %v, want KindTTLExpired", kind)
	}
}

// fakeConn adapts a *bytes.Buffer into a net.Conn so parseRequest/writeReply,
// which only use Read/Write, can be exercised without a real socket.
type fakeConn struct {
	*bytes.Buffer
}

func (f *fakeConn) Close() error                       { return nil }
func (f *fakeConn) LocalAddr() net.Addr                 { return nil }
func (f *fakeConn) RemoteAddr() net.Addr                { return nil }
func (f *fakeConn) SetDeadline(time.Time) error         { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error     { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error    { return nil }
