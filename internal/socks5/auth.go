// Package socks5 implements the SOCKS5 proxy protocol: method negotiation,
// RFC 1929 username/password sub-negotiation, CONNECT request parsing,
// outbound dial, and bidirectional relay.
package socks5

import (
	"io"

	"golang.org/x/crypto/bcrypt"
)

// Authentication method codes per RFC 1928.
const (
	MethodNoAuth       byte = 0x00
	MethodUserPass     byte = 0x02
	MethodNoAcceptable byte = 0xFF
)

// RFC 1929 sub-negotiation status codes.
const (
	authStatusSuccess = 0x00
	authStatusFailure = 0x01
	authVersion       = 0x01
)

// Authenticator performs one SOCKS5 authentication method's sub-negotiation.
type Authenticator interface {
	// Authenticate runs the method-specific handshake and reports the
	// authenticated username (empty for no-auth).
	Authenticate(reader io.Reader, writer io.Writer) (string, error)

	// Method returns the one-byte method code this authenticator offers.
	Method() byte
}

// NoAuthAuthenticator implements the no-authentication method: it performs
// no sub-negotiation at all.
type NoAuthAuthenticator struct{}

func (NoAuthAuthenticator) Authenticate(io.Reader, io.Writer) (string, error) { return "", nil }
func (NoAuthAuthenticator) Method() byte                                     { return MethodNoAuth }

// CredentialStore validates a username/password pair against a table built
// once at startup. Implementations must not mutate any state visible across
// calls; the store is shared by reference across every session.
type CredentialStore interface {
	Valid(username, password string) bool
}

// StaticCredentials is the base credentials table: an exact, byte-wise
// comparison against plaintext passwords. This matches the source revision's
// behavior precisely, including that the comparison is not constant-time.
type StaticCredentials map[string]string

// Valid reports whether username/password is an exact match in the table.
func (s StaticCredentials) Valid(username, password string) bool {
	stored, ok := s[username]
	if !ok {
		return false
	}
	return stored == password
}

// dummyHash is compared against on a miss so unknown-username lookups take
// the same time as a known-username, wrong-password lookup.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashedCredentials is an opt-in credentials table backed by bcrypt hashes,
// selected when the credentials file marks its entries "hashed". Comparison
// is inherently constant-time.
type HashedCredentials map[string]string

// Valid reports whether password matches the bcrypt hash stored for username.
func (h HashedCredentials) Valid(username, password string) bool {
	hash, ok := h[username]
	if !ok {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword bcrypt-hashes password at the library's default cost, for use
// by the credentials-file tooling when writing the hashed schema.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// UserPassAuthenticator implements RFC 1929 username/password sub-negotiation.
//
//	+----+------+----------+------+----------+
//	|VER | ULEN |  UNAME   | PLEN |  PASSWD  |
//	+----+------+----------+------+----------+
//	| 1  |  1   | 1 to 255 |  1   | 1 to 255 |
//	+----+------+----------+------+----------+
type UserPassAuthenticator struct {
	Credentials CredentialStore
}

func (a *UserPassAuthenticator) Method() byte { return MethodUserPass }

// Authenticate reads the sub-negotiation request, validates it against the
// credential store, and writes the one-byte status reply.
func (a *UserPassAuthenticator) Authenticate(reader io.Reader, writer io.Writer) (string, error) {
	ver, err := readByte(reader)
	if err != nil {
		return "", err
	}
	if ver != authVersion {
		return "", &InvalidVersionError{Expected: authVersion, Got: ver}
	}

	uLen, err := readByte(reader)
	if err != nil {
		return "", err
	}
	uname := make([]byte, uLen)
	if err := readFull(reader, uname); err != nil {
		return "", err
	}

	pLen, err := readByte(reader)
	if err != nil {
		return "", err
	}
	passwd := make([]byte, pLen)
	if err := readFull(reader, passwd); err != nil {
		return "", err
	}

	if !a.Credentials.Valid(string(uname), string(passwd)) {
		if err := writeAll(writer, []byte{authVersion, authStatusFailure}); err != nil {
			return "", err
		}
		return "", ErrInvalidCredentials
	}

	if err := writeAll(writer, []byte{authVersion, authStatusSuccess}); err != nil {
		return "", err
	}
	return string(uname), nil
}
