// Package privacy derives the pseudonymous respondent identifier and the
// masked network origin stored with each response. Neither function keeps
// its raw input.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"net/netip"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Placeholder is stored when the origin cannot be parsed.
const Placeholder = "***.***.***.***"

const (
	hashInfo = "coursepulse respondent hash v1"
	hashLen  = 16 // bytes; 32 hex chars
)

// Codec computes respondent hashes with a key derived from a secret salt.
type Codec struct {
	key []byte
}

// NewCodec derives the HMAC key from salt. An empty salt is rejected so
// hashes are never computable from public inputs alone.
func NewCodec(salt string) (*Codec, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, errors.New("privacy: salt is required")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(salt), nil, []byte(hashInfo)), key); err != nil {
		return nil, err
	}
	return &Codec{key: key}, nil
}

// RespondentHash is deterministic for a (session, course) pair and distinct
// across pairs. The length-prefixed encoding keeps ("ab","c") and ("a","bc")
// apart.
func (c *Codec) RespondentHash(sessionID, courseID string) string {
	m := hmac.New(sha256.New, c.key)
	writeField(m, courseID)
	writeField(m, sessionID)
	return hex.EncodeToString(m.Sum(nil)[:hashLen])
}

func writeField(w io.Writer, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	_, _ = w.Write(n[:])
	_, _ = io.WriteString(w, s)
}

// MaskIP zeroes host bits: IPv4 keeps its /24, IPv6 its /48. It accepts a
// bare address, host:port, a bracketed IPv6 literal or a forwarded-for chain
// (the first hop wins).
func MaskIP(raw string) string {
	addr, ok := parseOrigin(raw)
	if !ok {
		return Placeholder
	}
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return Placeholder
	}
	return p.Addr().String()
}

func parseOrigin(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" || strings.EqualFold(s, "unknown") {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().WithZone("").Unmap(), true
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}
