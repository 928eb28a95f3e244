package netcode

import (
	"encoding/binary"
	"net/netip"
)

// Offsets into a serialized connect token. Mirrors the Off* convention
// used by the packet formats in the pack's protocol codecs.
const (
	tokOffProtocolID      = 0
	tokOffCreateTimestamp = tokOffProtocolID + 8
	tokOffExpireTimestamp = tokOffCreateTimestamp + 8
	tokOffNonce           = tokOffExpireTimestamp + 8
	tokOffPrivateData     = tokOffNonce + NonceSize
	tokOffTimeoutSeconds  = tokOffPrivateData + PrivateDataSize
	tokOffAddrCount       = tokOffTimeoutSeconds + 4
	tokOffAddrs           = tokOffAddrCount + 1
	tokAddrEntrySize      = 1 + 16 + 2 // family + address bytes + port
	tokOffClientKey       = tokOffAddrs + MaxServersPerConnect*tokAddrEntrySize
	tokOffServerKey       = tokOffClientKey + KeySize
	tokUsedSize           = tokOffServerKey + KeySize
)

func init() {
	if tokUsedSize > ConnectTokenSize {
		panic("netcode: connect token layout overflows ConnectTokenSize")
	}
}

const (
	addrFamilyV4 = 4
	addrFamilyV6 = 6
)

// Token is a parsed connect token. See SPEC_FULL.md section 3 for field
// semantics.
type Token struct {
	ProtocolID      uint64
	CreateTimestamp int64
	ExpireTimestamp int64
	Nonce           [NonceSize]byte
	PrivateData     [PrivateDataSize]byte
	TimeoutSeconds  int32
	ServerAddresses []netip.AddrPort
	ClientKey       [KeySize]byte
	ServerKey       [KeySize]byte
}

// ParseToken parses a serialized connect token. It returns
// ErrSizeMismatch if b is not exactly ConnectTokenSize bytes, and
// ErrInvalidToken (wrapped with more context) for any other malformed
// field.
func ParseToken(b []byte) (*Token, error) {
	if len(b) != ConnectTokenSize {
		return nil, wrapf("parse token", ErrSizeMismatch)
	}

	t := &Token{}
	t.ProtocolID = binary.BigEndian.Uint64(b[tokOffProtocolID:])
	t.CreateTimestamp = int64(binary.BigEndian.Uint64(b[tokOffCreateTimestamp:]))
	t.ExpireTimestamp = int64(binary.BigEndian.Uint64(b[tokOffExpireTimestamp:]))
	copy(t.Nonce[:], b[tokOffNonce:])
	copy(t.PrivateData[:], b[tokOffPrivateData:])
	t.TimeoutSeconds = int32(binary.BigEndian.Uint32(b[tokOffTimeoutSeconds:]))

	n := int(b[tokOffAddrCount])
	if n == 0 || n > MaxServersPerConnect {
		return nil, wrapf("parse token", ErrInvalidToken)
	}
	t.ServerAddresses = make([]netip.AddrPort, 0, n)
	for i := 0; i < n; i++ {
		off := tokOffAddrs + i*tokAddrEntrySize
		addr, ok := decodeAddr(b[off : off+tokAddrEntrySize])
		if !ok {
			return nil, wrapf("parse token", ErrInvalidToken)
		}
		t.ServerAddresses = append(t.ServerAddresses, addr)
	}

	copy(t.ClientKey[:], b[tokOffClientKey:])
	copy(t.ServerKey[:], b[tokOffServerKey:])
	return t, nil
}

// Bytes serializes t back into a ConnectTokenSize-length blob. It is the
// inverse of ParseToken and is primarily useful for tests and for
// backends that want to build tokens using the same layout this client
// expects.
func (t *Token) Bytes() []byte {
	b := make([]byte, ConnectTokenSize)
	binary.BigEndian.PutUint64(b[tokOffProtocolID:], t.ProtocolID)
	binary.BigEndian.PutUint64(b[tokOffCreateTimestamp:], uint64(t.CreateTimestamp))
	binary.BigEndian.PutUint64(b[tokOffExpireTimestamp:], uint64(t.ExpireTimestamp))
	copy(b[tokOffNonce:], t.Nonce[:])
	copy(b[tokOffPrivateData:], t.PrivateData[:])
	binary.BigEndian.PutUint32(b[tokOffTimeoutSeconds:], uint32(t.TimeoutSeconds))

	b[tokOffAddrCount] = byte(len(t.ServerAddresses))
	for i, addr := range t.ServerAddresses {
		off := tokOffAddrs + i*tokAddrEntrySize
		encodeAddr(b[off:off+tokAddrEntrySize], addr)
	}

	copy(b[tokOffClientKey:], t.ClientKey[:])
	copy(b[tokOffServerKey:], t.ServerKey[:])
	return b
}

// HandshakeBudget returns the number of seconds the token allows for a
// full handshake before it is considered expired.
func (t *Token) HandshakeBudget() float64 {
	return float64(t.ExpireTimestamp - t.CreateTimestamp)
}

func decodeAddr(b []byte) (netip.AddrPort, bool) {
	port := binary.BigEndian.Uint16(b[17:19])
	switch b[0] {
	case addrFamilyV4:
		var a [4]byte
		copy(a[:], b[1:5])
		return netip.AddrPortFrom(netip.AddrFrom4(a), port), true
	case addrFamilyV6:
		var a [16]byte
		copy(a[:], b[1:17])
		return netip.AddrPortFrom(netip.AddrFrom16(a), port), true
	default:
		return netip.AddrPort{}, false
	}
}

func encodeAddr(b []byte, addr netip.AddrPort) {
	a := addr.Addr()
	if a.Is4() {
		b[0] = addrFamilyV4
		a4 := a.As4()
		copy(b[1:5], a4[:])
	} else {
		b[0] = addrFamilyV6
		a16 := a.As16()
		copy(b[1:17], a16[:])
	}
	binary.BigEndian.PutUint16(b[17:19], addr.Port())
}
