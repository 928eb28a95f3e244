package netcode

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// PacketType identifies one of the seven wire packet kinds by the 4-bit
// type tag carried in the first byte of every packet.
type PacketType uint8

const (
	PacketRequest PacketType = iota
	PacketDenied
	PacketChallenge
	PacketResponse
	PacketKeepAlive
	PacketPayload
	PacketDisconnect

	packetTypeCount
)

func (k PacketType) String() string {
	switch k {
	case PacketRequest:
		return "request"
	case PacketDenied:
		return "denied"
	case PacketChallenge:
		return "challenge"
	case PacketResponse:
		return "response"
	case PacketKeepAlive:
		return "keep_alive"
	case PacketPayload:
		return "payload"
	case PacketDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// packetMask is a bitmap over PacketType values, used to restrict which
// kinds a given allowed_mask accepts.
type packetMask uint16

func maskBit(k PacketType) packetMask { return 1 << packetMask(k) }

// ClientAllowedMask is the allow mask used by a Client when decoding
// inbound packets. A client never accepts a Request or Response packet
// from the wire; it only ever sends those.
const ClientAllowedMask = packetMask(0) |
	maskBit(PacketDenied) |
	maskBit(PacketChallenge) |
	maskBit(PacketKeepAlive) |
	maskBit(PacketPayload) |
	maskBit(PacketDisconnect)

// Packet is any of the seven decoded packet kinds.
type Packet interface {
	Type() PacketType
}

type RequestPacket struct {
	ProtocolID      uint64
	ExpireTimestamp int64
	Nonce           [NonceSize]byte
	PrivateData     [PrivateDataSize]byte
}

func (RequestPacket) Type() PacketType { return PacketRequest }

type DeniedPacket struct {
	Reason uint8
}

func (DeniedPacket) Type() PacketType { return PacketDenied }

type ChallengePacket struct {
	Sequence uint64
	Token    [ChallengeTokenSize]byte
}

func (ChallengePacket) Type() PacketType { return PacketChallenge }

type ResponsePacket struct {
	Sequence uint64
	Token    [ChallengeTokenSize]byte
}

func (ResponsePacket) Type() PacketType { return PacketResponse }

type KeepAlivePacket struct {
	ClientID   uint64
	MaxClients uint32
}

func (KeepAlivePacket) Type() PacketType { return PacketKeepAlive }

// PayloadPacket carries an application payload. Data is never longer
// than MaxPacketSize.
type PayloadPacket struct {
	Data []byte
}

func (PayloadPacket) Type() PacketType { return PacketPayload }

type DisconnectPacket struct{}

func (DisconnectPacket) Type() PacketType { return PacketDisconnect }

const requestPacketSize = 1 + 8 + 8 + NonceSize + PrivateDataSize

// WritePacket serializes and, for every kind but Request, AEAD-seals p
// into dst, returning the number of bytes written. The packet is written
// from the start of dst's backing array, whatever len(dst) is, so cap(dst)
// must hold the whole packet including the tag (MaxPktBufSize is always
// sufficient). It does not mutate seq or
// any timer; the caller bumps those on success.
func WritePacket(dst []byte, p Packet, seq uint64, key [KeySize]byte, protocolID uint64) (int, error) {
	switch v := p.(type) {
	case *RequestPacket:
		if cap(dst) < requestPacketSize {
			return 0, wrapf("write request packet", ErrSizeMismatch)
		}
		dst = dst[:requestPacketSize]
		dst[0] = byte(PacketRequest)
		binary.BigEndian.PutUint64(dst[1:], v.ProtocolID)
		binary.BigEndian.PutUint64(dst[9:], uint64(v.ExpireTimestamp))
		copy(dst[17:17+NonceSize], v.Nonce[:])
		copy(dst[17+NonceSize:], v.PrivateData[:])
		return requestPacketSize, nil
	case *DeniedPacket:
		return sealedWrite(dst, PacketDenied, []byte{v.Reason}, seq, key, protocolID)
	case *ChallengePacket:
		var pt [8 + ChallengeTokenSize]byte
		binary.BigEndian.PutUint64(pt[:8], v.Sequence)
		copy(pt[8:], v.Token[:])
		return sealedWrite(dst, PacketChallenge, pt[:], seq, key, protocolID)
	case *ResponsePacket:
		var pt [8 + ChallengeTokenSize]byte
		binary.BigEndian.PutUint64(pt[:8], v.Sequence)
		copy(pt[8:], v.Token[:])
		return sealedWrite(dst, PacketResponse, pt[:], seq, key, protocolID)
	case *KeepAlivePacket:
		var pt [12]byte
		binary.BigEndian.PutUint64(pt[:8], v.ClientID)
		binary.BigEndian.PutUint32(pt[8:], v.MaxClients)
		return sealedWrite(dst, PacketKeepAlive, pt[:], seq, key, protocolID)
	case *PayloadPacket:
		if len(v.Data) > MaxPacketSize {
			return 0, wrapf("write payload packet", ErrSizeMismatch)
		}
		return sealedWrite(dst, PacketPayload, v.Data, seq, key, protocolID)
	case *DisconnectPacket:
		return sealedWrite(dst, PacketDisconnect, nil, seq, key, protocolID)
	default:
		return 0, wrapf("write packet", ErrUnknownPacketType)
	}
}

// ReadPacket parses and, for every kind but Request, authenticates and
// decrypts buf. For encrypted kinds, the replay window is consulted
// before the AEAD open so an already-rejected sequence never pays for
// decryption; on success the sequence is inserted into the window. now
// is the current time in seconds since the Unix epoch, used only to
// check a Request packet's token expiry. replay may be nil when reading
// a Request packet's enclosing caller has no use for one, but must be
// non-nil for any encrypted kind to be accepted by ReadPacket.
func ReadPacket(buf []byte, protocolID uint64, now int64, key [KeySize]byte, replay *replayWindow, allowed packetMask) (Packet, error) {
	if len(buf) < 1 {
		return nil, wrapf("read packet", ErrSizeMismatch)
	}

	prefix := buf[0]
	if prefix == byte(PacketRequest) {
		if len(buf) != requestPacketSize {
			return nil, wrapf("read request packet", ErrSizeMismatch)
		}
		p := &RequestPacket{
			ProtocolID:      binary.BigEndian.Uint64(buf[1:]),
			ExpireTimestamp: int64(binary.BigEndian.Uint64(buf[9:])),
		}
		copy(p.Nonce[:], buf[17:17+NonceSize])
		copy(p.PrivateData[:], buf[17+NonceSize:])
		if p.ProtocolID != protocolID {
			return nil, wrapf("read request packet", ErrInvalidToken)
		}
		if now >= p.ExpireTimestamp {
			return nil, wrapf("read request packet", ErrTokenExpired)
		}
		if allowed&maskBit(PacketRequest) == 0 {
			return nil, wrapf("read packet", ErrDisallowedPacketType)
		}
		return p, nil
	}

	kind := PacketType(prefix & 0x0f)
	seqLen := int(prefix >> 4)
	if kind == PacketRequest || kind >= packetTypeCount {
		return nil, wrapf("read packet", ErrUnknownPacketType)
	}
	if seqLen < 1 || seqLen > 8 {
		return nil, wrapf("read packet", ErrSizeMismatch)
	}
	if len(buf) < 1+seqLen+chacha20poly1305.Overhead {
		return nil, wrapf("read packet", ErrSizeMismatch)
	}
	seq := decodeSeq(buf[1:1+seqLen], seqLen)

	if replay == nil {
		return nil, wrapf("read packet", ErrReplay)
	}
	if err := replay.check(seq); err != nil {
		return nil, wrapf("read packet", err)
	}

	pt, err := sealedOpen(buf, prefix, seqLen, protocolID, key)
	if err != nil {
		return nil, err
	}

	if allowed&maskBit(kind) == 0 {
		return nil, wrapf("read packet", ErrDisallowedPacketType)
	}

	p, err := decodePayload(kind, pt)
	if err != nil {
		return nil, err
	}

	replay.accept(seq)
	return p, nil
}

func decodePayload(kind PacketType, pt []byte) (Packet, error) {
	switch kind {
	case PacketDenied:
		if len(pt) != 1 {
			return nil, wrapf("read denied packet", ErrSizeMismatch)
		}
		return &DeniedPacket{Reason: pt[0]}, nil
	case PacketChallenge:
		if len(pt) != 8+ChallengeTokenSize {
			return nil, wrapf("read challenge packet", ErrSizeMismatch)
		}
		p := &ChallengePacket{Sequence: binary.BigEndian.Uint64(pt[:8])}
		copy(p.Token[:], pt[8:])
		return p, nil
	case PacketResponse:
		if len(pt) != 8+ChallengeTokenSize {
			return nil, wrapf("read response packet", ErrSizeMismatch)
		}
		p := &ResponsePacket{Sequence: binary.BigEndian.Uint64(pt[:8])}
		copy(p.Token[:], pt[8:])
		return p, nil
	case PacketKeepAlive:
		if len(pt) != 12 {
			return nil, wrapf("read keep_alive packet", ErrSizeMismatch)
		}
		return &KeepAlivePacket{
			ClientID:   binary.BigEndian.Uint64(pt[:8]),
			MaxClients: binary.BigEndian.Uint32(pt[8:]),
		}, nil
	case PacketPayload:
		if len(pt) > MaxPacketSize {
			return nil, wrapf("read payload packet", ErrSizeMismatch)
		}
		data := make([]byte, len(pt))
		copy(data, pt)
		return &PayloadPacket{Data: data}, nil
	case PacketDisconnect:
		if len(pt) != 0 {
			return nil, wrapf("read disconnect packet", ErrSizeMismatch)
		}
		return &DisconnectPacket{}, nil
	default:
		return nil, wrapf("read packet", ErrUnknownPacketType)
	}
}

// sequenceLen returns the number of bytes needed to represent seq,
// between 1 and 8. Low sequence numbers serialize to fewer bytes, as in
// the reference protocol.
func sequenceLen(seq uint64) int {
	n := 1
	for s := seq >> 8; s != 0 && n < 8; s >>= 8 {
		n++
	}
	return n
}

func encodeSeq(dst []byte, seq uint64, n int) {
	for i := 0; i < n; i++ {
		dst[i] = byte(seq >> (8 * i))
	}
}

func decodeSeq(src []byte, n int) uint64 {
	var seq uint64
	for i := 0; i < n; i++ {
		seq |= uint64(src[i]) << (8 * i)
	}
	return seq
}

// sequenceNonce derives a 12-byte AEAD nonce from a 64-bit sequence
// number: four zero bytes followed by the sequence, big-endian. Every
// direction uses its own key, so reusing the same nonce space for both
// directions of a connection is safe.
func sequenceNonce(seq uint64) [NonceSize]byte {
	var n [NonceSize]byte
	binary.BigEndian.PutUint64(n[NonceSize-8:], seq)
	return n
}

// associatedData is the AEAD associated data for every encrypted packet:
// the protocol id and the cleartext prefix byte (type tag + sequence
// length).
func associatedData(protocolID uint64, prefix byte) []byte {
	var ad [9]byte
	binary.BigEndian.PutUint64(ad[:8], protocolID)
	ad[8] = prefix
	return ad[:]
}

func sealedWrite(dst []byte, kind PacketType, plaintext []byte, seq uint64, key [KeySize]byte, protocolID uint64) (int, error) {
	n := sequenceLen(seq)
	need := 1 + n + len(plaintext) + chacha20poly1305.Overhead
	if cap(dst) < need {
		return 0, wrapf("write packet", ErrSizeMismatch)
	}
	dst = dst[:1+n]
	dst[0] = byte(kind) | byte(n<<4)
	encodeSeq(dst[1:1+n], seq, n)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return 0, wrapf("write packet", err)
	}
	nonce := sequenceNonce(seq)
	ad := associatedData(protocolID, dst[0])
	sealed := aead.Seal(dst[1+n:1+n], nonce[:], plaintext, ad)
	return 1 + n + len(sealed), nil
}

func sealedOpen(buf []byte, prefix byte, seqLen int, protocolID uint64, key [KeySize]byte) ([]byte, error) {
	seq := decodeSeq(buf[1:1+seqLen], seqLen)
	ct := buf[1+seqLen:]

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, wrapf("read packet", err)
	}
	nonce := sequenceNonce(seq)
	ad := associatedData(protocolID, prefix)
	pt, err := aead.Open(nil, nonce[:], ct, ad)
	if err != nil {
		return nil, wrapf("read packet", ErrCrypto)
	}
	return pt, nil
}
