// Package netcode implements the client half of a secure,
// connection-oriented datagram protocol layered on an unreliable
// transport. A client consumes an opaque connect token issued by a
// trusted backend, performs a challenge/response handshake with one of
// the servers listed in the token, and exchanges authenticated,
// replay-protected datagrams with it afterwards.
//
// The package does not open sockets itself; see [UDPLink] and [ChanLink]
// for the two bundled transports, or implement [LinkSender] /
// [LinkReceiver] for something else.
package netcode

import "golang.org/x/crypto/chacha20poly1305"

// Wire-visible sizes. See SPEC_FULL.md section 3 for the rationale.
const (
	// KeySize is the size in bytes of a client_to_server_key or
	// server_to_client_key.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the size in bytes of an AEAD nonce.
	NonceSize = chacha20poly1305.NonceSize

	// MacSize is the size in bytes of an AEAD authentication tag.
	MacSize = chacha20poly1305.Overhead

	// MaxServersPerConnect is the maximum number of server addresses a
	// connect token may list.
	MaxServersPerConnect = 32

	// PrivateDataSize is the fixed size in bytes of a connect token's
	// opaque, server-sealed private data blob.
	PrivateDataSize = 256

	// ChallengeTokenSize is the fixed cleartext size in bytes of a
	// challenge token, before AEAD framing.
	ChallengeTokenSize = 300

	// ConnectTokenSize is the exact byte length of a serialized connect
	// token. Parsing rejects any blob of a different length.
	ConnectTokenSize = 2048

	// MaxPacketSize is the largest payload a Payload packet may carry.
	MaxPacketSize = 1200

	// MaxPktBufSize is the largest a serialized packet can be after
	// framing and AEAD sealing.
	MaxPktBufSize = 1300

	// ReplayWindowSize is the default width of the replay window, in
	// sequence numbers.
	ReplayWindowSize = 256

	// PacketSendRateSec is the default minimum number of seconds between
	// periodic (handshake/keep-alive) sends.
	PacketSendRateSec = 0.1

	// DefaultNumDisconnectPackets is the default number of redundant
	// disconnect packets sent by Client.Disconnect.
	DefaultNumDisconnectPackets = 10
)
