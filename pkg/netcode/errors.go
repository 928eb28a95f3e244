package netcode

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to test for a specific kind; packet-level
// errors are wrapped with context via fmt.Errorf("...: %w", ...).
var (
	// ErrSizeMismatch is returned when a buffer is not the expected size
	// for what it claims to be (a connect token, a packet, a payload).
	ErrSizeMismatch = errors.New("netcode: size mismatch")

	// ErrUnknownPacketType is returned when a packet's type tag is not
	// one of the seven recognized kinds.
	ErrUnknownPacketType = errors.New("netcode: unknown packet type")

	// ErrDisallowedPacketType is returned when a packet's kind is not
	// permitted by the caller-supplied allow mask.
	ErrDisallowedPacketType = errors.New("netcode: disallowed packet type")

	// ErrCrypto is returned when a packet fails to decrypt or verify.
	ErrCrypto = errors.New("netcode: crypto")

	// ErrReplay is returned when a sequence number is rejected by the
	// replay window, either because it was seen before or because it
	// falls too far behind the highest accepted sequence.
	ErrReplay = errors.New("netcode: replay")

	// ErrInvalidToken is returned when a connect token fails to parse for
	// reasons other than a length mismatch.
	ErrInvalidToken = errors.New("netcode: invalid token")

	// ErrTokenExpired is returned by the packet codec when a Request
	// packet's embedded expire timestamp has already passed.
	ErrTokenExpired = errors.New("netcode: token expired")
)

// wrapf is a small helper kept consistent with the rest of the package so
// every returned error carries an operation-scoped prefix.
func wrapf(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("netcode: %s: %w", op, err)
}
