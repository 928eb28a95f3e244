package netcode

import (
	"bytes"
	"testing"
)

func testKey() [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestRequestPacketRoundTrip(t *testing.T) {
	key := testKey()
	want := &RequestPacket{
		ProtocolID:      0x1122334455667788,
		ExpireTimestamp: 1000,
	}
	for i := range want.Nonce {
		want.Nonce[i] = byte(i)
	}
	for i := range want.PrivateData {
		want.PrivateData[i] = byte(i * 3)
	}

	var buf [MaxPktBufSize]byte
	n, err := WritePacket(buf[:0], want, 0, key, want.ProtocolID)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	replay := newReplayWindow()
	got, err := ReadPacket(buf[:n], want.ProtocolID, 500, key, &replay, ClientAllowedMask|maskBit(PacketRequest))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rp, ok := got.(*RequestPacket)
	if !ok {
		t.Fatalf("got %T, want *RequestPacket", got)
	}
	if *rp != *want {
		t.Error("round-tripped request packet does not match")
	}
}

func TestRequestPacketExpired(t *testing.T) {
	key := testKey()
	p := &RequestPacket{ProtocolID: 1, ExpireTimestamp: 100}
	var buf [MaxPktBufSize]byte
	n, err := WritePacket(buf[:0], p, 0, key, p.ProtocolID)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	replay := newReplayWindow()
	if _, err := ReadPacket(buf[:n], p.ProtocolID, 200, key, &replay, ClientAllowedMask|maskBit(PacketRequest)); err == nil {
		t.Error("expected expired request packet to be rejected")
	}
}

func TestEncryptedPacketRoundTrip(t *testing.T) {
	key := testKey()
	var allowAll packetMask
	for k := PacketRequest; k < packetTypeCount; k++ {
		allowAll |= maskBit(k)
	}
	cases := []Packet{
		&DeniedPacket{Reason: 7},
		&ChallengePacket{Sequence: 42},
		&ResponsePacket{Sequence: 42},
		&KeepAlivePacket{ClientID: 0xabcd, MaxClients: 16},
		&PayloadPacket{Data: []byte("hello world")},
		&DisconnectPacket{},
	}
	for _, want := range cases {
		var buf [MaxPktBufSize]byte
		n, err := WritePacket(buf[:0], want, 7, key, 99)
		if err != nil {
			t.Fatalf("%T: write: %v", want, err)
		}
		replay := newReplayWindow()
		got, err := ReadPacket(buf[:n], 99, 0, key, &replay, allowAll)
		if err != nil {
			t.Fatalf("%T: read: %v", want, err)
		}
		if pp, ok := want.(*PayloadPacket); ok {
			gp := got.(*PayloadPacket)
			if !bytes.Equal(pp.Data, gp.Data) {
				t.Errorf("payload mismatch: got %q, want %q", gp.Data, pp.Data)
			}
			continue
		}
		if got.Type() != want.Type() {
			t.Errorf("type mismatch: got %v, want %v", got.Type(), want.Type())
		}
	}
}

func TestReadPacketRejectsDisallowedKind(t *testing.T) {
	key := testKey()
	var buf [MaxPktBufSize]byte
	n, err := WritePacket(buf[:0], &DisconnectPacket{}, 0, key, 1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	replay := newReplayWindow()
	mask := ClientAllowedMask &^ maskBit(PacketDisconnect)
	if _, err := ReadPacket(buf[:n], 1, 0, key, &replay, mask); err == nil {
		t.Error("expected disallowed packet kind to be rejected")
	}
}

func TestReadPacketRejectsBadKey(t *testing.T) {
	key := testKey()
	var wrongKey [KeySize]byte
	copy(wrongKey[:], key[:])
	wrongKey[0] ^= 0xff

	var buf [MaxPktBufSize]byte
	n, err := WritePacket(buf[:0], &KeepAlivePacket{}, 0, key, 1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	replay := newReplayWindow()
	if _, err := ReadPacket(buf[:n], 1, 0, wrongKey, &replay, ClientAllowedMask); err == nil {
		t.Error("expected packet sealed with a different key to fail to decrypt")
	}
}

func TestReadPacketRejectsReplay(t *testing.T) {
	key := testKey()
	var buf [MaxPktBufSize]byte
	n, err := WritePacket(buf[:0], &KeepAlivePacket{}, 3, key, 1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	replay := newReplayWindow()
	if _, err := ReadPacket(buf[:n], 1, 0, key, &replay, ClientAllowedMask); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := ReadPacket(buf[:n], 1, 0, key, &replay, ClientAllowedMask); err == nil {
		t.Error("expected second read of the same sequence to be rejected as a replay")
	}
}

func TestSequenceLenGrowsWithMagnitude(t *testing.T) {
	cases := []struct {
		seq  uint64
		want int
	}{
		{0, 1},
		{255, 1},
		{256, 2},
		{1 << 16, 3},
		{1 << 56, 8},
	}
	for _, c := range cases {
		if got := sequenceLen(c.seq); got != c.want {
			t.Errorf("sequenceLen(%d) = %d, want %d", c.seq, got, c.want)
		}
	}
}

func FuzzReadPacket(f *testing.F) {
	key := testKey()
	var buf [MaxPktBufSize]byte
	n, _ := WritePacket(buf[:0], &KeepAlivePacket{ClientID: 1, MaxClients: 4}, 1, key, 1)
	f.Add(buf[:n])
	f.Add([]byte{})
	f.Add([]byte{0x00})

	f.Fuzz(func(t *testing.T, b []byte) {
		replay := newReplayWindow()
		// ReadPacket must never panic on arbitrary input, no matter how
		// malformed.
		ReadPacket(b, 1, 0, key, &replay, ClientAllowedMask|maskBit(PacketRequest))
	})
}
