package netcode

import (
	"net/netip"
	"testing"
)

func testToken(t *testing.T) *Token {
	t.Helper()
	tok := &Token{
		ProtocolID:      12345,
		CreateTimestamp: 1000,
		ExpireTimestamp: 1030,
		TimeoutSeconds:  5,
		ServerAddresses: []netip.AddrPort{
			netip.MustParseAddrPort("203.0.113.1:9000"),
			netip.MustParseAddrPort("[2001:db8::1]:9001"),
		},
	}
	for i := range tok.Nonce {
		tok.Nonce[i] = byte(i)
	}
	for i := range tok.PrivateData {
		tok.PrivateData[i] = byte(i)
	}
	for i := range tok.ClientKey {
		tok.ClientKey[i] = byte(i + 1)
	}
	for i := range tok.ServerKey {
		tok.ServerKey[i] = byte(i + 2)
	}
	return tok
}

func TestTokenRoundTrip(t *testing.T) {
	want := testToken(t)
	b := want.Bytes()
	if len(b) != ConnectTokenSize {
		t.Fatalf("serialized token is %d bytes, want %d", len(b), ConnectTokenSize)
	}

	got, err := ParseToken(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got.ProtocolID != want.ProtocolID ||
		got.CreateTimestamp != want.CreateTimestamp ||
		got.ExpireTimestamp != want.ExpireTimestamp ||
		got.TimeoutSeconds != want.TimeoutSeconds ||
		got.Nonce != want.Nonce ||
		got.PrivateData != want.PrivateData ||
		got.ClientKey != want.ClientKey ||
		got.ServerKey != want.ServerKey {
		t.Error("round-tripped token fields do not match")
	}
	if len(got.ServerAddresses) != len(want.ServerAddresses) {
		t.Fatalf("got %d server addresses, want %d", len(got.ServerAddresses), len(want.ServerAddresses))
	}
	for i := range want.ServerAddresses {
		if got.ServerAddresses[i] != want.ServerAddresses[i] {
			t.Errorf("server address %d: got %v, want %v", i, got.ServerAddresses[i], want.ServerAddresses[i])
		}
	}
}

func TestTokenHandshakeBudget(t *testing.T) {
	tok := testToken(t)
	if got, want := tok.HandshakeBudget(), float64(30); got != want {
		t.Errorf("HandshakeBudget() = %v, want %v", got, want)
	}
}

func TestParseTokenRejectsBadSize(t *testing.T) {
	if _, err := ParseToken(make([]byte, ConnectTokenSize-1)); err == nil {
		t.Error("expected undersized token to be rejected")
	}
}

func TestParseTokenRejectsZeroAddresses(t *testing.T) {
	tok := testToken(t)
	tok.ServerAddresses = nil
	b := tok.Bytes()
	if _, err := ParseToken(b); err == nil {
		t.Error("expected token with no server addresses to be rejected")
	}
}
