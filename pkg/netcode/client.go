package netcode

import (
	"math"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
)

// ClientState is the discriminant of the client state machine. Ordering
// matters: error states sort below Disconnected, which sorts below the
// pending states, which sort below Connected. IsError and friends rely
// on this ordering.
type ClientState int8

const (
	StateConnectTokenExpired ClientState = iota
	StateConnectionTimedOut
	StateConnectionRequestTimedOut
	StateChallengeResponseTimedOut
	StateConnectionDenied

	StateDisconnected

	StateSendingConnectionRequest
	StateSendingChallengeResponse

	StateConnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnectTokenExpired:
		return "connect_token_expired"
	case StateConnectionTimedOut:
		return "connection_timed_out"
	case StateConnectionRequestTimedOut:
		return "connection_request_timed_out"
	case StateChallengeResponseTimedOut:
		return "challenge_response_timed_out"
	case StateConnectionDenied:
		return "connection_denied"
	case StateDisconnected:
		return "disconnected"
	case StateSendingConnectionRequest:
		return "sending_connection_request"
	case StateSendingChallengeResponse:
		return "sending_challenge_response"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateChangeFunc is invoked before the client's state field is updated,
// in the order transitions occur. ctx is the ClientConfig's Context value
// as stored; the callback can mutate what it refers to only when Context
// holds a pointer.
type StateChangeFunc func(from, to ClientState, ctx any)

// ClientConfig configures a Client. The zero value is not directly
// usable; build one with NewClientConfig and the With* setters, mirroring
// the builder-style configuration the reference implementation exposes.
type ClientConfig struct {
	NumDisconnectPackets int
	PacketSendRate       float64
	OnStateChange        StateChangeFunc
	Context              any
	Logger               zerolog.Logger
	Metrics              *Metrics
}

// NewClientConfig returns a ClientConfig with every documented default
// from SPEC_FULL.md section 4.5.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		NumDisconnectPackets: DefaultNumDisconnectPackets,
		PacketSendRate:       PacketSendRateSec,
		Logger:               zerolog.Nop(),
	}
}

func (c *ClientConfig) WithNumDisconnectPackets(n int) *ClientConfig {
	c.NumDisconnectPackets = n
	return c
}

func (c *ClientConfig) WithPacketSendRate(seconds float64) *ClientConfig {
	c.PacketSendRate = seconds
	return c
}

func (c *ClientConfig) WithOnStateChange(cb StateChangeFunc) *ClientConfig {
	c.OnStateChange = cb
	return c
}

func (c *ClientConfig) WithContext(ctx any) *ClientConfig {
	c.Context = ctx
	return c
}

func (c *ClientConfig) WithLogger(l zerolog.Logger) *ClientConfig {
	c.Logger = l
	return c
}

func (c *ClientConfig) WithMetrics(m *Metrics) *ClientConfig {
	c.Metrics = m
	return c
}

// Client is the netcode client state machine. A single instance drives
// one connection attempt (and its failovers) to the servers listed in a
// connect token. It is not safe for concurrent use: the host must
// serialize calls to Tick, Send, and Disconnect, per SPEC_FULL.md
// section 5.
type Client struct {
	id    uint64
	state ClientState

	time            float64
	startTime       float64
	lastSendTime    float64
	lastReceiveTime float64

	serverAddrIdx int
	sequence      uint64

	challengeTokenSequence uint64
	challengeTokenData     [ChallengeTokenSize]byte

	token *Token

	replay replayWindow

	shouldDisconnect      bool
	shouldDisconnectState ClientState

	sendQueue [][]byte
	writer    writer

	cfg *ClientConfig
}

// New creates a client from a serialized connect token, using default
// configuration.
func New(tokenBytes []byte) (*Client, error) {
	return NewWithConfig(tokenBytes, NewClientConfig())
}

// NewWithConfig creates a client from a serialized connect token with a
// custom configuration. It fails with ErrSizeMismatch or ErrInvalidToken
// if tokenBytes does not parse.
func NewWithConfig(tokenBytes []byte, cfg *ClientConfig) (*Client, error) {
	token, err := ParseToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewClientConfig()
	}
	return &Client{
		state:                 StateDisconnected,
		lastSendTime:          math.Inf(-1),
		lastReceiveTime:       math.Inf(-1),
		shouldDisconnectState: StateDisconnected,
		token:                 token,
		writer:                newWriter(4 * MaxPktBufSize),
		cfg:                   cfg,
	}, nil
}

func (c *Client) setState(new ClientState) {
	c.cfg.Logger.Debug().Stringer("from", c.state).Stringer("to", new).Msg("client state changing")
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(c.state, new, c.cfg.Context)
	}
	c.state = new
	c.cfg.Metrics.setState(new)
}

// resetConnection reinitializes per-attempt state: timers, the replay
// window, and the outbound sequence counter. It is the common core of
// Connect and the full reset performed on handshake failure.
func (c *Client) resetConnection() {
	c.startTime = c.time
	c.lastSendTime = c.time - 1 // force an immediate send on the next tick
	c.lastReceiveTime = c.time
	c.shouldDisconnect = false
	c.shouldDisconnectState = StateDisconnected
	c.challengeTokenSequence = 0
	c.sequence = 0
	c.replay = newReplayWindow()
}

// reset fully resets the client to newState, including the server
// address cursor. Used for terminal states and explicit disconnects,
// never for failover (which keeps the advanced cursor).
func (c *Client) reset(newState ClientState) {
	c.startTime = 0
	c.serverAddrIdx = 0
	c.setState(newState)
	c.resetConnection()
}

// Connect prepares the client to connect to the server currently at
// serverAddrIdx. It performs no I/O; the request is sent on the next
// Tick.
func (c *Client) Connect() {
	c.resetConnection()
	c.setState(StateSendingConnectionRequest)
	c.cfg.Logger.Info().
		Stringer("server", c.ServerAddr()).
		Int("server_index", c.serverAddrIdx+1).
		Int("server_count", len(c.token.ServerAddresses)).
		Msg("client connecting to server")
}

// ID returns the client id assigned by the server, or 0 until Connected.
func (c *Client) ID() uint64 { return c.id }

// State returns the client's current state.
func (c *Client) State() ClientState { return c.state }

// ServerAddr returns the server address the client is currently
// attempting (or connected to).
func (c *Client) ServerAddr() netip.AddrPort {
	return c.token.ServerAddresses[c.serverAddrIdx]
}

func (c *Client) IsError() bool        { return c.state < StateDisconnected }
func (c *Client) IsPending() bool {
	return c.state == StateSendingConnectionRequest || c.state == StateSendingChallengeResponse
}
func (c *Client) IsConnected() bool    { return c.state == StateConnected }
func (c *Client) IsDisconnected() bool { return c.state == StateDisconnected }

// Tick advances the client's clock by deltaSeconds (wall-clock seconds
// since the previous Tick), drains the snapshot of packets present in
// receiver at entry, emits a periodic packet if one is due, updates the
// state machine, and returns the resulting state.
func (c *Client) Tick(deltaSeconds float64, receiver LinkReceiver) ClientState {
	c.time += deltaSeconds
	c.recvPackets(receiver)
	c.sendPackets()
	c.updateState()
	return c.state
}

// recvPackets drains exactly the snapshot of datagrams present in
// receiver at entry, not anything arriving mid-drain, bounding work per
// tick. A decoded Payload packet is handed back to receiver via PushRaw
// so the host observes it through the same Pop it reads raw datagrams
// from; the host is responsible for draining those before the queue
// sees more raw traffic, since a later tick decodes whatever's left in
// the queue as ciphertext.
func (c *Client) recvPackets(receiver LinkReceiver) {
	n := receiver.Len()
	now := time.Now().Unix()
	for i := 0; i < n; i++ {
		buf, ok := receiver.Pop()
		if !ok {
			break
		}
		if payload, ok := c.recvPacket(buf, now); ok {
			receiver.PushRaw(payload)
		}
	}
}

func (c *Client) recvPacket(buf []byte, now int64) ([]byte, bool) {
	if len(buf) <= 1 {
		return nil, false
	}
	pkt, err := ReadPacket(buf, c.token.ProtocolID, now, c.token.ServerKey, &c.replay, ClientAllowedMask)
	if err != nil {
		c.cfg.Logger.Debug().Err(err).Msg("client ignored packet")
		c.cfg.Metrics.recvError(err)
		return nil, false
	}
	c.cfg.Metrics.packetReceived(pkt.Type())
	return c.processPacket(pkt)
}

// processPacket applies the transition table from SPEC_FULL.md section
// 4.4. Combinations not listed there are ignored outright, including the
// last_receive_time bump: an (event, state) pair that doesn't match
// anything leaves the client's idle timer untouched. It returns the
// packet's payload and true only for a Payload packet accepted while
// Connected, for recvPackets to push back onto the receiver.
func (c *Client) processPacket(pkt Packet) ([]byte, bool) {
	matched := true
	var payload []byte
	var deliver bool
	switch p := pkt.(type) {
	case *DeniedPacket:
		switch c.state {
		case StateSendingConnectionRequest, StateSendingChallengeResponse:
			c.cfg.Logger.Error().Uint8("reason", p.Reason).Msg("client connection denied by server")
			c.shouldDisconnect = true
			c.shouldDisconnectState = StateConnectionDenied
		default:
			matched = false
		}
	case *ChallengePacket:
		if c.state == StateSendingConnectionRequest {
			c.challengeTokenSequence = p.Sequence
			c.challengeTokenData = p.Token
			c.setState(StateSendingChallengeResponse)
		} else {
			matched = false
		}
	case *KeepAlivePacket:
		switch c.state {
		case StateConnected:
		case StateSendingChallengeResponse:
			c.id = p.ClientID
			c.setState(StateConnected)
			c.cfg.Logger.Info().Uint64("client_id", c.id).Msg("client connected to server")
		default:
			matched = false
		}
	case *PayloadPacket:
		if c.state == StateConnected {
			payload, deliver = p.Data, true
		} else {
			matched = false
		}
	case *DisconnectPacket:
		if c.state == StateConnected {
			c.shouldDisconnect = true
			c.shouldDisconnectState = StateDisconnected
		} else {
			matched = false
		}
	default:
		matched = false
	}
	if matched {
		c.lastReceiveTime = c.time
	}
	return payload, deliver
}

func (c *Client) updateState() {
	expired := c.time-c.startTime >= c.token.HandshakeBudget()
	timedOut := c.token.TimeoutSeconds > 0 && c.lastReceiveTime+float64(c.token.TimeoutSeconds) < c.time

	var newState ClientState
	switch {
	case (c.state == StateSendingConnectionRequest || c.state == StateSendingChallengeResponse) && expired:
		c.cfg.Logger.Info().Msg("client connect failed: connect token expired")
		newState = StateConnectTokenExpired
	case c.shouldDisconnect:
		if c.failover() {
			return
		}
		newState = c.shouldDisconnectState
	case c.state == StateSendingConnectionRequest && timedOut:
		c.cfg.Logger.Info().Msg("client connect failed: connection request timed out")
		if c.failover() {
			return
		}
		newState = StateConnectionRequestTimedOut
	case c.state == StateSendingChallengeResponse && timedOut:
		c.cfg.Logger.Info().Msg("client connect failed: challenge response timed out")
		if c.failover() {
			return
		}
		newState = StateChallengeResponseTimedOut
	case c.state == StateConnected && timedOut:
		c.cfg.Logger.Info().Msg("client connection timed out")
		newState = StateConnectionTimedOut
	default:
		return
	}
	c.reset(newState)
}

// failover advances the server address cursor and restarts the
// handshake, reporting whether there was another server to try.
func (c *Client) failover() bool {
	if c.serverAddrIdx+1 >= len(c.token.ServerAddresses) {
		return false
	}
	c.serverAddrIdx++
	c.cfg.Metrics.failover()
	c.Connect()
	return true
}

func (c *Client) sendPackets() {
	if c.lastSendTime+c.cfg.PacketSendRate >= c.time {
		return
	}
	var pkt Packet
	switch c.state {
	case StateSendingConnectionRequest:
		pkt = &RequestPacket{
			ProtocolID:      c.token.ProtocolID,
			ExpireTimestamp: c.token.ExpireTimestamp,
			Nonce:           c.token.Nonce,
			PrivateData:     c.token.PrivateData,
		}
	case StateSendingChallengeResponse:
		pkt = &ResponsePacket{
			Sequence: c.challengeTokenSequence,
			Token:    c.challengeTokenData,
		}
	case StateConnected:
		pkt = &KeepAlivePacket{}
	default:
		return
	}
	if err := c.sendNetcodePacket(pkt); err != nil {
		c.cfg.Logger.Error().Err(err).Msg("client failed to send periodic packet")
	}
}

// sendNetcodePacket serializes and seals pkt, queuing it on the internal
// send queue drained by DrainSendQueue.
func (c *Client) sendNetcodePacket(pkt Packet) error {
	var stack [MaxPktBufSize]byte
	n, err := WritePacket(stack[:0], pkt, c.sequence, c.token.ClientKey, c.token.ProtocolID)
	if err != nil {
		return err
	}
	c.writer.append(stack[:n])
	c.sendQueue = append(c.sendQueue, c.writer.split())
	c.lastSendTime = c.time
	c.sequence++
	c.cfg.Metrics.packetSent(pkt.Type())
	return nil
}

// sendPacket serializes and seals pkt, pushing it directly to sender.
// Used for user payloads, which bypass the internal send queue.
func (c *Client) sendPacket(pkt Packet, sender LinkSender) error {
	var stack [MaxPktBufSize]byte
	n, err := WritePacket(stack[:0], pkt, c.sequence, c.token.ClientKey, c.token.ProtocolID)
	if err != nil {
		return err
	}
	c.writer.append(stack[:n])
	sender.Push(c.writer.split())
	c.lastSendTime = c.time
	c.sequence++
	c.cfg.Metrics.packetSent(pkt.Type())
	return nil
}

// DrainSendQueue moves any queued handshake, keep-alive, or disconnect
// packets to sender.
func (c *Client) DrainSendQueue(sender LinkSender) {
	for _, p := range c.sendQueue {
		sender.Push(p)
	}
	c.sendQueue = c.sendQueue[:0]
}

// Send seals buf as a Payload packet and pushes it to sender. It is a
// no-op if the client is not Connected, and fails with ErrSizeMismatch
// if buf is larger than MaxPacketSize.
func (c *Client) Send(buf []byte, sender LinkSender) error {
	if c.state != StateConnected {
		return nil
	}
	if len(buf) > MaxPacketSize {
		return wrapf("send", ErrSizeMismatch)
	}
	return c.sendPacket(&PayloadPacket{Data: buf}, sender)
}

// Disconnect enqueues NumDisconnectPackets redundant Disconnect packets
// and immediately resets the client to Disconnected. Unlike the deferred
// disconnect triggered by an inbound Disconnect packet, this is
// synchronous.
func (c *Client) Disconnect() {
	c.cfg.Logger.Debug().Int("count", c.cfg.NumDisconnectPackets).Msg("client sending disconnect packets")
	for i := 0; i < c.cfg.NumDisconnectPackets; i++ {
		if err := c.sendNetcodePacket(&DisconnectPacket{}); err != nil {
			c.cfg.Logger.Error().Err(err).Msg("client failed to send disconnect packet")
			break
		}
	}
	c.reset(StateDisconnected)
}
