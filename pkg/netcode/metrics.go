package netcode

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics wires a Client's counters into a dedicated
// github.com/VictoriaMetrics/metrics.Set, rather than the global
// default set, so multiple clients in one process can each expose their
// own series (or be aggregated by the host). The zero value is not
// usable; construct with NewMetrics.
type Metrics struct {
	set *metrics.Set

	sent map[PacketType]*metrics.Counter
	recv map[PacketType]*metrics.Counter

	replayRejectedTotal *metrics.Counter
	cryptoFailedTotal   *metrics.Counter
	disallowedTotal     *metrics.Counter
	failoversTotal      *metrics.Counter

	state int32 // atomic, current ClientState
}

// NewMetrics creates a Metrics instance whose series are all prefixed
// with prefix (e.g. "netcode_client"). The series are exposed through the
// metrics.Set returned by Set, e.g. via Set().WritePrometheus.
func NewMetrics(prefix string) *Metrics {
	m := &Metrics{
		set:  metrics.NewSet(),
		sent: make(map[PacketType]*metrics.Counter, packetTypeCount),
		recv: make(map[PacketType]*metrics.Counter, packetTypeCount),
	}
	for k := PacketRequest; k < packetTypeCount; k++ {
		m.sent[k] = m.set.NewCounter(fmt.Sprintf(`%s_packets_sent_total{kind=%q}`, prefix, k.String()))
		m.recv[k] = m.set.NewCounter(fmt.Sprintf(`%s_packets_received_total{kind=%q}`, prefix, k.String()))
	}
	m.replayRejectedTotal = m.set.NewCounter(prefix + `_replay_rejected_total`)
	m.cryptoFailedTotal = m.set.NewCounter(prefix + `_crypto_failed_total`)
	m.disallowedTotal = m.set.NewCounter(prefix + `_disallowed_packets_total`)
	m.failoversTotal = m.set.NewCounter(prefix + `_failovers_total`)
	m.set.NewGauge(prefix+`_state`, func() float64 {
		return float64(atomic.LoadInt32(&m.state))
	})
	return m
}

// Set returns the underlying metrics.Set for the host to register with
// its exporter.
func (m *Metrics) Set() *metrics.Set { return m.set }

func (m *Metrics) packetSent(k PacketType) {
	if m == nil {
		return
	}
	if c, ok := m.sent[k]; ok {
		c.Inc()
	}
}

func (m *Metrics) packetReceived(k PacketType) {
	if m == nil {
		return
	}
	if c, ok := m.recv[k]; ok {
		c.Inc()
	}
}

func (m *Metrics) recvError(err error) {
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, ErrReplay):
		m.replayRejectedTotal.Inc()
	case errors.Is(err, ErrCrypto):
		m.cryptoFailedTotal.Inc()
	case errors.Is(err, ErrDisallowedPacketType):
		m.disallowedTotal.Inc()
	}
}

func (m *Metrics) failover() {
	if m == nil {
		return
	}
	m.failoversTotal.Inc()
}

func (m *Metrics) setState(s ClientState) {
	if m == nil {
		return
	}
	atomic.StoreInt32(&m.state, int32(s))
}
