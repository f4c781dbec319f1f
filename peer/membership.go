package peer

import (
	"sort"
	"sync"
	"time"

	"lanshare/pkg/protocol"
)

// AdmitResult is the outcome of Membership.Admit.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	AlreadyConnected
	Suppressed
)

type suppression struct {
	timer *time.Timer
	gen   uint64
}

// Membership is the connected-peer set together with the suppression window
// of recently departed peers. Both live under one lock so admission and
// departure for the same identity never interleave.
type Membership struct {
	mu         sync.Mutex
	peers      map[protocol.PeerAddress]struct{}
	suppressed map[protocol.PeerAddress]suppression
	window     time.Duration
	gen        uint64
	closed     bool
}

func NewMembership(window time.Duration) *Membership {
	return &Membership{
		peers:      make(map[protocol.PeerAddress]struct{}),
		suppressed: make(map[protocol.PeerAddress]suppression),
		window:     window,
	}
}

// Admit adds p unless it is suppressed. Admitting a connected peer is a no-op.
func (m *Membership) Admit(p protocol.PeerAddress) AdmitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.suppressed[p]; ok {
		return Suppressed
	}
	if _, ok := m.peers[p]; ok {
		return AlreadyConnected
	}
	m.peers[p] = struct{}{}
	return Admitted
}

// Leave removes p and suppresses it for the window. A repeated Leave restarts
// the window. It reports whether p was connected.
func (m *Membership) Leave(p protocol.PeerAddress) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, was := m.peers[p]
	delete(m.peers, p)
	if m.closed {
		return was
	}

	if old, ok := m.suppressed[p]; ok {
		old.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.suppressed[p] = suppression{
		timer: time.AfterFunc(m.window, func() { m.expire(p, gen) }),
		gen:   gen,
	}
	return was
}

// expire lifts a suppression unless a newer Leave replaced it.
func (m *Membership) expire(p protocol.PeerAddress, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.suppressed[p]; ok && s.gen == gen {
		delete(m.suppressed, p)
	}
}

func (m *Membership) IsSuppressed(p protocol.PeerAddress) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.suppressed[p]
	return ok
}

func (m *Membership) Contains(p protocol.PeerAddress) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[p]
	return ok
}

// Peers returns a sorted snapshot of the connected set.
func (m *Membership) Peers() []protocol.PeerAddress {
	m.mu.Lock()
	out := make([]protocol.PeerAddress, 0, len(m.peers))
	for p := range m.peers {
		out = append(out, p)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IP != out[j].IP {
			return out[i].IP < out[j].IP
		}
		return out[i].Port < out[j].Port
	})
	return out
}

func (m *Membership) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Close stops pending expiry timers and clears both sets.
func (m *Membership) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suppressed {
		s.timer.Stop()
	}
	m.suppressed = make(map[protocol.PeerAddress]suppression)
	m.peers = make(map[protocol.PeerAddress]struct{})
	m.closed = true
}
