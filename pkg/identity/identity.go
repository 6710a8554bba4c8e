package identity

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// The wallet address string is the sole user identity. The engine treats any
// well-formed address as authorized to act for that identity; there is no
// signature verification yet, which is a known gap to close before
// production use.

// Valid reports whether s is a well-formed wallet address.
func Valid(s string) bool {
	return common.IsHexAddress(s)
}

// Parse converts a wallet address string to its canonical form.
func Parse(s string) common.Address {
	return common.HexToAddress(s)
}

// Event is a discrete "identity changed" notification, replacing the
// mutate-a-shared-variable pattern of wallet connection callbacks.
type Event struct {
	Wallet    common.Address
	Connected bool
	At        int64 // Unix milliseconds
}

// Source supplies the current wallet identity and change notifications.
type Source interface {
	Current() (common.Address, bool)
	Subscribe(handler func(Event)) (cancel func())
}

// StaticSource is an in-process identity source: one current wallet, set
// explicitly. Suitable for the node's own operator identity and for tests.
type StaticSource struct {
	mu        sync.RWMutex
	wallet    common.Address
	connected bool
	nextID    int
	handlers  map[int]func(Event)
}

func NewStaticSource() *StaticSource {
	return &StaticSource{handlers: make(map[int]func(Event))}
}

func (s *StaticSource) Current() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet, s.connected
}

// SetCurrent switches the active identity and notifies subscribers.
func (s *StaticSource) SetCurrent(wallet common.Address) {
	s.mu.Lock()
	s.wallet = wallet
	s.connected = true
	handlers := s.snapshotHandlers()
	s.mu.Unlock()

	ev := Event{Wallet: wallet, Connected: true, At: time.Now().UnixMilli()}
	for _, h := range handlers {
		h(ev)
	}
}

// Disconnect clears the active identity and notifies subscribers.
func (s *StaticSource) Disconnect() {
	s.mu.Lock()
	wallet := s.wallet
	s.wallet = common.Address{}
	s.connected = false
	handlers := s.snapshotHandlers()
	s.mu.Unlock()

	ev := Event{Wallet: wallet, Connected: false, At: time.Now().UnixMilli()}
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers a handler for identity changes. The returned cancel
// func removes it.
func (s *StaticSource) Subscribe(handler func(Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// snapshotHandlers copies handlers for invocation outside the lock.
// Assumes lock is held.
func (s *StaticSource) snapshotHandlers() []func(Event) {
	out := make([]func(Event), 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}

var _ Source = (*StaticSource)(nil)
