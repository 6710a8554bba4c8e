package engine

import (
	"sync"

	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/orderbook"
)

// TradeEvent is published once per committed trade, after the matching
// section has released its lock.
type TradeEvent struct {
	Trade ledger.Trade
}

// OrderEvent is published whenever an order reaches a new externally
// visible state: accepted, partially filled, filled or cancelled.
type OrderEvent struct {
	Order orderbook.Order
}

// subscribers is the engine's subscription registry. Handlers are invoked
// synchronously in commit order and must not block; slow consumers buffer
// on their own side (the websocket hub does).
type subscribers struct {
	mu      sync.RWMutex
	nextID  int
	onTrade map[int]func(TradeEvent)
	onOrder map[int]func(OrderEvent)
}

func newSubscribers() subscribers {
	return subscribers{
		onTrade: make(map[int]func(TradeEvent)),
		onOrder: make(map[int]func(OrderEvent)),
	}
}

// SubscribeTrades registers a handler for committed trades. The returned
// cancel func removes it.
func (e *Engine) SubscribeTrades(handler func(TradeEvent)) (cancel func()) {
	s := &e.subs
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.onTrade[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onTrade, id)
	}
}

// SubscribeOrders registers a handler for order state changes. The returned
// cancel func removes it.
func (e *Engine) SubscribeOrders(handler func(OrderEvent)) (cancel func()) {
	s := &e.subs
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.onOrder[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onOrder, id)
	}
}

func (s *subscribers) publishTrade(ev TradeEvent) {
	s.mu.RLock()
	handlers := make([]func(TradeEvent), 0, len(s.onTrade))
	for _, h := range s.onTrade {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (s *subscribers) publishOrder(ev OrderEvent) {
	s.mu.RLock()
	handlers := make([]func(OrderEvent), 0, len(s.onOrder))
	for _, h := range s.onOrder {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
