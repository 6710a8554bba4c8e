package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fractionfi/bondcore/pkg/core/orderbook"
)

// Trade is one executed match. Immutable once appended; the only later
// mutation is TxHash, written by settlement reconciliation.
type Trade struct {
	ID           uuid.UUID      `json:"id"`
	InstrumentID uuid.UUID      `json:"instrumentId"`
	BuyOrderID   uuid.UUID      `json:"buyOrderId"`
	SellOrderID  uuid.UUID      `json:"sellOrderId"`
	Buyer        common.Address `json:"buyer"`
	Seller       common.Address `json:"seller"`

	// Price is the maker's resting price in cents, never the aggressor's
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`

	// TakerSide is the aggressor's side
	TakerSide orderbook.Side `json:"takerSide"`

	// Seq is assigned on append, monotonic per instrument
	Seq uint64 `json:"seq"`

	ExecutedAt int64  `json:"executedAt"` // Unix milliseconds
	TxHash     string `json:"txHash,omitempty"`
}

// Notional returns price × quantity in cents.
func (t *Trade) Notional() int64 {
	return t.Price * t.Quantity
}

// Involves reports whether the wallet was buyer or seller.
func (t *Trade) Involves(wallet common.Address) bool {
	return t.Buyer == wallet || t.Seller == wallet
}

// Store persists trades. Implemented by pkg/storage; nil disables
// persistence.
type Store interface {
	SaveTrade(*Trade) error
}

// Filter selects trades for Query. Zero values mean "no constraint".
type Filter struct {
	InstrumentID uuid.UUID
	Wallet       common.Address
	Since        int64 // Unix milliseconds, inclusive
	Limit        int
}

// Ledger is the append-only record of executed trades and the single source
// of truth for history, portfolio replay and market data.
type Ledger struct {
	mu           sync.RWMutex
	all          []*Trade
	byInstrument map[uuid.UUID][]*Trade
	byID         map[uuid.UUID]*Trade
	seqs         map[uuid.UUID]uint64
	store        Store
	log          *zap.SugaredLogger
}

// New creates an empty ledger. store may be nil.
func New(store Store, log *zap.SugaredLogger) *Ledger {
	return &Ledger{
		byInstrument: make(map[uuid.UUID][]*Trade),
		byID:         make(map[uuid.UUID]*Trade),
		seqs:         make(map[uuid.UUID]uint64),
		store:        store,
		log:          log,
	}
}

// Append assigns the trade its per-instrument sequence number and records
// it. A malformed trade means the matching algorithm itself is broken, so it
// panics instead of returning an error.
func (l *Ledger) Append(t *Trade) {
	if err := validate(t); err != nil {
		panic(fmt.Sprintf("ledger: malformed trade %s: %v", t.ID, err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seqs[t.InstrumentID]++
	t.Seq = l.seqs[t.InstrumentID]

	l.all = append(l.all, t)
	l.byInstrument[t.InstrumentID] = append(l.byInstrument[t.InstrumentID], t)
	l.byID[t.ID] = t

	if l.store != nil {
		if err := l.store.SaveTrade(t); err != nil {
			// In-memory state stays authoritative for this process; the
			// store is catch-up state for the next start.
			l.log.Errorw("trade_persist_failed", "trade", t.ID, "err", err)
		}
	}
}

func validate(t *Trade) error {
	if t == nil {
		return fmt.Errorf("nil trade")
	}
	if t.ID == uuid.Nil || t.InstrumentID == uuid.Nil {
		return fmt.Errorf("missing identifiers")
	}
	if t.BuyOrderID == uuid.Nil || t.SellOrderID == uuid.Nil {
		return fmt.Errorf("missing order references")
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("non-positive quantity %d", t.Quantity)
	}
	if t.Price <= 0 {
		return fmt.Errorf("non-positive price %d", t.Price)
	}
	return nil
}

// Query returns trades matching the filter, newest first.
func (l *Ledger) Query(f Filter) []*Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.all
	if f.InstrumentID != uuid.Nil {
		src = l.byInstrument[f.InstrumentID]
	}

	out := make([]*Trade, 0)
	for i := len(src) - 1; i >= 0; i-- {
		t := src[i]
		if f.Wallet != (common.Address{}) && !t.Involves(f.Wallet) {
			continue
		}
		if f.Since > 0 && t.ExecutedAt < f.Since {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// TradesFor returns a copy of an instrument's trades in append order.
func (l *Ledger) TradesFor(instrumentID uuid.UUID) []*Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.byInstrument[instrumentID]
	out := make([]*Trade, len(src))
	copy(out, src)
	return out
}

// All returns every trade in append order.
func (l *Ledger) All() []*Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Trade, len(l.all))
	copy(out, l.all)
	return out
}

// Len returns the total number of trades.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.all)
}

// SetTxHash records the settlement transaction hash for a committed trade.
// Settlement is eventually consistent against the ledger; economic fields
// are never touched.
func (l *Ledger) SetTxHash(id uuid.UUID, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("trade %s not found", id)
	}
	t.TxHash = hash

	if l.store != nil {
		if err := l.store.SaveTrade(t); err != nil {
			return fmt.Errorf("persist trade %s: %w", id, err)
		}
	}
	return nil
}

// Load hydrates the ledger from persisted trades at startup. Trades are
// reordered by (instrument, seq) so replay is deterministic.
func (l *Ledger) Load(trades []*Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := make([]*Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ExecutedAt != sorted[j].ExecutedAt {
			return sorted[i].ExecutedAt < sorted[j].ExecutedAt
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	for _, t := range sorted {
		l.all = append(l.all, t)
		l.byInstrument[t.InstrumentID] = append(l.byInstrument[t.InstrumentID], t)
		l.byID[t.ID] = t
		if t.Seq > l.seqs[t.InstrumentID] {
			l.seqs[t.InstrumentID] = t.Seq
		}
	}
}
