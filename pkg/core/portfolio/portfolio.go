package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fractionfi/bondcore/pkg/core/ledger"
)

// ErrInsufficientHoldings is returned when a sell exceeds the owned
// quantity. The engine checks this at order acceptance, so hitting it during
// trade application indicates a matching bug upstream.
var ErrInsufficientHoldings = errors.New("insufficient holdings")

// Perspective selects which party of a trade a holding update is for.
type Perspective int8

const (
	Buyer Perspective = iota
	Seller
)

// Holding is derived per (owner, bond) state: quantity and weighted-average
// cost basis. Always reconstructable by replaying the trade ledger.
type Holding struct {
	Owner        common.Address  `json:"owner"`
	InstrumentID uuid.UUID       `json:"instrumentId"`
	Quantity     int64           `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avgCost"` // cents per unit
	UpdatedAt    int64           `json:"updatedAt"`
}

// Store persists holdings. Implemented by pkg/storage; nil disables
// persistence.
type Store interface {
	SaveHolding(*Holding) error
	DeleteHolding(owner common.Address, instrumentID uuid.UUID) error
}

// Accounts maintains holdings and realized P&L for every wallet.
//
// Updates must be applied in ledger sequence order per wallet; the engine
// guarantees that by applying trades inside the instrument's serialized
// matching section.
type Accounts struct {
	mu       sync.RWMutex
	holdings map[common.Address]map[uuid.UUID]*Holding
	realized map[common.Address]decimal.Decimal
	store    Store
}

// NewAccounts creates empty accounting state. store may be nil.
func NewAccounts(store Store) *Accounts {
	return &Accounts{
		holdings: make(map[common.Address]map[uuid.UUID]*Holding),
		realized: make(map[common.Address]decimal.Decimal),
		store:    store,
	}
}

// ApplyTrade updates both parties of a trade, buyer first.
func (a *Accounts) ApplyTrade(t *ledger.Trade) error {
	if err := a.Apply(t, Buyer); err != nil {
		return err
	}
	return a.Apply(t, Seller)
}

// Apply updates one party's holding for a trade.
//
// Buys recompute the weighted-average cost; sells reduce quantity, leave the
// average cost untouched and record realized P&L as
// (price − avgCost) × quantity. A holding that reaches zero quantity is
// pruned.
func (a *Accounts) Apply(t *ledger.Trade, p Perspective) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p == Buyer {
		a.applyBuy(t)
		return nil
	}
	return a.applySell(t)
}

func (a *Accounts) applyBuy(t *ledger.Trade) {
	h := a.holding(t.Buyer, t.InstrumentID)

	oldQty := decimal.NewFromInt(h.Quantity)
	qty := decimal.NewFromInt(t.Quantity)
	price := decimal.NewFromInt(t.Price)
	newQty := oldQty.Add(qty)

	// new_avg = (old_qty·old_avg + qty·price) / new_qty
	h.AvgCost = oldQty.Mul(h.AvgCost).Add(qty.Mul(price)).Div(newQty)
	h.Quantity += t.Quantity
	h.UpdatedAt = t.ExecutedAt

	a.persist(h)
}

func (a *Accounts) applySell(t *ledger.Trade) error {
	h := a.holding(t.Seller, t.InstrumentID)
	if t.Quantity > h.Quantity {
		return fmt.Errorf("%w: sell %d exceeds held %d", ErrInsufficientHoldings, t.Quantity, h.Quantity)
	}

	price := decimal.NewFromInt(t.Price)
	qty := decimal.NewFromInt(t.Quantity)
	pnl := price.Sub(h.AvgCost).Mul(qty)
	a.realized[t.Seller] = a.realized[t.Seller].Add(pnl)

	h.Quantity -= t.Quantity
	h.UpdatedAt = t.ExecutedAt

	if h.Quantity == 0 {
		delete(a.holdings[t.Seller], t.InstrumentID)
		if a.store != nil {
			if err := a.store.DeleteHolding(t.Seller, t.InstrumentID); err != nil {
				return fmt.Errorf("delete holding: %w", err)
			}
		}
		return nil
	}

	a.persist(h)
	return nil
}

// holding returns the live holding record, creating it if absent.
// Assumes lock is held.
func (a *Accounts) holding(owner common.Address, instrumentID uuid.UUID) *Holding {
	byBond, ok := a.holdings[owner]
	if !ok {
		byBond = make(map[uuid.UUID]*Holding)
		a.holdings[owner] = byBond
	}
	h, ok := byBond[instrumentID]
	if !ok {
		h = &Holding{Owner: owner, InstrumentID: instrumentID, AvgCost: decimal.Zero}
		byBond[instrumentID] = h
	}
	return h
}

func (a *Accounts) persist(h *Holding) {
	if a.store == nil {
		return
	}
	// Persistence errors do not invalidate in-memory state; holdings are
	// re-derivable from the trade ledger at next start.
	_ = a.store.SaveHolding(h)
}

// Quantity returns the held quantity for (owner, bond), 0 if none.
func (a *Accounts) Quantity(owner common.Address, instrumentID uuid.UUID) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if h, ok := a.holdings[owner][instrumentID]; ok {
		return h.Quantity
	}
	return 0
}

// Holdings returns copies of all non-zero holdings for a wallet, ordered by
// instrument id for stable output.
func (a *Accounts) Holdings(owner common.Address) []Holding {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Holding, 0, len(a.holdings[owner]))
	for _, h := range a.holdings[owner] {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstrumentID.String() < out[j].InstrumentID.String()
	})
	return out
}

// RealizedPnL returns cumulative realized profit/loss for a wallet in cents.
func (a *Accounts) RealizedPnL(owner common.Address) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.realized[owner]
}

// Load hydrates holdings from persisted state at startup.
func (a *Accounts) Load(holdings []*Holding) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, h := range holdings {
		byBond, ok := a.holdings[h.Owner]
		if !ok {
			byBond = make(map[uuid.UUID]*Holding)
			a.holdings[h.Owner] = byBond
		}
		byBond[h.InstrumentID] = h
	}
}

// Replay builds fresh accounting state from a trade sequence. Replaying the
// full ledger from empty state must yield the same holdings as the
// incrementally maintained state.
func Replay(trades []*ledger.Trade) (*Accounts, error) {
	a := NewAccounts(nil)
	for _, t := range trades {
		if err := a.ApplyTrade(t); err != nil {
			return nil, fmt.Errorf("replay trade %s: %w", t.ID, err)
		}
	}
	return a, nil
}

// Snapshot returns all holdings keyed by owner then instrument, for
// replay-consistency checks.
func (a *Accounts) Snapshot() map[common.Address]map[uuid.UUID]Holding {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[common.Address]map[uuid.UUID]Holding, len(a.holdings))
	for owner, byBond := range a.holdings {
		if len(byBond) == 0 {
			continue
		}
		m := make(map[uuid.UUID]Holding, len(byBond))
		for id, h := range byBond {
			m[id] = *h
		}
		out[owner] = m
	}
	return out
}
