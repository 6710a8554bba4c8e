package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/marketdata"
	"github.com/fractionfi/bondcore/pkg/core/orderbook"
	"github.com/fractionfi/bondcore/pkg/core/portfolio"
	"github.com/fractionfi/bondcore/pkg/settlement"
	"github.com/fractionfi/bondcore/pkg/storage"
	"github.com/fractionfi/bondcore/pkg/util"
)

// ErrInvalidOrder is returned for malformed submissions: bad quantity or
// price, unknown instrument, missing owner. Rejected before any book
// mutation.
var ErrInvalidOrder = errors.New("invalid order")

// Request is an order submission.
type Request struct {
	InstrumentID uuid.UUID
	Owner        common.Address
	Side         orderbook.Side
	Type         orderbook.OrderType

	// Price is the limit price in cents; ignored for market orders
	Price    int64
	Quantity int64
}

// Engine routes orders to per-instrument books and drives the commit
// pipeline: match, ledger append, portfolio update, market data, then
// asynchronous settlement dispatch and event publication.
//
// All operations against one instrument are serialized on that instrument's
// book mutex; different instruments proceed in parallel. The ledger append
// happens inside the same serialized section as the match that produced it,
// so ledger order equals match order.
type Engine struct {
	log        *zap.SugaredLogger
	clock      util.Clock
	registry   *instrument.Registry
	trades     *ledger.Ledger
	accounts   *portfolio.Accounts
	marketData *marketdata.Aggregator
	settle     *settlement.Dispatcher // nil when settlement is disabled
	journal    storage.TradeJournal

	mu      sync.RWMutex
	books   map[uuid.UUID]*book
	orders  map[uuid.UUID]*orderRef
	byOwner map[common.Address][]uuid.UUID

	subs subscribers
}

// book pairs an order book with the mutex that serializes the whole commit
// pipeline for its instrument.
type book struct {
	mu sync.Mutex
	ob *orderbook.Book
}

type orderRef struct {
	order *orderbook.Order
	book  *book
}

// Config wires the engine's collaborators. Registry, Ledger and Accounts
// are required; the rest default to no-ops.
type Config struct {
	Registry   *instrument.Registry
	Ledger     *ledger.Ledger
	Accounts   *portfolio.Accounts
	MarketData *marketdata.Aggregator
	Settlement *settlement.Dispatcher
	Journal    storage.TradeJournal
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Journal == nil {
		cfg.Journal = storage.NewNopJournal()
	}
	return &Engine{
		log:        cfg.Logger,
		clock:      cfg.Clock,
		registry:   cfg.Registry,
		trades:     cfg.Ledger,
		accounts:   cfg.Accounts,
		marketData: cfg.MarketData,
		settle:     cfg.Settlement,
		journal:    cfg.Journal,
		books:      make(map[uuid.UUID]*book),
		orders:     make(map[uuid.UUID]*orderRef),
		byOwner:    make(map[common.Address][]uuid.UUID),
		subs:       newSubscribers(),
	}
}

// Submit validates an order, matches it and commits the resulting trades.
// Validation failures leave no state behind. The returned order is a
// snapshot; the trades are the committed records in match order.
func (e *Engine) Submit(ctx context.Context, req Request) (*orderbook.Order, []*ledger.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	inst, err := e.validate(req)
	if err != nil {
		return nil, nil, err
	}

	b := e.bookFor(req.InstrumentID)
	now := e.clock.Now().UnixMilli()

	o := &orderbook.Order{
		ID:           uuid.New(),
		InstrumentID: req.InstrumentID,
		Owner:        req.Owner,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		Quantity:     req.Quantity,
		Status:       orderbook.Open,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if o.Type == orderbook.Market {
		o.Price = 0
	}

	b.mu.Lock()

	// Sells must be covered by holdings net of already-resting sells,
	// checked inside the serialized section so the reservation cannot race
	// a concurrent fill.
	if req.Side == orderbook.Sell {
		available := e.accounts.Quantity(req.Owner, req.InstrumentID) - b.ob.SellRemainingFor(req.Owner)
		if req.Quantity > available {
			b.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: sell %d exceeds available %d units of %s",
				portfolio.ErrInsufficientHoldings, req.Quantity, available, inst.ISIN)
		}
	}

	fills := b.ob.Match(o, now)
	trades := make([]*ledger.Trade, 0, len(fills))
	for _, f := range fills {
		t := tradeFromFill(o, f, now)
		e.commit(t)
		trades = append(trades, t)
	}

	switch {
	case o.Remaining() == 0:
		// fully filled
	case o.Type == orderbook.Limit:
		b.ob.Rest(o)
	default:
		// unfilled market remainder never rests
		o.Status = orderbook.Cancelled
	}

	e.index(o, b)
	snap := o.Clone()
	b.mu.Unlock()

	e.afterCommit(snap, trades)

	e.log.Infow("order_processed",
		"order", snap.ID, "instrument", inst.ISIN, "side", snap.Side.String(),
		"type", snap.Type.String(), "status", snap.Status.String(),
		"filled", snap.Filled, "trades", len(trades))

	return snap, trades, nil
}

// validate rejects malformed submissions with no side effect.
func (e *Engine) validate(req Request) (*instrument.Instrument, error) {
	inst, err := e.registry.Get(req.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if err := inst.Tradable(); err != nil {
		return nil, err
	}
	if req.Owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing owner wallet", ErrInvalidOrder)
	}
	if req.Side != orderbook.Buy && req.Side != orderbook.Sell {
		return nil, fmt.Errorf("%w: unknown side", ErrInvalidOrder)
	}
	if req.Type != orderbook.Limit && req.Type != orderbook.Market {
		return nil, fmt.Errorf("%w: unknown order type", ErrInvalidOrder)
	}
	if err := inst.ValidateQuantity(req.Quantity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if req.Type == orderbook.Limit && req.Price <= 0 {
		return nil, fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	}
	return inst, nil
}

// commit runs the synchronous part of the pipeline for one trade. Called
// with the instrument's book mutex held.
func (e *Engine) commit(t *ledger.Trade) {
	e.trades.Append(t)
	if err := e.accounts.ApplyTrade(t); err != nil {
		// The submission-time holdings check makes this unreachable;
		// seeing it means the matching algorithm is broken.
		e.log.Errorw("portfolio_apply_failed", "trade", t.ID, "err", err)
	}
	if e.marketData != nil {
		e.marketData.OnTrade(t)
	}
	e.journal.Append(t)
}

// afterCommit dispatches the work that must stay out of the critical
// matching path.
func (e *Engine) afterCommit(o *orderbook.Order, trades []*ledger.Trade) {
	for _, t := range trades {
		if e.settle != nil {
			e.settle.Dispatch(settlement.FromTrade(t))
		}
		e.subs.publishTrade(TradeEvent{Trade: *t})
	}
	e.subs.publishOrder(OrderEvent{Order: *o})
}

// Cancel removes an order's remaining quantity from its book. Only the
// owning wallet may cancel; someone else's order id behaves as not found.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID, wallet common.Address) (*orderbook.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	ref, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", orderbook.ErrOrderNotFound, orderID)
	}

	b := ref.book
	b.mu.Lock()
	o := ref.order

	if o.Owner != wallet {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", orderbook.ErrOrderNotFound, orderID)
	}
	if o.Terminal() {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", orderbook.ErrOrderAlreadyTerminal, orderID, o.Status)
	}

	now := e.clock.Now().UnixMilli()
	cancelled, err := b.ob.Cancel(orderID, now)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	snap := cancelled.Clone()
	b.mu.Unlock()

	e.subs.publishOrder(OrderEvent{Order: *snap})
	e.log.Infow("order_cancelled", "order", snap.ID, "remaining", snap.Remaining())
	return snap, nil
}

// ListOrders returns snapshots of all of a wallet's orders, newest first.
func (e *Engine) ListOrders(wallet common.Address) []*orderbook.Order {
	e.mu.RLock()
	refs := make([]*orderRef, 0, len(e.byOwner[wallet]))
	for _, id := range e.byOwner[wallet] {
		if ref, ok := e.orders[id]; ok {
			refs = append(refs, ref)
		}
	}
	e.mu.RUnlock()

	out := make([]*orderbook.Order, 0, len(refs))
	for _, ref := range refs {
		ref.book.mu.Lock()
		out = append(out, ref.order.Clone())
		ref.book.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// GetOrder returns a snapshot of one order.
func (e *Engine) GetOrder(orderID uuid.UUID) (*orderbook.Order, error) {
	e.mu.RLock()
	ref, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", orderbook.ErrOrderNotFound, orderID)
	}

	ref.book.mu.Lock()
	defer ref.book.mu.Unlock()
	return ref.order.Clone(), nil
}

// BookSnapshot returns the price-level aggregated book for one bond,
// best price first on both sides.
func (e *Engine) BookSnapshot(instrumentID uuid.UUID) (bids, asks []orderbook.PriceLevel, err error) {
	if _, err := e.registry.Get(instrumentID); err != nil {
		return nil, nil, err
	}

	b := e.bookFor(instrumentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ob.BidLevels(), b.ob.AskLevels(), nil
}

// Portfolio returns the wallet's aggregate holdings view at current
// reference prices.
func (e *Engine) Portfolio(wallet common.Address) portfolio.Portfolio {
	return e.accounts.PortfolioFor(wallet, e.registry.ReferencePrice)
}

// TradeHistory returns the wallet's trades, newest first.
func (e *Engine) TradeHistory(wallet common.Address, limit int) []*ledger.Trade {
	return e.trades.Query(ledger.Filter{Wallet: wallet, Limit: limit})
}

// InstrumentTrades returns an instrument's trades, newest first.
func (e *Engine) InstrumentTrades(instrumentID uuid.UUID, limit int) []*ledger.Trade {
	return e.trades.Query(ledger.Filter{InstrumentID: instrumentID, Limit: limit})
}

// Stats returns rolling-window market statistics for a bond.
func (e *Engine) Stats(instrumentID uuid.UUID) marketdata.Stats {
	if e.marketData == nil {
		return marketdata.Stats{InstrumentID: instrumentID}
	}
	return e.marketData.Stats(instrumentID)
}

// Registry exposes the instrument registry for listing operations.
func (e *Engine) Registry() *instrument.Registry {
	return e.registry
}

// bookFor returns the instrument's book, creating it on first use.
func (e *Engine) bookFor(instrumentID uuid.UUID) *book {
	e.mu.RLock()
	b, ok := e.books[instrumentID]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[instrumentID]; ok {
		return b
	}
	b = &book{ob: orderbook.NewBook()}
	e.books[instrumentID] = b
	return b
}

// index records the order in the engine-wide lookup maps. Called with the
// instrument's book mutex held; engine.mu nests inside it.
func (e *Engine) index(o *orderbook.Order, b *book) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders[o.ID] = &orderRef{order: o, book: b}
	e.byOwner[o.Owner] = append(e.byOwner[o.Owner], o.ID)
}

func tradeFromFill(taker *orderbook.Order, f orderbook.Fill, now int64) *ledger.Trade {
	t := &ledger.Trade{
		ID:           uuid.New(),
		InstrumentID: taker.InstrumentID,
		Price:        f.Price,
		Quantity:     f.Qty,
		TakerSide:    taker.Side,
		ExecutedAt:   now,
	}
	if taker.Side == orderbook.Buy {
		t.BuyOrderID, t.Buyer = f.TakerID, f.Taker
		t.SellOrderID, t.Seller = f.MakerID, f.Maker
	} else {
		t.BuyOrderID, t.Buyer = f.MakerID, f.Maker
		t.SellOrderID, t.Seller = f.TakerID, f.Taker
	}
	return t
}
