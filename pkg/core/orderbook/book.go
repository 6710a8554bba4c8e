package orderbook

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	// ErrOrderNotFound is returned when cancelling an order the book does
	// not hold.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderAlreadyTerminal is returned when cancelling an order that is
	// already filled or cancelled.
	ErrOrderAlreadyTerminal = errors.New("order already terminal")
)

// PriceLevel aggregates resting quantity across all orders at one price.
type PriceLevel struct {
	Price int64
	Qty   int64
}

// Book is the resting-order state for a single bond.
//
// It is NOT safe for concurrent use: the matching engine serializes all
// access per instrument, which is what makes ledger order equal match order.
type Book struct {
	// Heap-based best price tracking (O(1) peek)
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	// Price level queues, FIFO at each price. FIFO slice order is arrival
	// order, so time priority needs no extra bookkeeping.
	bids map[int64][]*Order
	asks map[int64][]*Order

	// Arena of open orders owned by this book
	resting map[uuid.UUID]*Order
	priceOf map[uuid.UUID]int64

	seq       uint64 // arrival sequence, monotonic per instrument
	lastPrice int64  // most recent fill price
}

func NewBook() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64][]*Order),
		asks:    make(map[int64][]*Order),
		resting: make(map[uuid.UUID]*Order),
		priceOf: make(map[uuid.UUID]int64),
	}
}

// Match runs price-time-priority matching for an incoming order and returns
// the fills it produced, in match order. The incoming order's Seq, Filled,
// Status and UpdatedAt are set; the caller decides whether a limit remainder
// rests (Rest) or a market remainder is cancelled.
//
// Each fill consumes min(remaining(incoming), remaining(maker)) units at the
// maker's resting price. A resting order owned by the incoming order's owner
// is skipped and keeps its place in the queue.
func (b *Book) Match(o *Order, now int64) []Fill {
	b.seq++
	o.Seq = b.seq

	var fills []Fill
	for _, p := range b.crossingPrices(o) {
		if o.Remaining() == 0 {
			break
		}
		fills = b.matchLevel(o, p, now, fills)
	}

	if o.Remaining() == 0 {
		o.Status = Filled
	} else if o.Filled > 0 {
		o.Status = PartiallyFilled
	}
	o.UpdatedAt = now

	return fills
}

// matchLevel consumes makers at one price level in FIFO order.
func (b *Book) matchLevel(o *Order, price int64, now int64, fills []Fill) []Fill {
	opp := b.opposite(o.Side)
	level := opp[price]

	j := 0
	for j < len(level) && o.Remaining() > 0 {
		maker := level[j]
		if maker.Owner == o.Owner {
			// Self-trade prevention: maker stays resting with its priority
			j++
			continue
		}

		match := min(o.Remaining(), maker.Remaining())
		o.Filled += match
		maker.Filled += match
		maker.UpdatedAt = now
		b.lastPrice = price

		fills = append(fills, Fill{
			TakerID: o.ID,
			MakerID: maker.ID,
			Taker:   o.Owner,
			Maker:   maker.Owner,
			Price:   price,
			Qty:     match,
		})

		if maker.Remaining() == 0 {
			maker.Status = Filled
			level = append(level[:j], level[j+1:]...)
			delete(b.resting, maker.ID)
			delete(b.priceOf, maker.ID)
		} else {
			maker.Status = PartiallyFilled
			j++
		}
	}

	if len(level) == 0 {
		delete(opp, price)
		b.removeFromHeap(oppositeSide(o.Side), price)
	} else {
		opp[price] = level
	}

	return fills
}

// crossingPrices returns the opposite-side price levels the order may trade
// against, best price first. Market orders cross every level.
func (b *Book) crossingPrices(o *Order) []int64 {
	opp := b.opposite(o.Side)
	prices := make([]int64, 0, len(opp))
	for p := range opp {
		if o.Type == Market {
			prices = append(prices, p)
			continue
		}
		if (o.Side == Buy && p <= o.Price) || (o.Side == Sell && p >= o.Price) {
			prices = append(prices, p)
		}
	}
	if o.Side == Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	}
	return prices
}

// Rest adds a limit order's remainder to the book. Market orders never rest.
func (b *Book) Rest(o *Order) {
	if o.Side == Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.resting[o.ID] = o
	b.priceOf[o.ID] = o.Price
}

// Cancel removes an order's remaining quantity from the book and marks it
// cancelled. Fills already executed are untouched.
func (b *Book) Cancel(id uuid.UUID, now int64) (*Order, error) {
	o, ok := b.resting[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	price := b.priceOf[id]
	side := b.bids
	if o.Side == Sell {
		side = b.asks
	}

	level := side[price]
	for i, ord := range level {
		if ord.ID == id {
			side[price] = append(level[:i], level[i+1:]...)
			break
		}
	}
	if len(side[price]) == 0 {
		delete(side, price)
		b.removeFromHeap(o.Side, price)
	}

	delete(b.resting, id)
	delete(b.priceOf, id)

	o.Status = Cancelled
	o.UpdatedAt = now
	return o, nil
}

// Resting reports whether the book currently holds the order.
func (b *Book) Resting(id uuid.UUID) bool {
	_, ok := b.resting[id]
	return ok
}

// SellRemainingFor sums the remaining quantity of all resting sell orders
// owned by owner. Used for the submission-time holdings check, so resting
// sells stay covered.
func (b *Book) SellRemainingFor(owner common.Address) int64 {
	var total int64
	for _, o := range b.resting {
		if o.Side == Sell && o.Owner == owner {
			total += o.Remaining()
		}
	}
	return total
}

// BidLevels returns bid price levels aggregated by price, best (highest)
// first.
func (b *Book) BidLevels() []PriceLevel {
	levels := aggregate(b.bids)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

// AskLevels returns ask price levels aggregated by price, best (lowest)
// first.
func (b *Book) AskLevels() []PriceLevel {
	levels := aggregate(b.asks)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

func aggregate(side map[int64][]*Order) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for price, orders := range side {
		if len(orders) == 0 {
			continue
		}
		var qty int64
		for _, o := range orders {
			qty += o.Remaining()
		}
		levels = append(levels, PriceLevel{Price: price, Qty: qty})
	}
	return levels
}

// BestBid returns the highest bid price, or 0 if no bids rest.
func (b *Book) BestBid() int64 {
	return b.bidHeap.Peek()
}

// BestAsk returns the lowest ask price, or 0 if no asks rest.
func (b *Book) BestAsk() int64 {
	return b.askHeap.Peek()
}

// LastPrice returns the price of the most recent fill, or 0 before any
// trade.
func (b *Book) LastPrice() int64 {
	return b.lastPrice
}

func (b *Book) opposite(s Side) map[int64][]*Order {
	if s == Buy {
		return b.asks
	}
	return b.bids
}

func oppositeSide(s Side) Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (b *Book) removeFromHeap(side Side, price int64) {
	if side == Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}
