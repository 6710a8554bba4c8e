package orderbook

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// OrderType distinguishes limit orders, which may rest, from market orders,
// whose unfilled remainder is always cancelled.
type OrderType int8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "limit":
		return Limit, nil
	case "market":
		return Market, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

// Status is the lifecycle state of an order. Filled and Cancelled are
// terminal; a terminal order is immutable.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a buy or sell interest in one bond. While resting it is owned by
// the Book that holds it; once terminal it is immutable.
type Order struct {
	ID           uuid.UUID      `json:"id"`
	InstrumentID uuid.UUID      `json:"instrumentId"`
	Owner        common.Address `json:"owner"`
	Side         Side           `json:"side"`
	Type         OrderType      `json:"type"`

	// Price is the limit price in cents. Zero for market orders.
	Price int64 `json:"price"`

	// Quantity is the requested quantity in units; Filled counts executed
	// units. Invariant: 0 <= Filled <= Quantity.
	Quantity int64 `json:"quantity"`
	Filled   int64 `json:"filled"`

	Status Status `json:"status"`

	// Seq is the per-instrument arrival sequence assigned by the book.
	// It is the deterministic time-priority tie-break.
	Seq uint64 `json:"seq"`

	CreatedAt int64 `json:"createdAt"` // Unix milliseconds
	UpdatedAt int64 `json:"updatedAt"`
}

// Remaining returns unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Terminal reports whether the order can no longer change.
func (o *Order) Terminal() bool {
	return o.Status == Filled || o.Status == Cancelled
}

// Clone returns a copy safe to hand outside the matching section.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// Fill records one maker/taker match produced by the book. Price is always
// the maker's resting price.
type Fill struct {
	TakerID uuid.UUID
	MakerID uuid.UUID
	Taker   common.Address
	Maker   common.Address
	Price   int64
	Qty     int64
}
