package instrument

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrNotTradable is returned when an order references an instrument whose
// lifecycle status is not Active.
var ErrNotTradable = errors.New("instrument not tradable")

// Status defines the lifecycle state of a listed bond
type Status int8

const (
	Pending  Status = iota // Listed but not yet open for trading
	Active                 // Trading enabled
	Matured                // Reached maturity date (terminal)
	Delisted               // Removed from trading (terminal)
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Matured:
		return "matured"
	case Delisted:
		return "delisted"
	default:
		return "unknown"
	}
}

// Instrument is the static and semi-static metadata for one fractional bond.
// ReferencePrice is the only mutable pricing field and is owned by the market
// data aggregator; it starts at FaceValue when the bond is listed.
type Instrument struct {
	ID     uuid.UUID      `json:"id"`
	ISIN   string         `json:"isin"`
	Name   string         `json:"name"`
	Issuer common.Address `json:"issuer"`

	// CouponRate is the fixed annual interest rate in percent (e.g. 7.25)
	CouponRate float64 `json:"couponRate"`

	// FaceValue is the par value per unit in quote cents (102500 = $1025.00)
	FaceValue int64 `json:"faceValue"`

	// MinUnit is the smallest quantity increment; every order quantity must
	// be a positive integer multiple of it
	MinUnit int64 `json:"minUnit"`

	MaturityDate time.Time `json:"maturityDate"`
	Status       Status    `json:"status"`

	// ReferencePrice is the latest reference price in cents (last trade, or
	// face value before any trade has printed)
	ReferencePrice int64 `json:"referencePrice"`

	CreatedAt int64 `json:"createdAt"` // Unix milliseconds
}

// New creates a listed bond in Pending status with validation.
func New(isin, name string, issuer common.Address, couponRate float64, faceValue, minUnit int64, maturity time.Time) (*Instrument, error) {
	b := &Instrument{
		ID:             uuid.New(),
		ISIN:           isin,
		Name:           name,
		Issuer:         issuer,
		CouponRate:     couponRate,
		FaceValue:      faceValue,
		MinUnit:        minUnit,
		MaturityDate:   maturity,
		Status:         Pending,
		ReferencePrice: faceValue,
		CreatedAt:      time.Now().UnixMilli(),
	}

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument: %w", err)
	}

	return b, nil
}

// Validate checks instrument parameter sanity
func (b *Instrument) Validate() error {
	if b.ISIN == "" {
		return fmt.Errorf("isin cannot be empty")
	}
	if b.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if b.CouponRate < 0 {
		return fmt.Errorf("coupon rate cannot be negative")
	}
	if b.FaceValue <= 0 {
		return fmt.Errorf("face value must be positive")
	}
	if b.MinUnit <= 0 {
		return fmt.Errorf("minimum tradable unit must be positive")
	}
	if b.MaturityDate.IsZero() {
		return fmt.Errorf("maturity date must be set")
	}
	return nil
}

// Tradable returns ErrNotTradable unless the bond is Active.
func (b *Instrument) Tradable() error {
	if b.Status != Active {
		return fmt.Errorf("%w: %s status is %s", ErrNotTradable, b.ISIN, b.Status)
	}
	return nil
}

// ValidateQuantity checks that qty is a positive multiple of the minimum
// tradable unit.
func (b *Instrument) ValidateQuantity(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if qty%b.MinUnit != 0 {
		return fmt.Errorf("quantity %d is not a multiple of minimum unit %d", qty, b.MinUnit)
	}
	return nil
}

// Terminal reports whether the lifecycle has ended (matured or delisted).
func (b *Instrument) Terminal() bool {
	return b.Status == Matured || b.Status == Delisted
}
