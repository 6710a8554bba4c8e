package portfolio

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Valuation is a holding marked to the bond's current reference price.
type Valuation struct {
	Holding
	ReferencePrice int64           `json:"referencePrice"`
	MarketValue    decimal.Decimal `json:"marketValue"`   // cents
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnl"` // cents
	PnLPercent     float64         `json:"pnlPercent"`
}

// Value marks a holding to a reference price.
// unrealized = (reference − avgCost) × quantity;
// pnlPercent = (reference − avgCost) / avgCost × 100, reported as 0 when the
// average cost is zero rather than faulting on division.
func Value(h Holding, referencePrice int64) Valuation {
	ref := decimal.NewFromInt(referencePrice)
	qty := decimal.NewFromInt(h.Quantity)

	v := Valuation{
		Holding:        h,
		ReferencePrice: referencePrice,
		MarketValue:    ref.Mul(qty),
		UnrealizedPnL:  ref.Sub(h.AvgCost).Mul(qty),
	}
	if !h.AvgCost.IsZero() {
		pct, _ := ref.Sub(h.AvgCost).Div(h.AvgCost).Mul(decimal.NewFromInt(100)).Float64()
		v.PnLPercent = pct
	}
	return v
}

// Portfolio is the per-wallet aggregate view: every non-zero holding valued
// at current reference prices.
type Portfolio struct {
	Wallet      common.Address  `json:"wallet"`
	Holdings    []Valuation     `json:"holdings"`
	TotalValue  decimal.Decimal `json:"totalValue"` // cents
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Count       int             `json:"count"`
}

// PortfolioFor assembles the aggregate view for a wallet. referencePrice
// maps an instrument id to its current reference price.
func (a *Accounts) PortfolioFor(owner common.Address, referencePrice func(uuid.UUID) int64) Portfolio {
	holdings := a.Holdings(owner)

	p := Portfolio{
		Wallet:      owner,
		Holdings:    make([]Valuation, 0, len(holdings)),
		TotalValue:  decimal.Zero,
		RealizedPnL: a.RealizedPnL(owner),
	}
	for _, h := range holdings {
		v := Value(h, referencePrice(h.InstrumentID))
		p.Holdings = append(p.Holdings, v)
		p.TotalValue = p.TotalValue.Add(v.MarketValue)
	}
	p.Count = len(p.Holdings)
	return p
}
