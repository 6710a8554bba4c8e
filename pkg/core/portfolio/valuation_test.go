package portfolio

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestValueMarksToReference(t *testing.T) {
	h := Holding{
		Owner:        alice,
		InstrumentID: uuid.New(),
		Quantity:     100,
		AvgCost:      decimal.NewFromInt(1000),
	}

	v := Value(h, 1040)
	if !v.MarketValue.Equal(decimal.NewFromInt(104000)) {
		t.Errorf("market value: got %s, want 104000", v.MarketValue)
	}
	if !v.UnrealizedPnL.Equal(decimal.NewFromInt(4000)) {
		t.Errorf("unrealized pnl: got %s, want 4000", v.UnrealizedPnL)
	}
	if v.PnLPercent != 4.0 {
		t.Errorf("pnl percent: got %f, want 4.0", v.PnLPercent)
	}
}

func TestValueZeroAvgCostReportsZeroPercent(t *testing.T) {
	h := Holding{
		Owner:        alice,
		InstrumentID: uuid.New(),
		Quantity:     10,
		AvgCost:      decimal.Zero,
	}

	v := Value(h, 1040)
	if v.PnLPercent != 0 {
		t.Errorf("zero avg cost must report 0%%, got %f", v.PnLPercent)
	}
	if !v.UnrealizedPnL.Equal(decimal.NewFromInt(10400)) {
		t.Errorf("unrealized pnl: got %s, want 10400", v.UnrealizedPnL)
	}
}

func TestPortfolioForAggregates(t *testing.T) {
	a := NewAccounts(nil)
	bondX := uuid.New()
	bondY := uuid.New()

	_ = a.Apply(trade(bondX, alice, bob, 1000, 100, 1), Buyer)
	_ = a.Apply(trade(bondY, alice, bob, 2000, 50, 2), Buyer)

	refs := map[uuid.UUID]int64{bondX: 1010, bondY: 1990}
	p := a.PortfolioFor(alice, func(id uuid.UUID) int64 { return refs[id] })

	if p.Count != 2 || len(p.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", p.Count)
	}
	// 100×1010 + 50×1990
	if !p.TotalValue.Equal(decimal.NewFromInt(200500)) {
		t.Errorf("total value: got %s, want 200500", p.TotalValue)
	}
	if !p.RealizedPnL.Equal(decimal.Zero) {
		t.Errorf("realized pnl: got %s, want 0", p.RealizedPnL)
	}
}

func TestPortfolioForEmptyWallet(t *testing.T) {
	a := NewAccounts(nil)
	p := a.PortfolioFor(alice, func(uuid.UUID) int64 { return 0 })

	if p.Count != 0 || !p.TotalValue.Equal(decimal.Zero) {
		t.Errorf("empty wallet portfolio: %+v", p)
	}
}
