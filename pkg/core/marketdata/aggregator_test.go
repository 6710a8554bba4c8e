package marketdata

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/orderbook"
	"github.com/fractionfi/bondcore/pkg/util"
)

var (
	buyer  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller = common.HexToAddress("0x2222222222222222222222222222222222222222")
	issuer = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

type fixture struct {
	bond     *instrument.Instrument
	registry *instrument.Registry
	trades   *ledger.Ledger
	clock    *util.FakeClock
	agg      *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := instrument.NewRegistry(nil)
	maturity := time.Date(2030, 6, 15, 0, 0, 0, 0, time.UTC)
	bond, err := instrument.New("IN0020240011", "GOI 7.25% 2030", issuer, 7.25, 102000, 25, maturity)
	if err != nil {
		t.Fatalf("new bond: %v", err)
	}
	if err := registry.Register(bond); err != nil {
		t.Fatalf("register: %v", err)
	}

	trades := ledger.New(nil, util.NewNopLogger())
	clock := util.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	agg := New(trades, registry, 24*time.Hour, clock, util.NewNopLogger())

	return &fixture{bond: bond, registry: registry, trades: trades, clock: clock, agg: agg}
}

func (f *fixture) print(price, qty int64, at time.Time) *ledger.Trade {
	t := &ledger.Trade{
		ID:           uuid.New(),
		InstrumentID: f.bond.ID,
		BuyOrderID:   uuid.New(),
		SellOrderID:  uuid.New(),
		Buyer:        buyer,
		Seller:       seller,
		Price:        price,
		Quantity:     qty,
		TakerSide:    orderbook.Buy,
		ExecutedAt:   at.UnixMilli(),
	}
	f.trades.Append(t)
	f.agg.OnTrade(t)
	return t
}

func TestStatsEmptyLedger(t *testing.T) {
	f := newFixture(t)

	s := f.agg.Stats(f.bond.ID)
	if s.LastPrice != 0 || s.Volume != 0 || s.TradeCount != 0 {
		t.Errorf("empty ledger must yield zero stats: %+v", s)
	}
	if s.PriceChange != 0 || s.PriceChangePct != 0 {
		t.Errorf("price change undefined without prints: %+v", s)
	}
}

func TestStatsWindowAggregation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	// Outside the 24h window
	f.print(100000, 50, now.Add(-30*time.Hour))
	// Inside
	f.print(101000, 100, now.Add(-10*time.Hour))
	f.print(103000, 25, now.Add(-5*time.Hour))
	f.print(102000, 75, now.Add(-1*time.Hour))

	s := f.agg.Stats(f.bond.ID)
	if s.LastPrice != 102000 {
		t.Errorf("last price: got %d, want 102000", s.LastPrice)
	}
	wantVolume := int64(101000*100 + 103000*25 + 102000*75)
	if s.Volume != wantVolume {
		t.Errorf("volume: got %d, want %d", s.Volume, wantVolume)
	}
	if s.TradeCount != 3 {
		t.Errorf("trade count: got %d, want 3", s.TradeCount)
	}
	if s.High != 103000 || s.Low != 101000 {
		t.Errorf("high/low: got %d/%d, want 103000/101000", s.High, s.Low)
	}
	// Change vs the last print at or before window start
	if s.PriceChange != 2000 {
		t.Errorf("price change: got %d, want 2000", s.PriceChange)
	}
	if s.PriceChangePct != 2.0 {
		t.Errorf("price change pct: got %f, want 2.0", s.PriceChangePct)
	}
}

func TestStatsNoBasePrice(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	// All prints inside the window, nothing at or before its start
	f.print(101000, 10, now.Add(-2*time.Hour))
	f.print(101500, 10, now.Add(-1*time.Hour))

	s := f.agg.Stats(f.bond.ID)
	if s.PriceChange != 0 || s.PriceChangePct != 0 {
		t.Errorf("without a base price, change must be 0: %+v", s)
	}
	if s.LastPrice != 101500 {
		t.Errorf("last price: got %d, want 101500", s.LastPrice)
	}
}

func TestStatsStalePriceCarriesForward(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	f.print(100500, 10, now.Add(-40*time.Hour))

	s := f.agg.Stats(f.bond.ID)
	if s.LastPrice != 100500 {
		t.Errorf("stale price must carry forward, got %d", s.LastPrice)
	}
	if s.Volume != 0 || s.TradeCount != 0 {
		t.Errorf("stale print is not in-window volume: %+v", s)
	}
}

func TestWindowSlidesWithClock(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	f.print(101000, 10, now.Add(-23*time.Hour))

	if s := f.agg.Stats(f.bond.ID); s.TradeCount != 1 {
		t.Fatalf("print should be in window, got count %d", s.TradeCount)
	}

	f.clock.Advance(2 * time.Hour)
	if s := f.agg.Stats(f.bond.ID); s.TradeCount != 0 {
		t.Errorf("print must age out after the clock advances, got count %d", s.TradeCount)
	}
}

func TestOnTradeUpdatesReferencePrice(t *testing.T) {
	f := newFixture(t)

	if got := f.registry.ReferencePrice(f.bond.ID); got != 102000 {
		t.Fatalf("reference starts at face value, got %d", got)
	}

	f.print(101250, 10, f.clock.Now())
	if got := f.registry.ReferencePrice(f.bond.ID); got != 101250 {
		t.Errorf("reference price: got %d, want 101250", got)
	}
}
