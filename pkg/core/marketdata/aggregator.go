package marketdata

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/util"
)

// Stats is the rolling-window market summary for one bond.
type Stats struct {
	InstrumentID uuid.UUID `json:"instrumentId"`

	// LastPrice is the most recent trade price in the window; 0 before any
	// trade
	LastPrice int64 `json:"lastPrice"`

	// Volume is notional traded inside the window, in cents
	Volume int64 `json:"volume"`

	// PriceChange compares LastPrice with the last price printed at or
	// before the window start; both are 0 when that earlier price is
	// unavailable
	PriceChange    int64   `json:"priceChange"`
	PriceChangePct float64 `json:"priceChangePct"`

	High       int64 `json:"high"`
	Low        int64 `json:"low"`
	TradeCount int   `json:"tradeCount"`

	WindowStart int64 `json:"windowStart"` // Unix milliseconds
}

// Aggregator computes sliding-window statistics from the trade ledger and
// feeds the registry's reference prices.
//
// Stats recomputes lazily from the ledger, so it is idempotent for a given
// ledger state; OnTrade only forwards the reference price, and both paths
// converge to the same values.
type Aggregator struct {
	window   time.Duration
	clock    util.Clock
	trades   *ledger.Ledger
	registry *instrument.Registry
	log      *zap.SugaredLogger
}

// New creates an aggregator over the given ledger. window is typically 24h.
func New(trades *ledger.Ledger, registry *instrument.Registry, window time.Duration, clock util.Clock, log *zap.SugaredLogger) *Aggregator {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Aggregator{
		window:   window,
		clock:    clock,
		trades:   trades,
		registry: registry,
		log:      log,
	}
}

// OnTrade is the incremental hook run inside the matching commit section:
// the trade's price becomes the bond's reference price.
func (a *Aggregator) OnTrade(t *ledger.Trade) {
	if err := a.registry.SetReferencePrice(t.InstrumentID, t.Price); err != nil {
		a.log.Errorw("reference_price_update_failed", "instrument", t.InstrumentID, "err", err)
	}
}

// Stats recomputes window statistics for a bond from the ledger.
func (a *Aggregator) Stats(instrumentID uuid.UUID) Stats {
	now := a.clock.Now().UnixMilli()
	windowStart := now - a.window.Milliseconds()

	s := Stats{InstrumentID: instrumentID, WindowStart: windowStart}

	// basePrice is the last price printed at or before the window start
	var basePrice int64
	for _, t := range a.trades.TradesFor(instrumentID) {
		if t.ExecutedAt <= windowStart {
			basePrice = t.Price
			continue
		}

		s.LastPrice = t.Price
		s.Volume += t.Notional()
		s.TradeCount++
		if s.High == 0 || t.Price > s.High {
			s.High = t.Price
		}
		if s.Low == 0 || t.Price < s.Low {
			s.Low = t.Price
		}
	}

	if s.LastPrice == 0 && basePrice != 0 {
		// No prints inside the window; the older price still stands
		s.LastPrice = basePrice
	}
	if basePrice != 0 && s.LastPrice != 0 {
		s.PriceChange = s.LastPrice - basePrice
		s.PriceChangePct = float64(s.PriceChange) / float64(basePrice) * 100
	}

	return s
}
