package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/marketdata"
	"github.com/fractionfi/bondcore/pkg/core/orderbook"
	"github.com/fractionfi/bondcore/pkg/core/portfolio"
	"github.com/fractionfi/bondcore/pkg/util"
)

var (
	alice  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	issuer = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

type testEnv struct {
	engine   *Engine
	bond     *instrument.Instrument
	registry *instrument.Registry
	trades   *ledger.Ledger
	accounts *portfolio.Accounts
	clock    *util.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := instrument.NewRegistry(nil)
	maturity := time.Date(2030, 6, 15, 0, 0, 0, 0, time.UTC)
	bond, err := instrument.New("IN0020240011", "GOI 7.25% 2030", issuer, 7.25, 102000, 25, maturity)
	require.NoError(t, err)
	require.NoError(t, registry.Register(bond))
	require.NoError(t, registry.UpdateStatus(bond.ID, instrument.Active))

	trades := ledger.New(nil, util.NewNopLogger())
	accounts := portfolio.NewAccounts(nil)
	clock := util.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	md := marketdata.New(trades, registry, 24*time.Hour, clock, util.NewNopLogger())

	eng := New(Config{
		Registry:   registry,
		Ledger:     trades,
		Accounts:   accounts,
		MarketData: md,
		Clock:      clock,
	})

	return &testEnv{
		engine:   eng,
		bond:     bond,
		registry: registry,
		trades:   trades,
		accounts: accounts,
		clock:    clock,
	}
}

// seed gives a wallet holdings without going through matching.
func (env *testEnv) seed(owner common.Address, qty int64, avgCost int64) {
	env.accounts.Load([]*portfolio.Holding{{
		Owner:        owner,
		InstrumentID: env.bond.ID,
		Quantity:     qty,
		AvgCost:      decimal.NewFromInt(avgCost),
	}})
}

func (env *testEnv) submit(t *testing.T, owner common.Address, side orderbook.Side, typ orderbook.OrderType, price, qty int64) (*orderbook.Order, []*ledger.Trade) {
	t.Helper()
	env.clock.Advance(time.Millisecond)
	o, trades, err := env.engine.Submit(context.Background(), Request{
		InstrumentID: env.bond.ID,
		Owner:        owner,
		Side:         side,
		Type:         typ,
		Price:        price,
		Quantity:     qty,
	})
	require.NoError(t, err)
	return o, trades
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unknown instrument",
			req:     Request{InstrumentID: uuid.New(), Owner: alice, Side: orderbook.Buy, Type: orderbook.Limit, Price: 1000, Quantity: 25},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "missing owner",
			req:     Request{InstrumentID: env.bond.ID, Side: orderbook.Buy, Type: orderbook.Limit, Price: 1000, Quantity: 25},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "quantity not a multiple of min unit",
			req:     Request{InstrumentID: env.bond.ID, Owner: alice, Side: orderbook.Buy, Type: orderbook.Limit, Price: 1000, Quantity: 30},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "zero quantity",
			req:     Request{InstrumentID: env.bond.ID, Owner: alice, Side: orderbook.Buy, Type: orderbook.Limit, Price: 1000, Quantity: 0},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "zero limit price",
			req:     Request{InstrumentID: env.bond.ID, Owner: alice, Side: orderbook.Buy, Type: orderbook.Limit, Price: 0, Quantity: 25},
			wantErr: ErrInvalidOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.engine.Submit(ctx, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	// No state leaked from rejected submissions
	require.Equal(t, 0, env.trades.Len())
}

func TestSubmitInactiveBond(t *testing.T) {
	env := newTestEnv(t)

	pending, err := instrument.New("IN0020240099", "Pending Bond", issuer, 5, 100000, 25,
		time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, env.registry.Register(pending))

	_, _, err = env.engine.Submit(context.Background(), Request{
		InstrumentID: pending.ID,
		Owner:        alice,
		Side:         orderbook.Buy,
		Type:         orderbook.Limit,
		Price:        1000,
		Quantity:     25,
	})
	require.ErrorIs(t, err, instrument.ErrNotTradable)
}

func TestLimitCrossingFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 500, 101000)

	s1, _ := env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)
	s2, _ := env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102200, 50)
	require.Equal(t, orderbook.Open, s1.Status)
	require.Equal(t, orderbook.Open, s2.Status)

	buy, trades := env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102500, 100)

	require.Equal(t, orderbook.Filled, buy.Status)
	require.Len(t, trades, 2)
	require.Equal(t, int64(102000), trades[0].Price)
	require.Equal(t, int64(50), trades[0].Quantity)
	require.Equal(t, int64(102200), trades[1].Price)
	require.Equal(t, alice, trades[0].Buyer)
	require.Equal(t, bob, trades[0].Seller)
	require.Equal(t, orderbook.Buy, trades[0].TakerSide)

	// Accounting moved both ways
	require.Equal(t, int64(100), env.accounts.Quantity(alice, env.bond.ID))
	require.Equal(t, int64(400), env.accounts.Quantity(bob, env.bond.ID))

	// Reference price follows the last print
	require.Equal(t, int64(102200), env.registry.ReferencePrice(env.bond.ID))

	// Ledger sequence is per instrument and monotonic
	require.Equal(t, uint64(1), trades[0].Seq)
	require.Equal(t, uint64(2), trades[1].Seq)
}

func TestPartialFillRests(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 500, 101000)

	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)
	buy, trades := env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102000, 75)

	require.Equal(t, orderbook.PartiallyFilled, buy.Status)
	require.Len(t, trades, 1)
	require.Equal(t, int64(50), buy.Filled)
	require.Equal(t, int64(25), buy.Remaining())

	bids, asks, err := env.engine.BookSnapshot(env.bond.ID)
	require.NoError(t, err)
	require.Empty(t, asks)
	require.Len(t, bids, 1)
	require.Equal(t, orderbook.PriceLevel{Price: 102000, Qty: 25}, bids[0])
}

func TestMarketOrderRemainderCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 500, 101000)

	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)
	buy, trades := env.submit(t, alice, orderbook.Buy, orderbook.Market, 0, 100)

	require.Len(t, trades, 1)
	require.Equal(t, int64(50), buy.Filled)
	require.Equal(t, orderbook.Cancelled, buy.Status)

	// The cancelled remainder never rested
	bids, _, err := env.engine.BookSnapshot(env.bond.ID)
	require.NoError(t, err)
	require.Empty(t, bids)

	// And can't be cancelled again
	_, err = env.engine.Cancel(context.Background(), buy.ID, alice)
	require.ErrorIs(t, err, orderbook.ErrOrderAlreadyTerminal)
}

func TestSellCoverage(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 150, 101000)

	// Spec-style rejection: holding 150, selling 200
	_, _, err := env.engine.Submit(context.Background(), Request{
		InstrumentID: env.bond.ID,
		Owner:        bob,
		Side:         orderbook.Sell,
		Type:         orderbook.Limit,
		Price:        102000,
		Quantity:     200,
	})
	require.ErrorIs(t, err, portfolio.ErrInsufficientHoldings)

	// Resting sells reserve holdings
	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 100)
	_, _, err = env.engine.Submit(context.Background(), Request{
		InstrumentID: env.bond.ID,
		Owner:        bob,
		Side:         orderbook.Sell,
		Type:         orderbook.Limit,
		Price:        102500,
		Quantity:     100,
	})
	require.ErrorIs(t, err, portfolio.ErrInsufficientHoldings)

	// The uncovered part only; 50 more is fine
	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102500, 50)
}

func TestCancelFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	buy, _ := env.submit(t, alice, orderbook.Buy, orderbook.Limit, 101000, 50)

	// Unknown id
	_, err := env.engine.Cancel(ctx, uuid.New(), alice)
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)

	// Someone else's order behaves as not found
	_, err = env.engine.Cancel(ctx, buy.ID, bob)
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)

	// The zero address is a well-formed wallet but owns nothing; it must
	// not act as a master key
	_, err = env.engine.Cancel(ctx, buy.ID, common.Address{})
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)

	still, err := env.engine.GetOrder(buy.ID)
	require.NoError(t, err)
	require.Equal(t, orderbook.Open, still.Status)

	cancelled, err := env.engine.Cancel(ctx, buy.ID, alice)
	require.NoError(t, err)
	require.Equal(t, orderbook.Cancelled, cancelled.Status)

	_, err = env.engine.Cancel(ctx, buy.ID, alice)
	require.ErrorIs(t, err, orderbook.ErrOrderAlreadyTerminal)

	bids, _, err := env.engine.BookSnapshot(env.bond.ID)
	require.NoError(t, err)
	require.Empty(t, bids)
}

func TestSelfMatchSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.seed(alice, 100, 101000)
	env.seed(bob, 100, 101000)

	own, _ := env.submit(t, alice, orderbook.Sell, orderbook.Limit, 102000, 50)
	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)

	_, trades := env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102000, 50)
	require.Len(t, trades, 1)
	require.Equal(t, bob, trades[0].Seller)

	// Alice's own sell is still resting untouched
	got, err := env.engine.GetOrder(own.ID)
	require.NoError(t, err)
	require.Equal(t, orderbook.Open, got.Status)
	require.Equal(t, int64(50), got.Remaining())
}

func TestListOrdersNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	first, _ := env.submit(t, alice, orderbook.Buy, orderbook.Limit, 101000, 25)
	second, _ := env.submit(t, alice, orderbook.Buy, orderbook.Limit, 101500, 25)

	orders := env.engine.ListOrders(alice)
	require.Len(t, orders, 2)
	require.Equal(t, second.ID, orders[0].ID)
	require.Equal(t, first.ID, orders[1].ID)

	require.Empty(t, env.engine.ListOrders(bob))
}

func TestPortfolioView(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 500, 101000)

	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 100)
	env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102000, 100)

	p := env.engine.Portfolio(alice)
	require.Equal(t, 1, p.Count)
	require.Equal(t, int64(100), p.Holdings[0].Quantity)
	require.True(t, p.Holdings[0].AvgCost.Equal(decimal.NewFromInt(102000)))
	// Marked at the reference price set by the trade itself
	require.Equal(t, int64(102000), p.Holdings[0].ReferencePrice)
	require.True(t, p.TotalValue.Equal(decimal.NewFromInt(10200000)))

	// Seller realized (102000 − 101000) × 100
	require.True(t, env.engine.Portfolio(bob).RealizedPnL.Equal(decimal.NewFromInt(100000)))
}

func TestTradeHistoryPerWallet(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 500, 101000)

	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)
	env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102000, 50)

	require.Len(t, env.engine.TradeHistory(alice, 10), 1)
	require.Len(t, env.engine.TradeHistory(bob, 10), 1)
	require.Empty(t, env.engine.TradeHistory(issuer, 10))
	require.Len(t, env.engine.InstrumentTrades(env.bond.ID, 10), 1)
}

func TestEngineEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seed(bob, 500, 101000)

	var tradeEvents []TradeEvent
	var orderEvents []OrderEvent
	cancelTrades := env.engine.SubscribeTrades(func(ev TradeEvent) { tradeEvents = append(tradeEvents, ev) })
	cancelOrders := env.engine.SubscribeOrders(func(ev OrderEvent) { orderEvents = append(orderEvents, ev) })
	defer cancelTrades()
	defer cancelOrders()

	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)
	env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102000, 50)

	require.Len(t, tradeEvents, 1)
	require.Equal(t, int64(102000), tradeEvents[0].Trade.Price)
	// One order event per submission
	require.Len(t, orderEvents, 2)

	// Unsubscribed handlers stop receiving
	cancelTrades()
	env.submit(t, bob, orderbook.Sell, orderbook.Limit, 102000, 50)
	env.submit(t, alice, orderbook.Buy, orderbook.Limit, 102000, 50)
	require.Len(t, tradeEvents, 1)
}
