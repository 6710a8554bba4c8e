package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/orderbook"
	"github.com/fractionfi/bondcore/pkg/core/portfolio"
	"github.com/fractionfi/bondcore/pkg/engine"
)

const defaultTradeLimit = 100

// Server handles REST API and WebSocket connections
type Server struct {
	engine  *engine.Engine
	router  *mux.Router
	hub     *Hub // WebSocket hub
	log     *zap.SugaredLogger
	origins []string

	httpSrv  *http.Server
	unsubers []func()
}

// NewServer creates a new API server wired to the matching engine.
// allowedOrigins configures CORS for the browser frontend.
func NewServer(eng *engine.Engine, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:  eng,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
		origins: allowedOrigins,
	}

	s.setupRoutes()
	s.subscribeEngine()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Bond endpoints
	api.HandleFunc("/bonds", s.handleListBonds).Methods("GET")
	api.HandleFunc("/bonds", s.handleCreateBond).Methods("POST")
	api.HandleFunc("/bonds/{id}", s.handleGetBond).Methods("GET")
	api.HandleFunc("/bonds/{id}/activate", s.handleActivateBond).Methods("POST")
	api.HandleFunc("/bonds/{id}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/bonds/{id}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/accounts/{address}/trades", s.handleGetAccountTrades).Methods("GET")

	// Order submission
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// subscribeEngine wires engine events into WebSocket broadcasts.
func (s *Server) subscribeEngine() {
	cancelTrades := s.engine.SubscribeTrades(func(ev engine.TradeEvent) {
		t := ev.Trade
		s.hub.BroadcastToChannel(tradesChannel(t.InstrumentID), TradeUpdate{
			Type:       "trade",
			BondID:     t.InstrumentID.String(),
			TradeID:    t.ID.String(),
			Price:      t.Price,
			Quantity:   t.Quantity,
			TakerSide:  t.TakerSide.String(),
			ExecutedAt: t.ExecutedAt,
		})
		s.BroadcastOrderbook(t.InstrumentID)
	})

	cancelOrders := s.engine.SubscribeOrders(func(ev engine.OrderEvent) {
		o := ev.Order
		s.hub.BroadcastToChannel(accountChannel(o.Owner), OrderUpdate{
			Type:      "order",
			OrderID:   o.ID.String(),
			BondID:    o.InstrumentID.String(),
			Status:    o.Status.String(),
			Filled:    o.Filled,
			Remaining: o.Remaining(),
		})
		s.BroadcastOrderbook(o.InstrumentID)
	})

	s.unsubers = append(s.unsubers, cancelTrades, cancelOrders)
}

// Start starts the API server. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: c.Handler(s.router),
	}

	s.log.Infow("api server starting", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the routed handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown stops accepting connections and detaches from the engine.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, cancel := range s.unsubers {
		cancel()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListBonds(w http.ResponseWriter, r *http.Request) {
	var bonds []*instrument.Instrument
	if r.URL.Query().Get("status") == "active" {
		bonds = s.engine.Registry().ListActive()
	} else {
		bonds = s.engine.Registry().List()
	}

	response := make([]BondInfo, len(bonds))
	for i, b := range bonds {
		response[i] = s.bondInfo(b)
	}

	respondJSON(w, response)
}

func (s *Server) handleCreateBond(w http.ResponseWriter, r *http.Request) {
	var req ListBondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if !common.IsHexAddress(req.IssuerWallet) {
		respondError(w, http.StatusBadRequest, "invalid issuer wallet", req.IssuerWallet)
		return
	}
	maturity, err := time.Parse(time.RFC3339, req.MaturityDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid maturity date", err.Error())
		return
	}

	bond, err := instrument.New(req.ISIN, req.Name, common.HexToAddress(req.IssuerWallet),
		req.CouponRate, req.FaceValue, req.MinUnit, maturity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bond", err.Error())
		return
	}

	if err := s.engine.Registry().Register(bond); err != nil {
		respondError(w, http.StatusConflict, "listing failed", err.Error())
		return
	}

	s.log.Infow("bond listed", "id", bond.ID, "isin", bond.ISIN)
	respondStatusJSON(w, http.StatusCreated, s.bondInfo(bond))
}

func (s *Server) handleGetBond(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bondID(w, r)
	if !ok {
		return
	}

	bond, err := s.engine.Registry().Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "bond not found", err.Error())
		return
	}

	respondJSON(w, s.bondInfo(bond))
}

func (s *Server) handleActivateBond(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bondID(w, r)
	if !ok {
		return
	}

	if err := s.engine.Registry().UpdateStatus(id, instrument.Active); err != nil {
		respondError(w, http.StatusConflict, "activation failed", err.Error())
		return
	}

	bond, err := s.engine.Registry().Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "bond not found", err.Error())
		return
	}

	s.log.Infow("bond activated", "id", id, "isin", bond.ISIN)
	respondJSON(w, s.bondInfo(bond))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bondID(w, r)
	if !ok {
		return
	}

	bidLevels, askLevels, err := s.engine.BookSnapshot(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "bond not found", err.Error())
		return
	}

	respondJSON(w, OrderbookSnapshot{
		BondID:    id.String(),
		Bids:      toPriceLevels(bidLevels),
		Asks:      toPriceLevels(askLevels),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bondID(w, r)
	if !ok {
		return
	}
	if _, err := s.engine.Registry().Get(id); err != nil {
		respondError(w, http.StatusNotFound, "bond not found", err.Error())
		return
	}

	trades := s.engine.InstrumentTrades(id, queryLimit(r))
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t, common.Address{})
	}

	respondJSON(w, response)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}

	orders := s.engine.ListOrders(addr)

	openOnly := r.URL.Query().Get("status") == "open"
	response := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		if openOnly && o.Terminal() {
			continue
		}
		response = append(response, orderInfo(o))
	}

	respondJSON(w, response)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}

	p := s.engine.Portfolio(addr)

	holdings := make([]HoldingInfo, len(p.Holdings))
	for i, v := range p.Holdings {
		holdings[i] = s.holdingInfo(v)
	}

	respondJSON(w, PortfolioInfo{
		Wallet:      p.Wallet.Hex(),
		Holdings:    holdings,
		TotalValue:  p.TotalValue.String(),
		RealizedPnL: p.RealizedPnL.String(),
		Count:       p.Count,
	})
}

func (s *Server) handleGetAccountTrades(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}

	trades := s.engine.TradeHistory(addr, queryLimit(r))
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t, addr)
	}

	respondJSON(w, response)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	bondID, err := uuid.Parse(req.BondID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bond id", err.Error())
		return
	}
	if !common.IsHexAddress(req.Wallet) {
		respondError(w, http.StatusBadRequest, "invalid wallet", req.Wallet)
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	typ, err := orderbook.ParseOrderType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order type", err.Error())
		return
	}

	order, trades, err := s.engine.Submit(r.Context(), engine.Request{
		InstrumentID: bondID,
		Owner:        common.HexToAddress(req.Wallet),
		Side:         side,
		Type:         typ,
		Price:        req.Price,
		Quantity:     req.Quantity,
	})
	if err != nil {
		respondError(w, submitStatus(err), "order rejected", err.Error())
		return
	}

	tradeInfos := make([]TradeInfo, len(trades))
	for i, t := range trades {
		tradeInfos[i] = tradeInfo(t, order.Owner)
	}

	respondStatusJSON(w, http.StatusCreated, SubmitOrderResponse{
		Order:  orderInfo(order),
		Trades: tradeInfos,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	if !common.IsHexAddress(req.Wallet) {
		respondError(w, http.StatusBadRequest, "invalid wallet", req.Wallet)
		return
	}

	order, err := s.engine.Cancel(r.Context(), orderID, common.HexToAddress(req.Wallet))
	if err != nil {
		switch {
		case errors.Is(err, orderbook.ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "order not found", err.Error())
		case errors.Is(err, orderbook.ErrOrderAlreadyTerminal):
			respondError(w, http.StatusConflict, "order already terminal", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cancel failed", err.Error())
		}
		return
	}

	respondJSON(w, orderInfo(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}

	respondJSON(w, orderInfo(order))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status": "ok",
		"bonds":  s.engine.Registry().Count(),
	})
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastOrderbook broadcasts an orderbook snapshot to WebSocket clients
func (s *Server) BroadcastOrderbook(bondID uuid.UUID) {
	bidLevels, askLevels, err := s.engine.BookSnapshot(bondID)
	if err != nil {
		return
	}

	s.hub.BroadcastToChannel(orderbookChannel(bondID), OrderbookUpdate{
		Type:      "orderbook",
		BondID:    bondID.String(),
		Bids:      toPriceLevels(bidLevels),
		Asks:      toPriceLevels(askLevels),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) bondInfo(b *instrument.Instrument) BondInfo {
	stats := s.engine.Stats(b.ID)
	return BondInfo{
		ID:             b.ID.String(),
		ISIN:           b.ISIN,
		Name:           b.Name,
		Issuer:         b.Issuer.Hex(),
		CouponRate:     b.CouponRate,
		FaceValue:      b.FaceValue,
		MinUnit:        b.MinUnit,
		MaturityDate:   b.MaturityDate.Format(time.RFC3339),
		Status:         b.Status.String(),
		ReferencePrice: b.ReferencePrice,
		Volume24h:      stats.Volume,
		PriceChange:    stats.PriceChange,
		PriceChangePct: stats.PriceChangePct,
		High24h:        stats.High,
		Low24h:         stats.Low,
		TradeCount24h:  stats.TradeCount,
	}
}

func (s *Server) holdingInfo(v portfolio.Valuation) HoldingInfo {
	info := HoldingInfo{
		BondID:         v.InstrumentID.String(),
		Quantity:       v.Quantity,
		AvgCost:        v.AvgCost.String(),
		ReferencePrice: v.ReferencePrice,
		MarketValue:    v.MarketValue.String(),
		UnrealizedPnL:  v.UnrealizedPnL.String(),
		PnLPercent:     v.PnLPercent,
	}
	if b, err := s.engine.Registry().Get(v.InstrumentID); err == nil {
		info.ISIN = b.ISIN
		info.Name = b.Name
	}
	return info
}

func orderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID.String(),
		BondID:    o.InstrumentID.String(),
		Wallet:    o.Owner.Hex(),
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Price:     o.Price,
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// tradeInfo renders a trade; when viewer is a party to the trade the Side
// field carries that wallet's perspective.
func tradeInfo(t *ledger.Trade, viewer common.Address) TradeInfo {
	info := TradeInfo{
		ID:         t.ID.String(),
		BondID:     t.InstrumentID.String(),
		Price:      t.Price,
		Quantity:   t.Quantity,
		TakerSide:  t.TakerSide.String(),
		ExecutedAt: t.ExecutedAt,
		TxHash:     t.TxHash,
	}
	switch viewer {
	case t.Buyer:
		info.Side = "buy"
	case t.Seller:
		info.Side = "sell"
	}
	return info
}

func toPriceLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Quantity: l.Qty}
	}
	return out
}

// submitStatus maps engine rejection errors to HTTP status codes
func submitStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, instrument.ErrNotTradable),
		errors.Is(err, portfolio.ErrInsufficientHoldings):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) bondID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bond id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func walletParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultTradeLimit
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
