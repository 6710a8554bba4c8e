package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// BondInfo represents a listed bond plus its rolling 24h market statistics
type BondInfo struct {
	ID             string  `json:"id"`
	ISIN           string  `json:"isin"`
	Name           string  `json:"name"`
	Issuer         string  `json:"issuer"`
	CouponRate     float64 `json:"couponRate"`
	FaceValue      int64   `json:"faceValue"` // cents
	MinUnit        int64   `json:"minUnit"`   // smallest tradable fraction
	MaturityDate   string  `json:"maturityDate"`
	Status         string  `json:"status"`
	ReferencePrice int64   `json:"referencePrice"` // cents

	Volume24h      int64   `json:"volume24h"` // notional cents
	PriceChange    int64   `json:"priceChange24h"`
	PriceChangePct float64 `json:"priceChangePct24h"`
	High24h        int64   `json:"high24h"`
	Low24h         int64   `json:"low24h"`
	TradeCount24h  int     `json:"tradeCount24h"`
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	BondID    string       `json:"bondId"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel represents [price, quantity] tuple
type PriceLevel struct {
	Price    int64 `json:"price"`    // Price in cents
	Quantity int64 `json:"quantity"` // Units resting at this price
}

// TradeInfo represents an executed trade
type TradeInfo struct {
	ID         string `json:"id"`
	BondID     string `json:"bondId"`
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
	TakerSide  string `json:"takerSide"`      // "buy" or "sell"
	Side       string `json:"side,omitempty"` // from the queried wallet's perspective
	ExecutedAt int64  `json:"executedAt"`     // Unix milliseconds
	TxHash     string `json:"txHash,omitempty"`
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID        string `json:"id"`
	BondID    string `json:"bondId"`
	Wallet    string `json:"wallet"`
	Side      string `json:"side"` // "buy" or "sell"
	Type      string `json:"type"` // "limit" or "market"
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Status    string `json:"status"` // "open", "partially_filled", "filled", "cancelled"
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// HoldingInfo is one valued portfolio position
type HoldingInfo struct {
	BondID         string  `json:"bondId"`
	ISIN           string  `json:"isin"`
	Name           string  `json:"name"`
	Quantity       int64   `json:"quantity"`
	AvgCost        string  `json:"avgCost"` // decimal cents
	ReferencePrice int64   `json:"referencePrice"`
	MarketValue    string  `json:"marketValue"`
	UnrealizedPnL  string  `json:"unrealizedPnl"`
	PnLPercent     float64 `json:"pnlPercent"`
}

// PortfolioInfo is the aggregate per-wallet view
type PortfolioInfo struct {
	Wallet      string        `json:"wallet"`
	Holdings    []HoldingInfo `json:"holdings"`
	TotalValue  string        `json:"totalValue"`
	RealizedPnL string        `json:"realizedPnl"`
	Count       int           `json:"count"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:{bondId}", "trades:{bondId}", "account:0x..."]
}

// OrderbookUpdate is broadcast after matching changes a book
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	BondID    string       `json:"bondId"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type       string `json:"type"` // "trade"
	BondID     string `json:"bondId"`
	TradeID    string `json:"tradeId"`
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
	TakerSide  string `json:"takerSide"`
	ExecutedAt int64  `json:"executedAt"`
}

// OrderUpdate is broadcast on the owner's account channel when an order
// status changes
type OrderUpdate struct {
	Type      string `json:"type"` // "order"
	OrderID   string `json:"orderId"`
	BondID    string `json:"bondId"`
	Status    string `json:"status"` // "open" | "partially_filled" | "filled" | "cancelled"
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
}

// ==============================
// REST Request Types
// ==============================

// ListBondRequest is the payload for POST /api/v1/bonds
type ListBondRequest struct {
	ISIN         string  `json:"isin"`
	Name         string  `json:"name"`
	IssuerWallet string  `json:"issuerWallet"`
	CouponRate   float64 `json:"couponRate"`
	FaceValue    int64   `json:"faceValue"` // cents
	MinUnit      int64   `json:"minUnit"`
	MaturityDate string  `json:"maturityDate"` // RFC 3339
}

// SubmitOrderRequest is the payload for POST /api/v1/orders
type SubmitOrderRequest struct {
	BondID   string `json:"bondId"`
	Wallet   string `json:"wallet"`
	Side     string `json:"side"`  // "buy" or "sell"
	Type     string `json:"type"`  // "limit" or "market"
	Price    int64  `json:"price"` // cents; ignored for market orders
	Quantity int64  `json:"quantity"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
	Wallet  string `json:"wallet"`
}

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	Order  OrderInfo   `json:"order"`
	Trades []TradeInfo `json:"trades"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
