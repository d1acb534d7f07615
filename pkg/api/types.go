package api

import "encoding/json"

// Wire types for REST endpoints and WebSocket messages. Decimal fields
// travel as JSON strings; request quantities and prices are decoded as
// json.Number so values never pass through float64.

// ==============================
// Auth
// ==============================

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SigninResponse struct {
	Token string `json:"token"`
}

// ==============================
// Orders
// ==============================

// PlaceOrderRequest carries a new order. Price is required for limit
// orders and must be absent for market orders.
type PlaceOrderRequest struct {
	Type     string      `json:"type"`     // "limit" or "market"
	Side     string      `json:"side"`     // "buy" or "sell"
	Quantity json.Number `json:"quantity"`
	Price    json.Number `json:"price,omitempty"`
	Leverage json.Number `json:"leverage"`
}

type PlaceOrderResponse struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

type CancelOrderResponse struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
}

// ==============================
// Market data
// ==============================

// PriceLevel is one aggregated book level.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// OrderbookSnapshot represents current orderbook state.
type OrderbookSnapshot struct {
	Bids      []PriceLevel `json:"bids"` // Sorted best (highest) first
	Asks      []PriceLevel `json:"asks"` // Sorted best (lowest) first
	MarkPrice string       `json:"markPrice"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// ==============================
// WebSocket
// ==============================

// WSSubscribeRequest is the client -> server control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// ==============================
// Errors
// ==============================

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
