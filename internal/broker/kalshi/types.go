package kalshi

// marketPosition is one entry from GET /portfolio/positions.
type marketPosition struct {
	Ticker             string `json:"ticker"`
	Position           int64  `json:"position"` // signed contract count
	MarketExposureCent int64  `json:"market_exposure"`
	TotalTradedCent    int64  `json:"total_traded"`
}

// orderRequest is the body of POST /portfolio/orders.
type orderRequest struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Count         int64  `json:"count"`
	Type          string `json:"type"` // "market" or "limit"
	YesPriceCents int64  `json:"yes_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// orderRecord is the order object Kalshi returns.
type orderRecord struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Ticker        string `json:"ticker"`
	Status        string `json:"status"` // resting, canceled, executed, pending
	Action        string `json:"action"`
	Count         int64  `json:"count"`
	YesPriceCents int64  `json:"yes_price"`
	CreatedTime   string `json:"created_time"`
	LastUpdate    string `json:"last_update_time"`
}

// errorResponse is Kalshi's error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
