package models

import "time"

// NewsArticle is a single headline about a coin or ticker.
type NewsArticle struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary,omitempty"`
}

// TradeSide is either buy or sell.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is one historical fill attributed to a user address.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Pair      string    `json:"pair"`
	Side      TradeSide `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	TxHash    string    `json:"tx_hash,omitempty"`
}
