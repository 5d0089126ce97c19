package models

// Quote is the latest price snapshot for an equity ticker.
type Quote struct {
	Symbol           string  `json:"symbol"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Price            float64 `json:"price"`
	Volume           int64   `json:"volume"`
	LatestTradingDay string  `json:"latest_trading_day"`
	PreviousClose    float64 `json:"previous_close"`
	Change           float64 `json:"change"`
	ChangePercent    string  `json:"change_percent"`
}

// SymbolMatch is one hit of a ticker search.
type SymbolMatch struct {
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Region      string   `json:"region"`
	MarketOpen  string   `json:"market_open"`
	MarketClose string   `json:"market_close"`
	Timezone    string   `json:"timezone"`
	Currency    string   `json:"currency"`
	MatchScore  *float64 `json:"match_score,omitempty"`
}

// CompanyOverview is passed through as reported by the provider.
type CompanyOverview map[string]string

// Mover is one entry of the daily gainers/losers lists.
type Mover struct {
	Ticker           string  `json:"ticker"`
	Price            float64 `json:"price"`
	ChangeAmount     float64 `json:"change_amount"`
	ChangePercentage string  `json:"change_percentage"`
	Volume           int64   `json:"volume"`
}

// MarketMovers groups the three lists returned by the top movers endpoint.
type MarketMovers struct {
	LastUpdated        string  `json:"last_updated,omitempty"`
	TopGainers         []Mover `json:"top_gainers"`
	TopLosers          []Mover `json:"top_losers"`
	MostActivelyTraded []Mover `json:"most_actively_traded"`
}
