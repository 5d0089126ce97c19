package alphavantage

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"marketfeed/models"
	"marketfeed/processor"
	"marketfeed/reader"
)

// Quote returns the latest GLOBAL_QUOTE snapshot. Missing numeric fields read
// as zero; present but unparsable ones make the response malformed.
func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.Quote{}, reader.InvalidInput("symbol must not be empty")
	}

	out, err := c.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
	if err != nil {
		return models.Quote{}, err
	}
	raw, ok := out["Global Quote"]
	if !ok {
		return models.Quote{}, reader.Malformed(models.ProviderAlphaVantage, "no Global Quote in response")
	}
	q, err := decodeFields(raw)
	if err != nil {
		return models.Quote{}, reader.NewError(models.ProviderAlphaVantage, reader.KindMalformedResponse, "Global Quote is not an object", err)
	}
	if len(q) == 0 {
		return models.Quote{}, reader.NewError(models.ProviderAlphaVantage, reader.KindInvalidSymbol, "empty quote for "+symbol, nil)
	}

	p := fieldParser{fields: q}
	quote := models.Quote{
		Symbol:           q["01. symbol"],
		Open:             p.float("02. open"),
		High:             p.float("03. high"),
		Low:              p.float("04. low"),
		Price:            p.float("05. price"),
		Volume:           p.int("06. volume"),
		LatestTradingDay: q["07. latest trading day"],
		PreviousClose:    p.float("08. previous close"),
		Change:           p.float("09. change"),
		ChangePercent:    strings.TrimSuffix(strings.TrimSpace(orDefault(q["10. change percent"], "0%")), "%"),
	}
	if p.bad != "" {
		return models.Quote{}, reader.Malformed(models.ProviderAlphaVantage, "quote field %q is not numeric", p.bad)
	}
	return quote, nil
}

// Search runs SYMBOL_SEARCH. An empty match list is not an error.
func (c *Client) Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error) {
	keywords = strings.TrimSpace(keywords)
	if keywords == "" {
		return nil, reader.InvalidInput("keywords must not be empty")
	}

	out, err := c.query(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {keywords}})
	if err != nil {
		return nil, err
	}
	raw, ok := out["bestMatches"]
	if !ok {
		return nil, reader.Malformed(models.ProviderAlphaVantage, "no bestMatches in response")
	}
	var rows []map[string]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, reader.NewError(models.ProviderAlphaVantage, reader.KindMalformedResponse, "bestMatches is not a list", err)
	}

	matches := make([]models.SymbolMatch, 0, len(rows))
	for _, row := range rows {
		m := models.SymbolMatch{
			Symbol:      row["1. symbol"],
			Name:        row["2. name"],
			Type:        row["3. type"],
			Region:      row["4. region"],
			MarketOpen:  row["5. marketOpen"],
			MarketClose: row["6. marketClose"],
			Timezone:    row["7. timezone"],
			Currency:    row["8. currency"],
		}
		if score, ok := processor.ParseFloat(row["9. matchScore"]); ok {
			m.MatchScore = &score
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Overview returns the OVERVIEW fields unchanged. A response without a Symbol
// means the ticker is unknown.
func (c *Client) Overview(ctx context.Context, symbol string) (models.CompanyOverview, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, reader.InvalidInput("symbol must not be empty")
	}

	out, err := c.query(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}})
	if err != nil {
		return nil, err
	}

	overview := make(models.CompanyOverview, len(out))
	for k := range out {
		if v, ok := stringField(out, k); ok {
			overview[k] = v
		}
	}
	if overview["Symbol"] == "" {
		return nil, reader.NewError(models.ProviderAlphaVantage, reader.KindInvalidSymbol, "no company data for "+symbol, nil)
	}
	return overview, nil
}

type moverRow struct {
	Ticker           string `json:"ticker"`
	Price            string `json:"price"`
	ChangeAmount     string `json:"change_amount"`
	ChangePercentage string `json:"change_percentage"`
	Volume           string `json:"volume"`
}

// Movers returns the TOP_GAINERS_LOSERS lists. Rows with unparsable numbers
// keep their zero values.
func (c *Client) Movers(ctx context.Context) (models.MarketMovers, error) {
	out, err := c.query(ctx, url.Values{"function": {"TOP_GAINERS_LOSERS"}})
	if err != nil {
		return models.MarketMovers{}, err
	}

	lists := map[string][]models.Mover{}
	for _, key := range []string{"top_gainers", "top_losers", "most_actively_traded"} {
		raw, ok := out[key]
		if !ok {
			return models.MarketMovers{}, reader.Malformed(models.ProviderAlphaVantage, "no %s in response", key)
		}
		var rows []moverRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return models.MarketMovers{}, reader.NewError(models.ProviderAlphaVantage, reader.KindMalformedResponse, key+" is not a list", err)
		}
		movers := make([]models.Mover, 0, len(rows))
		for _, r := range rows {
			price, _ := processor.ParseFloat(r.Price)
			change, _ := processor.ParseFloat(r.ChangeAmount)
			volume, _ := strconv.ParseInt(strings.TrimSpace(r.Volume), 10, 64)
			movers = append(movers, models.Mover{
				Ticker:           r.Ticker,
				Price:            price,
				ChangeAmount:     change,
				ChangePercentage: r.ChangePercentage,
				Volume:           volume,
			})
		}
		lists[key] = movers
	}

	updated, _ := stringField(out, "last_updated")
	return models.MarketMovers{
		LastUpdated:        updated,
		TopGainers:         lists["top_gainers"],
		TopLosers:          lists["top_losers"],
		MostActivelyTraded: lists["most_actively_traded"],
	}, nil
}

// fieldParser remembers the first present field that failed to parse.
type fieldParser struct {
	fields map[string]string
	bad    string
}

func (p *fieldParser) float(key string) float64 {
	raw, ok := p.fields[key]
	if !ok {
		return 0
	}
	v, ok := processor.ParseFloat(raw)
	if !ok && p.bad == "" {
		p.bad = key
	}
	return v
}

func (p *fieldParser) int(key string) int64 {
	raw, ok := p.fields[key]
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil && p.bad == "" {
		p.bad = key
	}
	return v
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
