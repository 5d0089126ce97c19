package reader

import (
	"context"
	"sort"
	"strings"
	"sync"

	"marketfeed/models"
)

// NewsSource looks up articles about a coin or ticker.
//
// Implementations validate the window before any lookup and return
// ErrInvalidInput for an inverted window. Returned articles are published
// inside the inclusive window, oldest first. A backend outage is reported as
// KindNetwork or KindUpstream.
type NewsSource interface {
	News(ctx context.Context, coin string, window models.QueryWindow) ([]models.NewsArticle, error)
}

// TradeHistory looks up fills for a user's public address with the same
// window and error contract as NewsSource.
type TradeHistory interface {
	Trades(ctx context.Context, address string, window models.QueryWindow) ([]models.Trade, error)
}

// MemoryNews is an in-process NewsSource keyed by upper-cased coin.
type MemoryNews struct {
	mu       sync.RWMutex
	articles map[string][]models.NewsArticle
}

func NewMemoryNews() *MemoryNews {
	return &MemoryNews{articles: make(map[string][]models.NewsArticle)}
}

func (m *MemoryNews) Add(coin string, articles ...models.NewsArticle) {
	key := strings.ToUpper(strings.TrimSpace(coin))
	m.mu.Lock()
	m.articles[key] = append(m.articles[key], articles...)
	m.mu.Unlock()
}

func (m *MemoryNews) News(ctx context.Context, coin string, window models.QueryWindow) ([]models.NewsArticle, error) {
	if strings.TrimSpace(coin) == "" {
		return nil, InvalidInput("coin is required")
	}
	if err := ValidateWindow(window); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, TransportError("", err)
	}

	m.mu.RLock()
	all := m.articles[strings.ToUpper(strings.TrimSpace(coin))]
	out := make([]models.NewsArticle, 0, len(all))
	for _, a := range all {
		if window.Contains(a.PublishedAt) {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

// MemoryTrades is an in-process TradeHistory keyed by address.
type MemoryTrades struct {
	mu     sync.RWMutex
	trades map[string][]models.Trade
}

func NewMemoryTrades() *MemoryTrades {
	return &MemoryTrades{trades: make(map[string][]models.Trade)}
}

func (m *MemoryTrades) Add(address string, trades ...models.Trade) {
	m.mu.Lock()
	m.trades[address] = append(m.trades[address], trades...)
	m.mu.Unlock()
}

func (m *MemoryTrades) Trades(ctx context.Context, address string, window models.QueryWindow) ([]models.Trade, error) {
	if strings.TrimSpace(address) == "" {
		return nil, InvalidInput("address is required")
	}
	if err := ValidateWindow(window); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, TransportError("", err)
	}

	m.mu.RLock()
	all := m.trades[address]
	out := make([]models.Trade, 0, len(all))
	for _, t := range all {
		if window.Contains(t.Timestamp) {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
