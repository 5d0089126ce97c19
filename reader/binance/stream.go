package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/processor"
)

const (
	streamComponent     = "binance_kline_stream"
	defaultWebsocketURL = "wss://stream.binance.com:9443/ws"
)

// KlineStream subscribes to <pair>@kline_<interval> for each symbol and emits
// every closed kline as a canonical record. Connections are re-established
// after ReconnectDelay until the stream is stopped.
type KlineStream struct {
	config   *config.Config
	out      chan models.StreamBar
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	interval models.Interval
	dialer   websocket.Dialer
}

func NewKlineStream(cfg *config.Config, symbols []string) *KlineStream {
	interval := models.Interval(cfg.Stream.Interval)
	if interval == "" {
		interval = models.Interval1m
	}
	buffer := cfg.Stream.Buffer
	if buffer <= 0 {
		buffer = 256
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if ip := net.ParseIP(cfg.Reader.LocalIP); ip != nil {
		dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
	}

	quote := cfg.Source.Binance.QuoteAsset
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if pair := pairFor(s, quote); pair != "" {
			pairs = append(pairs, pair)
		}
	}

	return &KlineStream{
		config:   cfg,
		out:      make(chan models.StreamBar, buffer),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  pairs,
		interval: interval,
		dialer:   dialer,
	}
}

// Bars is closed after Stop returns.
func (s *KlineStream) Bars() <-chan models.StreamBar {
	return s.out
}

// Start launches one websocket worker per symbol.
func (s *KlineStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("kline stream already running")
	}
	if len(s.symbols) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no symbols configured for kline stream")
	}
	if !ValidInterval(s.interval) {
		s.mu.Unlock()
		return fmt.Errorf("unsupported kline stream interval %q", s.interval)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	for _, symbol := range s.symbols {
		s.wg.Add(1)
		go s.streamSymbol(ctx, symbol)
	}

	s.log.WithComponent(streamComponent).WithFields(logger.Fields{
		"symbols":  s.symbols,
		"interval": string(s.interval),
	}).Info("binance kline stream started")
	return nil
}

// Stop cancels every worker, waits for them and closes Bars.
func (s *KlineStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.log.WithComponent(streamComponent).Info("stopping binance kline stream")
	cancel()
	s.wg.Wait()
	close(s.out)
	s.log.WithComponent(streamComponent).Info("binance kline stream stopped")
}

func (s *KlineStream) endpoint(symbol string) string {
	base := strings.TrimRight(strings.TrimSpace(s.config.Source.Binance.WebsocketURL), "/")
	if base == "" {
		base = defaultWebsocketURL
	}
	return fmt.Sprintf("%s/%s@kline_%s", base, strings.ToLower(symbol), s.interval)
}

func (s *KlineStream) streamSymbol(ctx context.Context, symbol string) {
	defer s.wg.Done()

	reconnect := s.config.Stream.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	endpoint := s.endpoint(symbol)
	log := s.log.WithComponent(streamComponent).WithFields(logger.Fields{
		"symbol":   symbol,
		"endpoint": endpoint,
	})

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to binance kline stream")
			select {
			case <-time.After(reconnect):
				continue
			case <-ctx.Done():
				return
			}
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("binance kline stream error, reconnecting")
				}
				break
			}
			s.handleMessage(ctx, raw)
		}
		close(done)
		conn.Close()

		select {
		case <-time.After(reconnect):
		case <-ctx.Done():
			return
		}
	}
}

type wsKlineEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsFinal   bool   `json:"x"`
	} `json:"k"`
}

// decodeClosedKline returns false for open klines and anything that does not
// normalize into a valid record.
func decodeClosedKline(raw []byte) (models.StreamBar, bool) {
	var evt wsKlineEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return models.StreamBar{}, false
	}
	if evt.Event != "kline" || !evt.Kline.IsFinal || evt.Kline.StartTime <= 0 {
		return models.StreamBar{}, false
	}
	rec, ok := processor.BuildRecord(time.UnixMilli(evt.Kline.StartTime), processor.RequiredFields{
		Open:   evt.Kline.Open,
		High:   evt.Kline.High,
		Low:    evt.Kline.Low,
		Close:  evt.Kline.Close,
		Volume: evt.Kline.Volume,
	}, processor.OptionalFields{})
	if !ok {
		return models.StreamBar{}, false
	}
	return models.StreamBar{
		Provider: models.ProviderBinance,
		Symbol:   strings.ToUpper(evt.Symbol),
		Interval: models.Interval(evt.Kline.Interval),
		Record:   rec,
	}, true
}

func (s *KlineStream) handleMessage(ctx context.Context, raw []byte) {
	bar, ok := decodeClosedKline(raw)
	if !ok {
		return
	}
	metrics.ObserveStreamMessage(string(models.ProviderBinance), bar.Symbol)

	select {
	case s.out <- bar:
	case <-ctx.Done():
	default:
		s.log.WithComponent(streamComponent).WithFields(logger.Fields{
			"symbol": bar.Symbol,
		}).Warn("dropping closed kline due to backpressure")
	}
}
