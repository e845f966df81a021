package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second // Keep-alive interval
)

// FeedService keeps a PriceBook current from a websocket price stream.
//
// Wire format, server -> client, one object or an array of objects:
//
//	{"type":"price","symbol":"BTCPERP","mark":"101000.5","quote":"1.0002","ts":1735689600000}
//
// client -> server:
//
//	{"type":"subscribe","symbols":["BTCPERP"]}
type FeedService struct {
	url         string
	conn        *websocket.Conn
	writeMu     sync.Mutex
	mu          sync.RWMutex
	book        *PriceBook
	subs        []string
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
	wg          sync.WaitGroup
}

var _ Provider = (*FeedService)(nil)

func NewFeedService(url string) *FeedService {
	ctx, cancel := context.WithCancel(context.Background())
	return &FeedService{
		url:    url,
		book:   NewPriceBook(),
		subs:   make([]string, 0),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the connection loop in a background goroutine
func (s *FeedService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop()
	}()
}

// Stop closes the connection and waits for the loop to exit.
func (s *FeedService) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Subscribe adds symbols to the subscription list and updates the connection if active
func (s *FeedService) Subscribe(symbols []string) {
	s.mu.Lock()
	added := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = normalize(sym)
		found := false
		for _, existing := range s.subs {
			if existing == sym {
				found = true
				break
			}
		}
		if !found {
			s.subs = append(s.subs, sym)
			added = append(added, sym)
		}
	}
	connected := s.isConnected
	s.mu.Unlock()

	if len(added) > 0 && connected {
		if err := s.sendSubscribe(added); err != nil {
			logger.Warn("Failed to subscribe", "symbols", added, "error", err)
		}
	}
}

func (s *FeedService) GetPrice(symbol string) (Price, bool) {
	return s.book.Get(symbol)
}

func (s *FeedService) runLoop() {
	delay := ReconnBaseDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.connect()
		if err != nil {
			logger.Error("Price feed connection failed", "error", err, "retry_in", delay)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > ReconnMaxDelay {
				delay = ReconnMaxDelay
			}
			continue
		}

		// Connected successfully
		delay = ReconnBaseDelay
		s.mu.Lock()
		s.conn = conn
		s.isConnected = true
		allSubs := append([]string(nil), s.subs...)
		s.mu.Unlock()

		if len(allSubs) > 0 {
			if err := s.sendSubscribe(allSubs); err != nil {
				logger.Error("Failed to resubscribe", "error", err)
				conn.Close()
				s.setDisconnected()
				continue
			}
		}

		pingDone := make(chan struct{})
		go s.pingLoop(conn, pingDone)
		s.readLoop(conn)
		close(pingDone)
		s.setDisconnected()
	}
}

func (s *FeedService) setDisconnected() {
	s.mu.Lock()
	s.isConnected = false
	s.conn = nil
	s.mu.Unlock()
}

func (s *FeedService) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(s.ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	// Zombie Check: no data or pong within PingPeriod + buffer means dead.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	return conn, nil
}

func (s *FeedService) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type WSMessage struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Mark      string `json:"mark"`
	Quote     string `json:"quote"`
	Timestamp int64  `json:"ts"` // unix millis
}

func (s *FeedService) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	readTimeout := PingPeriod + 10*time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Error("Price feed read error", "error", err)
			}
			return
		}

		var msgs []WSMessage
		if err := json.Unmarshal(message, &msgs); err != nil {
			var single WSMessage
			if err2 := json.Unmarshal(message, &single); err2 != nil {
				continue
			}
			msgs = []WSMessage{single}
		}

		for _, m := range msgs {
			if m.Type == "price" && m.Symbol != "" {
				s.processPrice(m)
			}
		}
	}
}

func (s *FeedService) processPrice(msg WSMessage) {
	mark, err := decimal.NewFromString(msg.Mark)
	if err != nil || !mark.IsPositive() {
		logger.Debug("Dropping malformed price", "symbol", msg.Symbol, "mark", msg.Mark)
		return
	}
	quote := decimal.NewFromInt(1)
	if msg.Quote != "" {
		if q, err := decimal.NewFromString(msg.Quote); err == nil && q.IsPositive() {
			quote = q
		}
	}
	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}
	s.book.Update(Price{Symbol: msg.Symbol, Mark: mark, Quote: quote, LastUpdated: ts})
}

func (s *FeedService) sendSubscribe(symbols []string) error {
	msg := map[string]interface{}{
		"type":    "subscribe",
		"symbols": symbols,
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}
