package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultStreamURL = "wss://fstream.binance.com/ws"

	heartbeatInterval    = 20 * time.Second
	maxHeartbeatFailures = 3
	idleTimeout          = 60 * time.Second
	reconnectBaseDelay   = 5 * time.Second
	reconnectMaxDelay    = 60 * time.Second
	maxReconnectAttempts = 10
	subscribeBatchSize   = 50
	writeTimeout         = 5 * time.Second
)

// wsRequest is the frame format for live subscription management.
type wsRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type klineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime    int64   `json:"t"`
	CloseTime   int64   `json:"T"`
	Symbol      string  `json:"s"`
	Interval    string  `json:"i"`
	Open        float64 `json:"o,string"`
	Close       float64 `json:"c,string"`
	High        float64 `json:"h,string"`
	Low         float64 `json:"l,string"`
	Volume      float64 `json:"v,string"`
	TradeCount  int     `json:"n"`
	IsClosed    bool    `json:"x"`
	QuoteVolume float64 `json:"q,string"`
}

type tickerEvent struct {
	EventType string  `json:"e"`
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	LastPrice float64 `json:"c,string"`
}

// wsStream multiplexes every kline and ticker subscription over one
// long-lived connection. On reconnect it re-issues the full subscription
// list, so subscribers never need to know the connection dropped.
type wsStream struct {
	mu sync.RWMutex

	url       string
	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}

	subs       map[string]struct{}
	reconnects int

	// writeMu serializes data frames; the request id is monotonic per
	// stream lifetime.
	writeMu sync.Mutex
	nextID  int64

	// Callbacks run on the read loop so kline ordering is preserved.
	onKline  func(symbol, interval string, k Kline)
	onTicker func(symbol string, price float64)

	logger zerolog.Logger
}

func newStream(url string, logger zerolog.Logger) *wsStream {
	return &wsStream{
		url:    url,
		subs:   make(map[string]struct{}),
		logger: logger,
	}
}

func (s *wsStream) setKlineCallback(cb func(symbol, interval string, k Kline)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onKline = cb
}

func (s *wsStream) setTickerCallback(cb func(symbol string, price float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTicker = cb
}

// start launches the connection worker. Idempotent.
func (s *wsStream) start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	go s.connect()
}

// stop shuts the worker down and waits up to grace for it to exit.
// Idempotent.
func (s *wsStream) stop(grace time.Duration) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	conn := s.conn
	done := s.doneChan
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn().Msg("stream worker did not exit within grace period")
	}
}

func (s *wsStream) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// healthy reports whether the worker currently holds a live connection.
func (s *wsStream) healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning && s.conn != nil
}

// subscribe sends SUBSCRIBE frames for the given topics and records them for
// replay after a reconnect. Fails when the connection is down, so callers can
// fall back to REST.
func (s *wsStream) subscribe(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	conn := s.conn
	running := s.isRunning
	s.mu.RUnlock()

	if !running || conn == nil {
		return fmt.Errorf("stream not connected")
	}
	if err := s.send(conn, "SUBSCRIBE", topics); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	for _, t := range topics {
		s.subs[t] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

// unsubscribe removes topics from the replay set. The UNSUBSCRIBE frame is
// best effort; a down connection simply never resubscribes them.
func (s *wsStream) unsubscribe(topics []string) {
	if len(topics) == 0 {
		return
	}

	s.mu.Lock()
	for _, t := range topics {
		delete(s.subs, t)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.send(conn, "UNSUBSCRIBE", topics); err != nil {
			s.logger.Debug().Err(err).Msg("unsubscribe frame failed")
		}
	}
}

func (s *wsStream) send(conn *websocket.Conn, method string, params []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.nextID++
	req := wsRequest{Method: method, Params: params, ID: s.nextID}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

// connect dials and re-dials the stream endpoint until stopped. Consecutive
// dial failures back off exponentially from 5s to 60s; after ten in a row the
// worker surrenders and the pipeline is left on REST only.
func (s *wsStream) connect() {
	defer close(s.doneChan)

	attempts := 0
	for {
		if !s.running() {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			attempts++
			if attempts >= maxReconnectAttempts {
				s.logger.Error().Err(err).Int("attempts", attempts).
					Msg("stream reconnect attempts exhausted, giving up")
				s.mu.Lock()
				s.isRunning = false
				s.mu.Unlock()
				return
			}
			delay := reconnectDelay(attempts)
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream connect failed")
			select {
			case <-s.stopChan:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempts = 0
		s.mu.Lock()
		s.conn = conn
		s.reconnects++
		s.mu.Unlock()
		s.logger.Info().Str("url", s.url).Msg("stream connected")

		if err := s.resubscribeAll(conn); err != nil {
			s.logger.Warn().Err(err).Msg("resubscribe after connect failed")
			conn.Close()
			continue
		}

		hbStop := make(chan struct{})
		go s.heartbeatLoop(conn, hbStop)

		s.readLoop(conn)

		close(hbStop)
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if !s.running() {
			return
		}
		s.logger.Warn().Msg("stream connection lost, reconnecting")
	}
}

func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay << (attempt - 1)
	if delay > reconnectMaxDelay || delay <= 0 {
		delay = reconnectMaxDelay
	}
	return delay
}

// resubscribeAll replays the recorded subscription list in batches.
func (s *wsStream) resubscribeAll(conn *websocket.Conn) error {
	s.mu.RLock()
	topics := make([]string, 0, len(s.subs))
	for t := range s.subs {
		topics = append(topics, t)
	}
	s.mu.RUnlock()

	for start := 0; start < len(topics); start += subscribeBatchSize {
		end := start + subscribeBatchSize
		if end > len(topics) {
			end = len(topics)
		}
		if err := s.send(conn, "SUBSCRIBE", topics[start:end]); err != nil {
			return err
		}
	}
	if len(topics) > 0 {
		s.logger.Info().Int("topics", len(topics)).Msg("resubscribed")
	}
	return nil
}

// heartbeatLoop pings every 20s. Three consecutive failures mean the
// connection is gone, so it is closed to kick the read loop into reconnect.
func (s *wsStream) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.ping(conn); err != nil {
				failures++
				s.logger.Warn().Err(err).Int("failures", failures).Msg("heartbeat ping failed")
				if failures >= maxHeartbeatFailures {
					s.logger.Error().Msg("heartbeat failures exceeded, dropping connection")
					conn.Close()
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

func (s *wsStream) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// readLoop consumes messages until the connection dies. Any message or pong
// refreshes the read deadline; with heartbeats going out every 20s, the
// deadline only expires when the connection has gone completely silent.
func (s *wsStream) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("stream closed by server")
			} else {
				s.logger.Warn().Err(err).Msg("stream read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		s.handleMessage(message)
	}
}

// handleMessage accepts both wire shapes: a bare event carrying an "e" type,
// and the combined form that wraps the event in {"stream":...,"data":...}.
func (s *wsStream) handleMessage(message []byte) {
	var combined struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &combined); err == nil && combined.Stream != "" && len(combined.Data) > 0 {
		message = combined.Data
	}

	var base struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.logger.Debug().Err(err).Msg("unparseable stream message")
		return
	}

	switch base.EventType {
	case "kline":
		s.handleKlineEvent(message)
	case "24hrTicker":
		s.handleTickerEvent(message)
	case "":
		// Subscribe/unsubscribe acks carry no event type.
	default:
	}
}

func (s *wsStream) handleKlineEvent(message []byte) {
	var ev klineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		s.logger.Debug().Err(err).Msg("bad kline event")
		return
	}
	if !ev.Kline.IsClosed {
		// Provisional bar; wait for the close.
		return
	}

	s.mu.RLock()
	cb := s.onKline
	s.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(ev.Symbol, ev.Kline.Interval, Kline{
		OpenTime:    ev.Kline.OpenTime,
		Open:        ev.Kline.Open,
		High:        ev.Kline.High,
		Low:         ev.Kline.Low,
		Close:       ev.Kline.Close,
		Volume:      ev.Kline.Volume,
		CloseTime:   ev.Kline.CloseTime,
		QuoteVolume: ev.Kline.QuoteVolume,
		TradeCount:  ev.Kline.TradeCount,
	})
}

func (s *wsStream) handleTickerEvent(message []byte) {
	var ev tickerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		s.logger.Debug().Err(err).Msg("bad ticker event")
		return
	}

	s.mu.RLock()
	cb := s.onTicker
	s.mu.RUnlock()
	if cb != nil {
		cb(ev.Symbol, ev.LastPrice)
	}
}
