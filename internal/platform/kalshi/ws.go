package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/platform/backoff"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pingPeriod is the liveness ping interval while the stream is open.
	pingPeriod = 30 * time.Second

	// pongWait is two ping intervals; a stream silent that long is treated
	// as closed.
	pongWait = 2 * pingPeriod

	// authTimeout bounds the post-open auth handshake.
	authTimeout = 5 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second
)

// State is the connection lifecycle state of the stream client.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateAuthPending  State = "auth_pending"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosing      State = "closing"
)

// BookHandler receives each normalized, delta-resolved order book.
type BookHandler func(domain.OrderBook)

// WSClient is the venue B stream client. The venue requires an auth
// message immediately after stream open; the client holds subscriptions in
// a desired set and replays them after every successful (re)connect. Delta
// messages are resolved into full books before they leave this package.
type WSClient struct {
	wsURL  string
	apiKey string
	policy backoff.Policy
	logger *slog.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	state           State
	desired         map[string]struct{}
	books           map[string]*bookState
	cmdID           int64
	connDone        chan struct{}
	reconnectCancel context.CancelFunc

	handlerMu    sync.RWMutex
	bookHandlers []BookHandler
	connected    []func()
	dropped      []func(reason string)
	fatal        []func(err error)
}

// NewWSClient creates a stream client for the given websocket URL.
func NewWSClient(wsURL, apiKey string, policy backoff.Policy, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		apiKey:  apiKey,
		policy:  policy,
		logger:  logger.With(slog.String("component", "kalshi_ws")),
		state:   StateIdle,
		desired: make(map[string]struct{}),
		books:   make(map[string]*bookState),
	}
}

// OnBook registers a handler invoked for every normalized book. Handlers
// for one ticker run in stream arrival order.
func (w *WSClient) OnBook(h BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, h)
}

// OnConnected registers a handler invoked after each successful open.
func (w *WSClient) OnConnected(h func()) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.connected = append(w.connected, h)
}

// OnDisconnected registers a handler invoked when the stream drops.
func (w *WSClient) OnDisconnected(h func(reason string)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.dropped = append(w.dropped, h)
}

// OnFatal registers a handler invoked when reconnection is exhausted.
func (w *WSClient) OnFatal(h func(err error)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.fatal = append(w.fatal, h)
}

// CurrentState returns the current lifecycle state.
func (w *WSClient) CurrentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Connect opens the stream, completes the auth handshake, and re-issues
// every desired subscription.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateOpen || w.state == StateConnecting || w.state == StateAuthPending {
		w.mu.Unlock()
		return nil
	}
	w.state = StateConnecting
	w.mu.Unlock()

	if err := w.dial(ctx); err != nil {
		w.mu.Lock()
		w.state = StateIdle
		w.mu.Unlock()
		return err
	}
	return nil
}

// Subscribe adds the ticker to the desired-subscription set. Idempotent;
// buffered while the stream is down.
func (w *WSClient) Subscribe(ticker string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.desired[ticker]; ok {
		return nil
	}
	w.desired[ticker] = struct{}{}

	if w.state == StateOpen && w.conn != nil {
		return w.sendCommand("subscribe", []string{ticker})
	}
	return nil
}

// Unsubscribe removes the ticker from the desired set. Idempotent.
func (w *WSClient) Unsubscribe(ticker string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.desired[ticker]; !ok {
		return nil
	}
	delete(w.desired, ticker)
	delete(w.books, ticker)

	if w.state == StateOpen && w.conn != nil {
		return w.sendCommand("unsubscribe", []string{ticker})
	}
	return nil
}

// Subscriptions returns the desired-subscription set.
func (w *WSClient) Subscriptions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.desired))
	for t := range w.desired {
		out = append(out, t)
	}
	return out
}

// Disconnect cancels any pending reconnect, closes the stream, and clears
// the desired-subscription set.
func (w *WSClient) Disconnect() {
	w.mu.Lock()
	w.state = StateClosing
	if w.reconnectCancel != nil {
		w.reconnectCancel()
		w.reconnectCancel = nil
	}
	conn := w.conn
	done := w.connDone
	w.conn = nil
	w.connDone = nil
	w.desired = make(map[string]struct{})
	w.books = make(map[string]*bookState)
	w.state = StateIdle
	w.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// dial establishes the websocket, runs the auth handshake, replays the
// desired subscriptions, and starts the per-connection loops.
func (w *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}

	w.mu.Lock()
	w.state = StateAuthPending
	w.mu.Unlock()

	if err := w.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.connDone = make(chan struct{})
	w.state = StateOpen
	w.reconnectCancel = nil
	done := w.connDone

	if len(w.desired) > 0 {
		tickers := make([]string, 0, len(w.desired))
		for t := range w.desired {
			tickers = append(tickers, t)
		}
		if err := w.sendCommand("subscribe", tickers); err != nil {
			w.conn = nil
			w.connDone = nil
			w.state = StateIdle
			w.mu.Unlock()
			conn.Close()
			return fmt.Errorf("kalshi/ws: restore subscriptions: %w", err)
		}
	}
	w.mu.Unlock()

	go w.readLoop(conn, done)
	go w.pingLoop(conn, done)

	w.emitConnected()
	return nil
}

// authenticate sends the auth command and waits up to authTimeout for the
// success reply. Any other outcome closes the handshake with ErrAuthFailed
// so the reconnect policy applies.
func (w *WSClient) authenticate(conn *websocket.Conn) error {
	w.mu.Lock()
	w.cmdID++
	cmd := KalshiWSCommand{
		ID:     w.cmdID,
		Cmd:    "auth",
		Params: KalshiWSCommandParams{ApiKey: w.apiKey},
	}
	w.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("kalshi/ws: marshal auth: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("kalshi/ws: send auth: %w", err)
	}

	deadline := time.Now().Add(authTimeout)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("kalshi/ws: auth wait: %w", domain.ErrAuthFailed)
		}
		var env KalshiWSMessage
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case "auth_success":
			return nil
		case "auth_error", "error":
			return fmt.Errorf("kalshi/ws: %w", domain.ErrAuthFailed)
		}
	}
	return fmt.Errorf("kalshi/ws: auth timeout: %w", domain.ErrAuthFailed)
}

// sendCommand sends a subscribe/unsubscribe command for the orderbook_delta
// channel. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd string, tickers []string) error {
	w.cmdID++
	msg := KalshiWSCommand{
		ID:  w.cmdID,
		Cmd: cmd,
		Params: KalshiWSCommandParams{
			Channels: []string{"orderbook_delta"},
			Tickers:  tickers,
		},
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmd, err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			w.emitDropped(err.Error())
			w.scheduleReconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes snapshot and delta messages into the per-ticker
// book state and emits the resolved full book. Malformed messages are
// logged and dropped without disturbing the stream.
func (w *WSClient) handleMessage(raw []byte) {
	var env KalshiWSMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Debug("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case "orderbook_snapshot":
		var snap KalshiWSSnapshot
		if err := json.Unmarshal(env.Msg, &snap); err != nil || snap.Ticker == "" {
			w.logger.Debug("dropping malformed snapshot")
			return
		}
		w.mu.Lock()
		st, ok := w.books[snap.Ticker]
		if !ok {
			st = newBookState()
			w.books[snap.Ticker] = st
		}
		st.applySnapshot(snap)
		book := st.toOrderBook(snap.Ticker, time.Now().UTC())
		w.mu.Unlock()
		w.emitBook(book)

	case "orderbook_delta":
		var delta KalshiWSDelta
		if err := json.Unmarshal(env.Msg, &delta); err != nil || delta.Ticker == "" {
			w.logger.Debug("dropping malformed delta")
			return
		}
		w.mu.Lock()
		st, ok := w.books[delta.Ticker]
		if !ok {
			// Delta before snapshot: start from empty so the book converges
			// once the next snapshot arrives.
			st = newBookState()
			w.books[delta.Ticker] = st
		}
		st.applyDelta(delta)
		book := st.toOrderBook(delta.Ticker, time.Now().UTC())
		w.mu.Unlock()
		w.emitBook(book)
	}
}

func (w *WSClient) scheduleReconnect() {
	w.mu.Lock()
	if w.state != StateOpen {
		w.mu.Unlock()
		return
	}
	w.state = StateReconnecting
	w.conn = nil
	w.connDone = nil
	ctx, cancel := context.WithCancel(context.Background())
	w.reconnectCancel = cancel
	w.mu.Unlock()

	go w.reconnectLoop(ctx)
}

func (w *WSClient) reconnectLoop(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if w.policy.Exhausted(attempt) {
			w.mu.Lock()
			w.state = StateIdle
			w.reconnectCancel = nil
			w.mu.Unlock()
			w.emitFatal(fmt.Errorf("kalshi/ws: %w", domain.ErrMaxRetries))
			return
		}

		if err := w.policy.Wait(ctx, attempt); err != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout+authTimeout)
		err := w.dial(dialCtx)
		cancel()
		if err == nil {
			return
		}
		w.mu.Lock()
		if w.state == StateAuthPending {
			w.state = StateReconnecting
		}
		w.mu.Unlock()
		w.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
}

func (w *WSClient) emitBook(book domain.OrderBook) {
	w.handlerMu.RLock()
	handlers := w.bookHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(book)
	}
}

func (w *WSClient) emitConnected() {
	w.handlerMu.RLock()
	handlers := w.connected
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (w *WSClient) emitDropped(reason string) {
	w.handlerMu.RLock()
	handlers := w.dropped
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (w *WSClient) emitFatal(err error) {
	w.handlerMu.RLock()
	handlers := w.fatal
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}
