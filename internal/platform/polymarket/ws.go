package polymarket

import (
	"bytes"
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

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second
)

// State is the connection lifecycle state of the stream client.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosing      State = "closing"
)

// BookHandler receives each normalized order book snapshot.
type BookHandler func(domain.OrderBook)

// WSClient is the venue A stream client. It maintains a single long-lived
// websocket to the CLOB market channel, tracks the desired-subscription set
// independently of the live stream, and re-issues every subscription after
// a reconnect.
type WSClient struct {
	wsURL  string
	policy backoff.Policy
	logger *slog.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	state           State
	desired         map[string]struct{}
	connDone        chan struct{}
	reconnectCancel context.CancelFunc

	handlerMu    sync.RWMutex
	bookHandlers []BookHandler
	connected    []func()
	dropped      []func(reason string)
	fatal        []func(err error)
}

// NewWSClient creates a stream client for the given market-channel URL.
func NewWSClient(wsURL string, policy backoff.Policy, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		policy:  policy,
		logger:  logger.With(slog.String("component", "polymarket_ws")),
		state:   StateIdle,
		desired: make(map[string]struct{}),
	}
}

// OnBook registers a handler invoked for every normalized book snapshot.
// Handlers for one market run in stream arrival order.
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

// Connect opens the stream and re-issues every desired subscription.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateOpen || w.state == StateConnecting {
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

// Subscribe adds the market to the desired-subscription set. Idempotent:
// a second call for the same id is a no-op. When the stream is open the
// subscribe command is sent immediately; otherwise it is issued on the
// next (re)connect.
func (w *WSClient) Subscribe(marketID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.desired[marketID]; ok {
		return nil
	}
	w.desired[marketID] = struct{}{}

	if w.state == StateOpen && w.conn != nil {
		return w.sendCommand(WSCommand{Type: "subscribe", Channel: "market", AssetIDs: []string{marketID}})
	}
	return nil
}

// Unsubscribe removes the market from the desired set. Idempotent.
func (w *WSClient) Unsubscribe(marketID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.desired[marketID]; !ok {
		return nil
	}
	delete(w.desired, marketID)

	if w.state == StateOpen && w.conn != nil {
		return w.sendCommand(WSCommand{Type: "unsubscribe", Channel: "market", AssetIDs: []string{marketID}})
	}
	return nil
}

// Subscriptions returns the desired-subscription set.
func (w *WSClient) Subscriptions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.desired))
	for id := range w.desired {
		out = append(out, id)
	}
	return out
}

// Disconnect cancels any pending reconnect, closes the stream, and clears
// the desired-subscription set. The client returns to Idle and can be
// reused via Connect.
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

// dial establishes the websocket, replays the desired subscriptions, and
// starts the per-connection read and ping loops.
func (w *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
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

	// Re-issue every desired subscription; the stream has no memory across
	// connections.
	if len(w.desired) > 0 {
		ids := make([]string, 0, len(w.desired))
		for id := range w.desired {
			ids = append(ids, id)
		}
		if err := w.sendCommand(WSCommand{Type: "subscribe", Channel: "market", AssetIDs: ids}); err != nil {
			w.conn = nil
			w.connDone = nil
			w.state = StateIdle
			w.mu.Unlock()
			conn.Close()
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
	}
	w.mu.Unlock()

	go w.readLoop(conn, done)
	go w.pingLoop(conn, done)

	w.emitConnected()
	return nil
}

// sendCommand sends a JSON command on the stream. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages until the connection dies, then hands off to the
// reconnect path unless the close was requested via Disconnect.
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

// pingLoop sends periodic pings while the connection is alive. A write
// failure is left for the read loop to observe via the read deadline.
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

// handleMessage parses a raw frame and dispatches book snapshots. The venue
// batches events into JSON arrays; both array and single-object frames are
// accepted. Malformed messages are logged and dropped without disturbing
// the stream.
func (w *WSClient) handleMessage(raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			w.logger.Debug("dropping malformed frame", slog.String("error", err.Error()))
			return
		}
		for _, item := range batch {
			w.handleEvent(item)
		}
		return
	}
	w.handleEvent(trimmed)
}

func (w *WSClient) handleEvent(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Debug("dropping malformed event", slog.String("error", err.Error()))
		return
	}

	if env.EventType != "book" {
		return
	}

	var msg wsBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Debug("dropping malformed book message", slog.String("error", err.Error()))
		return
	}
	book, err := msg.toOrderBook()
	if err != nil {
		w.logger.Debug("dropping unparseable book",
			slog.String("asset_id", msg.AssetID),
			slog.String("error", err.Error()),
		)
		return
	}
	w.emitBook(book)
}

// scheduleReconnect moves the client to Reconnecting and starts the delayed
// connect loop, unless a manual Disconnect already took the state away.
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

// reconnectLoop retries with bounded exponential backoff. On success the
// attempt counter resets implicitly (a fresh loop starts at zero next
// time); on exhaustion the client stays Idle until explicitly restarted.
func (w *WSClient) reconnectLoop(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if w.policy.Exhausted(attempt) {
			w.mu.Lock()
			w.state = StateIdle
			w.reconnectCancel = nil
			w.mu.Unlock()
			w.emitFatal(fmt.Errorf("polymarket/ws: %w", domain.ErrMaxRetries))
			return
		}

		if err := w.policy.Wait(ctx, attempt); err != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		err := w.dial(dialCtx)
		cancel()
		if err == nil {
			return
		}
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
