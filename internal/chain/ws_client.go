package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// WSClient subscribes to newHeads over a WebSocket connection and
// resubscribes after reconnecting.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// heads is nil until SubscribeNewHeads is called; the client holds at
	// most one newHeads subscription
	heads  chan Head
	subID  string
	subsMu sync.RWMutex

	// pending maps request id to the channel waiting for a subscription id
	pending   map[uint64]chan string
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// Compile-time interface check.
var _ HeadSubscriber = (*WSClient)(nil)

// NewWSClient creates a WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *log.Logger) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		pending:  make(map[uint64]chan string),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// SubscribeNewHeads subscribes to new block headers. Heads are delivered on
// the returned channel until Close; a full channel drops the oldest
// notification since only the latest head matters.
func (c *WSClient) SubscribeNewHeads(ctx context.Context) (<-chan Head, error) {
	ch := make(chan Head, 16)
	c.subsMu.Lock()
	if c.heads != nil {
		c.subsMu.Unlock()
		return nil, fmt.Errorf("already subscribed")
	}
	c.heads = ch
	c.subsMu.Unlock()

	if _, err := c.subscribe(ctx); err != nil {
		c.subsMu.Lock()
		if c.heads == ch {
			c.heads = nil
		}
		c.subID = ""
		c.subsMu.Unlock()
		return nil, err
	}
	return ch, nil
}

// subscribe sends eth_subscribe and waits for the subscription id.
func (c *WSClient) subscribe(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	confirmCh := make(chan string, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = confirmCh
	c.pendingMu.Unlock()

	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		cleanup()
		return "", fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	})
	c.connMu.Unlock()
	if err != nil {
		cleanup()
		return "", fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return "", fmt.Errorf("client closed")
		}
		return subID, nil
	case <-time.After(c.config.SubscribeTimeout):
		cleanup()
		return "", fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return "", fmt.Errorf("client closed")
	case <-ctx.Done():
		cleanup()
		return "", ctx.Err()
	}
}

// Close closes the connection and the heads channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	if c.heads != nil {
		close(c.heads)
		c.heads = nil
	}
	c.subsMu.Unlock()
	return nil
}

// readLoop reads messages and dispatches them; read errors trigger a
// reconnect with exponential backoff.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}
			reconnectDelay *= 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Printf("ws: reconnect failed: %v", err)
		return
	}

	c.subsMu.RLock()
	subscribed := c.heads != nil
	c.subsMu.RUnlock()
	if !subscribed {
		return
	}

	if _, err := c.subscribe(ctx); err != nil {
		c.logger.Printf("ws: resubscribe failed: %v", err)
		return
	}
	c.logger.Println("ws: reconnected and resubscribed to newHeads")
}

func (c *WSClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch {
	case msg.Method == "eth_subscription" && msg.Params != nil:
		c.handleHead(msg.Params)
	case msg.Error != nil:
		c.logger.Printf("ws: error response: code=%d msg=%s", msg.Error.Code, msg.Error.Message)
	case msg.ID != 0 && len(msg.Result) > 0:
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if !ok {
			return
		}
		// Set before the next message is read so that no head is missed.
		c.subsMu.Lock()
		c.subID = subID
		c.subsMu.Unlock()
		ch <- subID
	}
}

func (c *WSClient) handleHead(params *wsParams) {
	number, err := hexutil.DecodeUint64(params.Result.Number)
	if err != nil {
		return
	}
	head := Head{Number: number, Hash: params.Result.Hash}

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	if c.heads == nil || params.Subscription != c.subID {
		return
	}
	select {
	case c.heads <- head:
	default:
		// Drop the oldest head to make room.
		select {
		case <-c.heads:
		default:
		}
		select {
		case c.heads <- head:
		default:
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// wsMessage is either a response to a request or a subscription
// notification.
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Method  string          `json:"method"`
	Params  *wsParams       `json:"params"`
}

type wsParams struct {
	Subscription string `json:"subscription"`
	Result       wsHead `json:"result"`
}

type wsHead struct {
	Number string `json:"number"`
	Hash   string `json:"hash"`
}
