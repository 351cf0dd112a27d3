package reader

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DialOptions tunes the websocket handshake and read loop of a feed.
type DialOptions struct {
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	InsecureSkipVerify bool
}

// FeedConnectionError reports a dial or read failure on one feed endpoint.
type FeedConnectionError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *FeedConnectionError) Error() string {
	return fmt.Sprintf("feed %s: %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *FeedConnectionError) Unwrap() error { return e.Err }

// Conn is a single websocket subscription. Frames are delivered to the
// message handler from the goroutine that calls Run.
type Conn struct {
	endpoint    string
	ws          *websocket.Conn
	readTimeout time.Duration

	mu        sync.RWMutex
	onMessage func([]byte)
	onError   func(error)

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Dial opens the websocket at endpoint. Cancelling ctx aborts the handshake.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &FeedConnectionError{Endpoint: endpoint, Op: "dial", Err: err}
	}

	return &Conn{endpoint: endpoint, ws: ws, readTimeout: opts.ReadTimeout}, nil
}

func (c *Conn) Endpoint() string { return c.endpoint }

func (c *Conn) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Run reads frames until the connection ends. It returns nil after Close
// or a normal close from the peer, and a *FeedConnectionError otherwise.
func (c *Conn) Run() error {
	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.Close()
				return nil
			}
			ferr := &FeedConnectionError{Endpoint: c.endpoint, Op: "read", Err: err}
			c.mu.RLock()
			onError := c.onError
			c.mu.RUnlock()
			if onError != nil {
				onError(ferr)
			}
			c.Close()
			return ferr
		}
		if typ != websocket.TextMessage {
			continue
		}

		c.mu.RLock()
		onMessage := c.onMessage
		c.mu.RUnlock()
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

// Close sends a close frame and releases the socket. Later calls return the
// first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
