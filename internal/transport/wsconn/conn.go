package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/protocol/session"
	"github.com/gorilla/websocket"
)

var _ session.Transport = (*Conn)(nil)

// Conn is a session.Transport over gorilla/websocket. One read goroutine runs
// per open connection and delivers every listener event for it.
type Conn struct {
	cfg    Config
	dialer *websocket.Dialer

	mu          sync.Mutex
	ws          *websocket.Conn
	done        chan struct{}
	header      http.Header
	listener    session.Listener
	closing     bool
	localCode   int
	localReason string

	writeMu sync.Mutex
}

func New(cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  cfg.ConnectTimeout,
		EnableCompression: cfg.Compression,
	}
	if cfg.Subprotocol != "" {
		dialer.Subprotocols = []string{cfg.Subprotocol}
	}
	if cfg.secure() {
		tlsCfg, err := clientTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("wsconn: tls: %w", err)
		}
		dialer.TLSClientConfig = tlsCfg
	}

	header := make(http.Header)
	for k, v := range cfg.Header {
		header.Set(k, v)
	}
	header.Set(session.HeaderPlatform, cfg.Platform)

	return &Conn{
		cfg:      cfg,
		dialer:   dialer,
		header:   header,
		listener: nopListener{},
	}, nil
}

func (c *Conn) SetListener(l session.Listener) {
	if l == nil {
		l = nopListener{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// SetHeader replaces a handshake header for subsequent dials.
func (c *Conn) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header.Set(key, value)
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil && !c.closing
}

func (c *Conn) Open(ctx context.Context) error {
	if err := c.awaitClosed(ctx); err != nil {
		return err
	}
	return c.dial(ctx)
}

// Reopen drops any live connection and dials again with the current headers.
func (c *Conn) Reopen(ctx context.Context) error {
	if c.IsOpen() {
		_ = c.Close(websocket.CloseNormalClosure, "reopen")
	}
	if err := c.awaitClosed(ctx); err != nil {
		return err
	}
	return c.dial(ctx)
}

// awaitClosed waits out a close handshake that is still in flight.
func (c *Conn) awaitClosed(ctx context.Context) error {
	c.mu.Lock()
	draining := c.ws != nil && c.closing
	done := c.done
	c.mu.Unlock()
	if !draining {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	header := c.header.Clone()
	l := c.listener
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	ws, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("wsconn: dial %s: status=%d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("wsconn: dial %s: %w", c.cfg.URL, err)
	}
	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}
	ws.SetPongHandler(func(string) error {
		l.OnPong()
		return nil
	})

	done := make(chan struct{})
	c.mu.Lock()
	c.ws = ws
	c.done = done
	c.closing = false
	c.localCode = 0
	c.localReason = ""
	c.mu.Unlock()

	logs.Debugf("wsconn.Conn.dial url=%s subprotocol=%q", c.cfg.URL, ws.Subprotocol())
	l.OnOpen()
	go c.readLoop(ws, l, done)
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, l session.Listener, done chan struct{}) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.finish(ws, l, err, done)
			return
		}
		if mt != websocket.BinaryMessage {
			logs.Warnf("wsconn.Conn.readLoop ignoring message type=%d size=%d", mt, len(data))
			continue
		}
		l.OnMessage(data)
	}
}

// finish resolves the close code for a dead connection and emits exactly one
// OnClose. A close we started reports our own code even if the peer echoed
// another one.
func (c *Conn) finish(ws *websocket.Conn, l session.Listener, err error, done chan struct{}) {
	c.mu.Lock()
	local := c.closing
	code, reason := c.localCode, c.localReason
	if c.ws == ws {
		c.ws = nil
		c.closing = false
	}
	c.mu.Unlock()

	remote := false
	var ce *websocket.CloseError
	switch {
	case local:
	case errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure:
		// gorilla reports a dropped socket as its own 1006 CloseError; only a
		// received close frame lands here.
		code, reason, remote = ce.Code, ce.Text, true
	default:
		code, reason, remote = websocket.CloseAbnormalClosure, "", true
		l.OnError(fmt.Errorf("wsconn: read: %w", err))
	}
	_ = ws.Close()
	logs.Debugf("wsconn.Conn.finish code=%d reason=%q remote=%t", code, reason, remote)
	l.OnClose(code, reason, remote)
	close(done)
}

// Close sends a close frame and waits up to CloseTimeout for the peer's echo
// before the read loop gives up on it.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	ws := c.ws
	if ws == nil || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.localCode = code
	c.localReason = reason
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, session.TruncateCloseReason(reason))
	err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.CloseTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = ws.Close()
		return fmt.Errorf("wsconn: close code=%d: %w", code, err)
	}
	return nil
}

func (c *Conn) Send(frame []byte) error {
	ws, err := c.current()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("wsconn: write deadline: %w", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("wsconn: write: %w", err)
	}
	return nil
}

func (c *Conn) Ping() error {
	ws, err := c.current()
	if err != nil {
		return err
	}
	if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("wsconn: ping: %w", err)
	}
	return nil
}

func (c *Conn) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.closing {
		return nil, ErrNotOpen
	}
	return c.ws, nil
}

type nopListener struct{}

func (nopListener) OnOpen()                   {}
func (nopListener) OnMessage([]byte)          {}
func (nopListener) OnClose(int, string, bool) {}
func (nopListener) OnPong()                   {}
func (nopListener) OnError(error)             {}
