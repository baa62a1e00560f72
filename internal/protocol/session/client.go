package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/observability"
	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Client is a persistent session over a Transport. It verifies the server
// handshake, keeps the link alive, reconnects after non-terminal closes and
// flushes queued packets in order whenever the transport is open.
type Client struct {
	cfg     Config
	tr      Transport
	handler Handler

	mu         sync.RWMutex
	state      State
	sess       sessionState
	opened     bool
	connecting bool
	connID     string

	queue     *sendQueue
	inFlight  atomic.Int64
	keepalive *keepalive
	reconnect *reconnector

	ctx       context.Context
	cancel    context.CancelFunc
	loops     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// NewClient binds the session engine to tr and starts its send, keepalive and
// reconnect loops. Connect must be called to dial.
func NewClient(cfg Config, tr Transport, handler Handler) (*Client, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:       cfg,
		tr:        tr,
		handler:   handler,
		state:     StateIdle,
		sess:      sessionState{sessionID: cfg.SessionID, reconnectEnabled: true},
		queue:     newSendQueue(cfg.MaxQueueLen),
		reconnect: newReconnector(cfg.Reconnect),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.keepalive = &keepalive{
		interval:  cfg.PingInterval,
		threshold: cfg.PingAttempts,
		isOpen:    tr.IsOpen,
		ping:      tr.Ping,
		onTimeout: c.livenessTimeout,
		onRTT:     c.pingTime,
		now:       time.Now,
	}

	tr.SetHeader(HeaderCookie, SessionCookie(cfg.SessionID))
	tr.SetListener(transportEvents{c: c})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runSender(gctx) })
	g.Go(func() error { return c.keepalive.run(gctx) })
	g.Go(func() error { return c.reconnect.run(gctx, c.reconnectNow) })
	c.loops = g
	return c, nil
}

// Connect dials the transport unless it is already open or a dial is in
// flight. The first call opens; later calls reuse the transport's reopen path.
// A failed dial is also reported to OnError and a retry is scheduled.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	c.mu.Lock()
	if c.connecting || c.tr.IsOpen() {
		c.mu.Unlock()
		return nil
	}
	c.beginConnectLocked()
	reopen := c.opened
	c.mu.Unlock()

	c.reconnect.cancel()
	return c.dial(ctx, reopen)
}

// Disconnect closes the transport with code and disables reconnection until
// the next Connect. Safe to call repeatedly.
func (c *Client) Disconnect(code int, reason string) {
	c.mu.Lock()
	c.sess.reconnectEnabled = false
	if c.state == StateDisconnected || c.state == StateReconnecting {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()
	c.reconnect.cancel()

	reason = ReasonForCode(code, reason)
	logs.Infof("session.Client.Disconnect code=%d reason=%q", code, reason)
	if !c.tr.IsOpen() {
		return
	}
	if err := c.tr.Close(code, reason); err != nil {
		c.reportError(fmt.Errorf("%w: close: %w", ErrTransport, err))
	}
}

// Close disconnects terminally, stops all loops and waits for them.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.Disconnect(CloseTerminalDisconnect, "client closed")
		c.cancel()
		c.closeErr = c.loops.Wait()
		c.mu.Lock()
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
	})
	return c.closeErr
}

// Send queues one application packet. Type 0 is reserved for the handshake.
func (c *Client) Send(typ uint8, metadata, attachment []byte) error {
	if typ < packet.MinAppType {
		logs.Errf("session.Client.Send packet type must be between %d and %d got=%d",
			packet.MinAppType, packet.MaxAppType, typ)
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, typ)
	}
	return c.enqueue(packet.New(typ, metadata, attachment))
}

// SendValue queues a packet whose metadata is v encoded with the configured codec.
func (c *Client) SendValue(typ uint8, v any, attachment []byte) error {
	if typ < packet.MinAppType {
		logs.Errf("session.Client.SendValue packet type must be between %d and %d got=%d",
			packet.MinAppType, packet.MaxAppType, typ)
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, typ)
	}
	p, err := packet.Marshal(c.cfg.Codec, typ, v, attachment)
	if err != nil {
		return err
	}
	return c.enqueue(p)
}

func (c *Client) enqueue(p packet.Packet) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	if err := c.queue.pushBack(p); err != nil {
		logs.Warnf("session.Client.enqueue dropped type=%d err=%v", p.Type(), err)
		return err
	}
	observability.SetQueueDepth(c.queue.len())
	return nil
}

// ClientID returns the server-assigned ID, PendingClientID while awaiting
// verification, or false when disconnected.
func (c *Client) ClientID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.clientID, c.sess.hasClientID
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.sessionID
}

func (c *Client) ClientInfo() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.sess.info)
}

func (c *Client) IsConnected() bool {
	return c.tr.IsOpen()
}

func (c *Client) IsVerified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.verified
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) QueueLen() int {
	return c.queue.len()
}

// Pending counts queued packets plus one being written, if any.
func (c *Client) Pending() int {
	queued := c.queue.len()
	return queued + int(c.inFlight.Load())
}

// Flush waits until every queued packet has been handed to the transport.
// It returns ctx.Err() if packets remain when ctx ends.
func (c *Client) Flush(ctx context.Context) error {
	tick := time.NewTicker(c.cfg.SendIdleInterval)
	defer tick.Stop()
	for c.Pending() > 0 {
		c.queue.signal()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

func (c *Client) KeepaliveStats() KeepaliveStats {
	return c.keepalive.stats()
}

// Snapshot returns all session fields read under one lock.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:            c.state,
		ClientID:         c.sess.clientID,
		HasClientID:      c.sess.hasClientID,
		SessionID:        c.sess.sessionID,
		Info:             maps.Clone(c.sess.info),
		Verified:         c.sess.verified,
		ReconnectEnabled: c.sess.reconnectEnabled,
		QueueLen:         c.queue.len(),
	}
}

func (c *Client) setStateLocked(next State) {
	if c.state == next {
		return
	}
	logs.Debugf("session.Client.state %s -> %s", c.state, next)
	c.state = next
}

func (c *Client) beginConnectLocked() {
	c.connecting = true
	c.connID = uuid.NewString()
	c.sess.reconnectEnabled = true
	c.sess.verified = false
	c.setStateLocked(StateConnecting)
}

func (c *Client) dial(ctx context.Context, reopen bool) error {
	c.mu.RLock()
	connID := c.connID
	c.mu.RUnlock()

	c.notify("connecting", c.handler.OnConnecting)
	observability.RecordConnectAttempt(reopen)
	logs.Infof("session.Client.dial conn_id=%s reopen=%t", connID, reopen)

	var err error
	if reopen {
		err = c.tr.Reopen(ctx)
	} else {
		err = c.tr.Open(ctx)
	}

	c.mu.Lock()
	c.connecting = false
	if err == nil {
		c.mu.Unlock()
		return nil
	}
	retry := c.sess.reconnectEnabled && c.ctx.Err() == nil
	if c.state == StateConnecting {
		c.setStateLocked(StateDisconnected)
		if !retry {
			c.setStateLocked(StateIdle)
		}
	}
	c.mu.Unlock()

	err = fmt.Errorf("%w: dial conn_id=%s: %w", ErrTransport, connID, err)
	c.reportError(err)
	if retry {
		c.scheduleReconnect()
	}
	return err
}

func (c *Client) scheduleReconnect() {
	attempt, delay, ok := c.reconnect.schedule()
	if !ok {
		return
	}
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.setStateLocked(StateReconnecting)
	}
	c.mu.Unlock()
	observability.RecordReconnectScheduled()
	logs.Infof("session.Client.scheduleReconnect attempt=%d delay=%s", attempt, delay)
}

// reconnectNow runs on the reconnect supervisor goroutine when a retry is due.
func (c *Client) reconnectNow() {
	c.mu.Lock()
	if !c.sess.reconnectEnabled || c.ctx.Err() != nil || c.connecting || c.tr.IsOpen() {
		c.mu.Unlock()
		return
	}
	c.beginConnectLocked()
	reopen := c.opened
	c.mu.Unlock()
	_ = c.dial(c.ctx, reopen)
}

func (c *Client) handleOpen() {
	c.mu.Lock()
	c.opened = true
	c.sess.clientID = PendingClientID
	c.sess.hasClientID = true
	c.sess.verified = false
	c.setStateLocked(StateAwaitingVerification)
	connID := c.connID
	c.mu.Unlock()

	c.keepalive.reset()
	c.reconnect.resetAttempts()
	c.queue.signal()
	observability.RecordTransportOpen()
	logs.Infof("session.Client.handleOpen conn_id=%s client_id=%s", connID, PendingClientID)
}

func (c *Client) handleMessage(data []byte) {
	defer c.recoverFrame()

	p, err := packet.Decode(data)
	if err != nil {
		observability.RecordProtocolError("malformed")
		c.reportError(err)
		return
	}
	observability.RecordPacketReceived(len(data))

	if p.IsVerification() {
		if err := c.verify(p); err != nil {
			observability.RecordProtocolError("verification")
			c.reportError(err)
		}
		return
	}
	if err := c.deliver(p); err != nil {
		observability.RecordProtocolError("unverified")
		c.reportError(err)
	}
}

// verify applies the handshake. The resumption cookie is updated before the
// lock is released, so a reconnect racing this frame presents the new sid.
func (c *Client) verify(p packet.Packet) error {
	c.mu.Lock()
	if c.sess.verified {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection already verified", ErrProtocolViolation)
	}
	rec, err := ParseVerification(p.Metadata())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sess.clientID = rec.ID
	c.sess.hasClientID = true
	c.sess.sessionID = rec.SID
	c.sess.info = rec.Info
	c.sess.verified = true
	c.tr.SetHeader(HeaderCookie, SessionCookie(rec.SID))
	c.setStateLocked(StateVerified)
	connID := c.connID
	c.mu.Unlock()

	observability.RecordVerified()
	logs.Infof("session.Client.verify conn_id=%s client_id=%q sid=%q", connID, rec.ID, rec.SID)
	c.notify("connected", func() { c.handler.OnConnected(rec.ID) })
	return nil
}

func (c *Client) deliver(p packet.Packet) error {
	if !c.IsVerified() {
		return fmt.Errorf("%w: packet type=%d before verification", ErrProtocolViolation, p.Type())
	}
	if c.cfg.Verbose {
		logs.Debugf("session.Client.received type=%d metadata=%s attachment=%s",
			p.Type(), p.MetadataString(), packet.FormatDataSize(int64(p.AttachmentLen())))
	} else {
		logs.Debugf("session.Client.received type=%d metadata=%s attachment=%s",
			p.Type(), packet.FormatDataSize(int64(p.MetadataLen())), packet.FormatDataSize(int64(p.AttachmentLen())))
	}
	c.notify("received", func() { c.handler.OnReceivedPacket(p) })
	return nil
}

func (c *Client) handleClose(code int, reason string, remote bool) {
	reason = ReasonForCode(code, reason)

	c.mu.Lock()
	c.sess.clientID = ""
	c.sess.hasClientID = false
	c.sess.verified = false
	retry := c.sess.reconnectEnabled && !IsTerminalClose(code) && c.ctx.Err() == nil
	switch {
	case c.ctx.Err() != nil:
		c.setStateLocked(StateClosed)
	case retry:
		c.setStateLocked(StateDisconnected)
	default:
		c.setStateLocked(StateIdle)
	}
	connID := c.connID
	c.mu.Unlock()

	observability.RecordDisconnect(code, remote)
	logs.Infof("session.Client.handleClose conn_id=%s code=%d reason=%q remote=%t reconnect=%t",
		connID, code, reason, remote, retry)
	c.notify("disconnected", func() { c.handler.OnDisconnected(code, reason) })
	if retry {
		c.scheduleReconnect()
	}
}

func (c *Client) livenessTimeout(missed int) {
	observability.RecordLivenessTimeout()
	err := fmt.Errorf("%w: %d pongs missed", ErrLivenessTimeout, missed)
	logs.Warnf("session.Client.livenessTimeout missed=%d timeout=%s", missed, c.cfg.PongTimeout())
	c.reportError(err)
	if err := c.tr.Close(CloseLivenessTimeout, "Connection timeout"); err != nil {
		c.reportError(fmt.Errorf("%w: close: %w", ErrTransport, err))
	}
}

func (c *Client) pingTime(rtt time.Duration) {
	observability.ObservePingRTT(rtt)
	c.notify("ping", func() { c.handler.OnPingTime(rtt) })
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	logs.Errf("session.Client.error err=%v", err)
	c.notify("error", func() { c.handler.OnError(err) })
}

func (c *Client) recoverFrame() {
	if r := recover(); r != nil {
		c.reportError(fmt.Errorf("%w: frame handler panic: %v", ErrProtocolViolation, r))
	}
}

// notify runs one Handler callback; panics stay inside the session layer.
func (c *Client) notify(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errf("session.Client.notify event=%s panic=%v", event, r)
		}
	}()
	fn()
}

type transportEvents struct {
	c *Client
}

func (e transportEvents) OnOpen() {
	e.c.handleOpen()
}

func (e transportEvents) OnMessage(data []byte) {
	e.c.handleMessage(data)
}

func (e transportEvents) OnClose(code int, reason string, remote bool) {
	e.c.handleClose(code, reason, remote)
}

func (e transportEvents) OnPong() {
	e.c.keepalive.pong()
}

func (e transportEvents) OnError(err error) {
	if errors.Is(err, ErrTransport) {
		e.c.reportError(err)
		return
	}
	e.c.reportError(fmt.Errorf("%w: %w", ErrTransport, err))
}
