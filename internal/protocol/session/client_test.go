package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/danmuck/wsclient/internal/testutil/testlog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Reconnect.Interval = 10 * time.Millisecond
	cfg.PingInterval = time.Hour
	cfg.SendRetryDelay = 5 * time.Millisecond
	cfg.SendIdleInterval = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeTransport, *recorder) {
	t.Helper()
	tr := newFakeTransport()
	rec := &recorder{}
	c, err := NewClient(cfg, tr, rec)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, tr, rec
}

func connectAndVerify(t *testing.T, c *Client, tr *fakeTransport, id, sid string) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.serverSend(verificationFrame(t, id, sid))
	if !c.IsVerified() {
		t.Fatalf("expected verified session after handshake")
	}
}

func TestNewClientRejectsNilTransport(t *testing.T) {
	testlog.Start(t)

	if _, err := NewClient(DefaultConfig(), nil, nil); !errors.Is(err, ErrNilTransport) {
		t.Fatalf("expected ErrNilTransport, got %v", err)
	}
}

func TestNewClientInstallsResumeCookie(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.SessionID = "prior"
	_, tr, _ := newTestClient(t, cfg)
	if got := tr.header(HeaderCookie); got != "X-Session-ID=prior" {
		t.Fatalf("unexpected initial cookie: %q", got)
	}
}

func TestClientVerifiesAndResumesSession(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if id, ok := c.ClientID(); !ok || id != PendingClientID {
		t.Fatalf("expected pending client id, got %q ok=%t", id, ok)
	}
	if c.State() != StateAwaitingVerification {
		t.Fatalf("unexpected state after open: %s", c.State())
	}

	tr.serverSend(verificationFrame(t, "c1", "s1"))
	ev := rec.snapshot()
	if len(ev.connected) != 1 || ev.connected[0] != "c1" {
		t.Fatalf("unexpected connected events: %+v", ev.connected)
	}
	if c.SessionID() != "s1" {
		t.Fatalf("unexpected session id: %q", c.SessionID())
	}
	if got := tr.header(HeaderCookie); got != "X-Session-ID=s1" {
		t.Fatalf("cookie not updated: %q", got)
	}
	if c.ClientInfo()["region"] != "test" {
		t.Fatalf("unexpected client info: %+v", c.ClientInfo())
	}
	if c.State() != StateVerified {
		t.Fatalf("unexpected state after verify: %s", c.State())
	}

	tr.serverSend(packet.New(7, []byte(`{"k":"v"}`), []byte{1, 2, 3}).Bytes())
	ev = rec.snapshot()
	if len(ev.received) != 1 {
		t.Fatalf("expected one received packet, got %d", len(ev.received))
	}
	if ev.received[0].Type() != 7 || ev.received[0].AttachmentLen() != 3 {
		t.Fatalf("unexpected packet: %s", ev.received[0])
	}

	tr.serverClose(CloseAbnormalClosure, "")
	ev = rec.snapshot()
	if len(ev.disconnected) != 1 {
		t.Fatalf("expected one disconnect event, got %+v", ev.disconnected)
	}
	if ev.disconnected[0].code != CloseAbnormalClosure || ev.disconnected[0].reason != "Abnormal Closure" {
		t.Fatalf("unexpected disconnect: %+v", ev.disconnected[0])
	}
	if _, ok := c.ClientID(); ok {
		t.Fatalf("client id should be absent after close")
	}

	waitFor(t, "reconnect", func() bool { return c.State() == StateAwaitingVerification })
	cookies := tr.cookies()
	if len(cookies) != 2 || cookies[1] != "X-Session-ID=s1" {
		t.Fatalf("reconnect did not present session cookie: %+v", cookies)
	}
	if _, reopens := tr.dialCounts(); reopens != 1 {
		t.Fatalf("expected reconnect through Reopen, got reopens=%d", reopens)
	}

	tr.serverSend(verificationFrame(t, "c2", "s1"))
	if id, _ := c.ClientID(); id != "c2" {
		t.Fatalf("expected new client id after reconnect, got %q", id)
	}
	if rec.snapshot().connecting != 2 {
		t.Fatalf("expected OnConnecting per dial, got %d", rec.snapshot().connecting)
	}
}

func TestClientRejectsSecondVerification(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	connectAndVerify(t, c, tr, "c1", "s1")

	tr.serverSend(verificationFrame(t, "c2", "s2"))
	if rec.errCount(ErrProtocolViolation) != 1 {
		t.Fatalf("expected protocol violation, got %+v", rec.snapshot().errs)
	}
	if id, _ := c.ClientID(); id != "c1" {
		t.Fatalf("client id changed on duplicate handshake: %q", id)
	}
	if c.SessionID() != "s1" {
		t.Fatalf("session id changed on duplicate handshake: %q", c.SessionID())
	}
	if n := len(rec.snapshot().connected); n != 1 {
		t.Fatalf("OnConnected fired %d times", n)
	}
}

func TestClientRejectsInvalidHandshake(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.serverSend(packet.New(packet.TypeVerification, []byte(`{"id":"c1"}`), nil).Bytes())
	if c.IsVerified() {
		t.Fatalf("handshake without sid must not verify")
	}
	if rec.errCount(ErrProtocolViolation) != 1 {
		t.Fatalf("expected protocol violation, got %+v", rec.snapshot().errs)
	}
	if id, _ := c.ClientID(); id != PendingClientID {
		t.Fatalf("unexpected client id: %q", id)
	}
}

func TestClientRejectsPacketsBeforeVerification(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.serverSend(packet.New(3, []byte("{}"), nil).Bytes())

	ev := rec.snapshot()
	if len(ev.received) != 0 {
		t.Fatalf("unverified packet was delivered")
	}
	if rec.errCount(ErrProtocolViolation) != 1 {
		t.Fatalf("expected protocol violation, got %+v", ev.errs)
	}
}

func TestClientReportsMalformedFrames(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	connectAndVerify(t, c, tr, "c1", "s1")

	tr.serverSend([]byte{1, 0, 0})
	tr.serverSend([]byte{1, 0, 0, 0, 9, 'x'})
	if rec.errCount(packet.ErrMalformedPacket) != 2 {
		t.Fatalf("expected two malformed errors, got %+v", rec.snapshot().errs)
	}
	if !c.IsConnected() {
		t.Fatalf("malformed frames must not close the connection")
	}
}

func TestClientDisconnectSuppressesReconnect(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	connectAndVerify(t, c, tr, "c1", "s1")

	c.Disconnect(CloseTerminalDisconnect, "bye")
	closes := tr.closeCalls()
	if len(closes) != 1 || closes[0].code != CloseTerminalDisconnect || closes[0].reason != "bye" {
		t.Fatalf("unexpected close calls: %+v", closes)
	}
	time.Sleep(50 * time.Millisecond)
	if tr.dialCount() != 1 {
		t.Fatalf("reconnected after local disconnect: dials=%d", tr.dialCount())
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.ReconnectEnabled || snap.Verified {
		t.Fatalf("unexpected snapshot after disconnect: %+v", snap)
	}
	if n := len(rec.snapshot().disconnected); n != 1 {
		t.Fatalf("expected one disconnect event, got %d", n)
	}

	// Disconnect on a closed transport is a no-op.
	c.Disconnect(CloseNormalClosure, "")
	if len(tr.closeCalls()) != 1 {
		t.Fatalf("second disconnect reached the transport")
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect after disconnect: %v", err)
	}
	if _, reopens := tr.dialCounts(); reopens != 1 || !c.Snapshot().ReconnectEnabled {
		t.Fatalf("connect should reopen and re-enable reconnect: reopens=%d", reopens)
	}
}

func TestClientTerminalRemoteCodesSuppressReconnect(t *testing.T) {
	for _, code := range []int{CloseTerminalDisconnect, ClosePolicyRejected} {
		t.Run(fmt.Sprintf("code=%d", code), func(t *testing.T) {
			testlog.Start(t)

			c, tr, rec := newTestClient(t, testConfig())
			connectAndVerify(t, c, tr, "c1", "s1")

			tr.serverClose(code, "")
			time.Sleep(50 * time.Millisecond)
			if tr.dialCount() != 1 {
				t.Fatalf("code %d triggered reconnect", code)
			}
			ev := rec.snapshot()
			if len(ev.disconnected) != 1 || ev.disconnected[0].reason != "(For libraries and frameworks)" {
				t.Fatalf("unexpected disconnect events: %+v", ev.disconnected)
			}
			if c.State() != StateIdle {
				t.Fatalf("unexpected state: %s", c.State())
			}
		})
	}
}

func TestClientConnectIsNoopWhileOpen(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if tr.dialCount() != 1 || rec.snapshot().connecting != 1 {
		t.Fatalf("expected one dial, got dials=%d connecting=%d", tr.dialCount(), rec.snapshot().connecting)
	}
}

func TestClientDialFailureSchedulesRetry(t *testing.T) {
	testlog.Start(t)

	c, tr, rec := newTestClient(t, testConfig())
	tr.mu.Lock()
	tr.failDials = 2
	tr.mu.Unlock()

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if rec.errCount(ErrTransport) < 1 {
		t.Fatalf("dial failure not reported to OnError")
	}

	waitFor(t, "retry after dial failure", func() bool { return c.IsConnected() })
	if len(tr.cookies()) != 3 {
		t.Fatalf("expected three dial attempts, got %d", len(tr.cookies()))
	}
	if opens, reopens := tr.dialCounts(); opens != 1 || reopens != 0 {
		t.Fatalf("first successful dial should use Open: opens=%d reopens=%d", opens, reopens)
	}
}

func TestClientSendPreservesOrderAcrossFailures(t *testing.T) {
	testlog.Start(t)

	c, tr, _ := newTestClient(t, testConfig())
	tr.mu.Lock()
	tr.failSends = 2
	tr.mu.Unlock()

	for typ := uint8(1); typ <= 3; typ++ {
		if err := c.Send(typ, []byte(`{"n":1}`), []byte{typ}); err != nil {
			t.Fatalf("send type=%d: %v", typ, err)
		}
	}
	if c.QueueLen() != 3 {
		t.Fatalf("expected packets queued before connect, got %d", c.QueueLen())
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "queued packets", func() bool { return len(tr.sentFrames()) == 3 })

	for i, frame := range tr.sentFrames() {
		p, err := packet.Decode(frame)
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if p.Type() != uint8(i+1) {
			t.Fatalf("frame %d out of order: type=%d", i, p.Type())
		}
	}
	if c.QueueLen() != 0 {
		t.Fatalf("queue not drained: %d", c.QueueLen())
	}
}

func TestClientSendRejectsVerificationType(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestClient(t, testConfig())
	if err := c.Send(packet.TypeVerification, nil, nil); !errors.Is(err, ErrInvalidPacketType) {
		t.Fatalf("expected ErrInvalidPacketType, got %v", err)
	}
	if err := c.SendValue(packet.TypeVerification, map[string]string{}, nil); !errors.Is(err, ErrInvalidPacketType) {
		t.Fatalf("expected ErrInvalidPacketType, got %v", err)
	}
	if c.QueueLen() != 0 {
		t.Fatalf("rejected packet was queued")
	}
}

func TestClientSendValueUsesCodec(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.Codec = packet.CBOR
	c, tr, _ := newTestClient(t, cfg)
	if err := c.SendValue(4, map[string]int{"a": 1}, nil); err != nil {
		t.Fatalf("send value: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "cbor packet", func() bool { return len(tr.sentFrames()) == 1 })

	p, err := packet.Decode(tr.sentFrames()[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var out map[string]int
	if err := p.DecodeMetadata(packet.CBOR, &out); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if out["a"] != 1 {
		t.Fatalf("unexpected metadata: %+v", out)
	}
}

func TestClientBoundedQueue(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.MaxQueueLen = 2
	c, _, _ := newTestClient(t, cfg)
	for i := 0; i < 2; i++ {
		if err := c.Send(1, nil, nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.Send(1, nil, nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestClientLivenessTimeoutReconnects(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.PingInterval = 5 * time.Millisecond
	cfg.PingAttempts = 2
	c, tr, rec := newTestClient(t, cfg)
	connectAndVerify(t, c, tr, "c1", "s1")

	waitFor(t, "liveness close", func() bool {
		for _, call := range tr.closeCalls() {
			if call.code == CloseLivenessTimeout {
				return true
			}
		}
		return false
	})
	if rec.errCount(ErrLivenessTimeout) < 1 {
		t.Fatalf("liveness timeout not reported")
	}
	waitFor(t, "reconnect after liveness timeout", func() bool { return tr.dialCount() >= 2 })

	ev := rec.snapshot()
	if len(ev.disconnected) == 0 || ev.disconnected[0].code != CloseLivenessTimeout || ev.disconnected[0].reason != "Connection timeout" {
		t.Fatalf("unexpected disconnect events: %+v", ev.disconnected)
	}
}

func TestClientReportsPingTime(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.PingInterval = 20 * time.Millisecond
	c, tr, rec := newTestClient(t, cfg)
	connectAndVerify(t, c, tr, "c1", "s1")

	waitFor(t, "first ping", func() bool { return c.KeepaliveStats().AwaitingPong })
	tr.mu.Lock()
	l := tr.listener
	tr.mu.Unlock()
	l.OnPong()

	if len(rec.snapshot().rtts) != 1 {
		t.Fatalf("expected one ping time, got %+v", rec.snapshot().rtts)
	}
}

func TestClientHandlerPanicIsContained(t *testing.T) {
	testlog.Start(t)

	tr := newFakeTransport()
	h := HandlerFuncs{Connected: func(string) { panic("boom") }}
	c, err := NewClient(testConfig(), tr, h)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.serverSend(verificationFrame(t, "c1", "s1"))
	if !c.IsVerified() {
		t.Fatalf("handler panic broke verification")
	}
}

func TestClientClose(t *testing.T) {
	testlog.Start(t)

	c, tr, _ := newTestClient(t, testConfig())
	connectAndVerify(t, c, tr, "c1", "s1")

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("unexpected state after close: %s", c.State())
	}
	closes := tr.closeCalls()
	if len(closes) != 1 || closes[0].code != CloseTerminalDisconnect {
		t.Fatalf("unexpected close calls: %+v", closes)
	}
	if err := c.Send(1, nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed from send, got %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed from connect, got %v", err)
	}
}

func TestClientFlushWaitsForInFlightSend(t *testing.T) {
	testlog.Start(t)

	c, tr, _ := newTestClient(t, testConfig())
	connectAndVerify(t, c, tr, "c1", "s1")
	gate := tr.holdSends()
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)

	if err := c.Send(1, []byte(`{"text":"bye"}`), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "packet popped", func() bool { return c.QueueLen() == 0 && c.Pending() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	err := c.Flush(ctx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("flush returned with a send in flight: %v", err)
	}

	release()
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(tr.sentFrames()) != 1 || c.Pending() != 0 {
		t.Fatalf("expected one written frame, sent=%d pending=%d", len(tr.sentFrames()), c.Pending())
	}
}
