package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wsclient/internal/protocol/packet"
)

var errFakeDial = errors.New("fake dial refused")

type closeCall struct {
	code   int
	reason string
}

// fakeTransport delivers listener events synchronously on the caller's
// goroutine. dialHeaders records the Cookie header presented on each dial.
type fakeTransport struct {
	mu          sync.Mutex
	listener    Listener
	open        bool
	opens       int
	reopens     int
	failDials   int
	failSends   int
	sendGate    chan struct{}
	sent        [][]byte
	pings       int
	closes      []closeCall
	headers     map[string]string
	dialHeaders []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{headers: make(map[string]string)}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	return f.dial(false)
}

func (f *fakeTransport) Reopen(ctx context.Context) error {
	return f.dial(true)
}

func (f *fakeTransport) dial(reopen bool) error {
	f.mu.Lock()
	f.dialHeaders = append(f.dialHeaders, f.headers[HeaderCookie])
	if f.failDials > 0 {
		f.failDials--
		f.mu.Unlock()
		return errFakeDial
	}
	if reopen {
		f.reopens++
	} else {
		f.opens++
	}
	f.open = true
	l := f.listener
	f.mu.Unlock()
	l.OnOpen()
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	f.closes = append(f.closes, closeCall{code: code, reason: reason})
	if !f.open {
		f.mu.Unlock()
		return nil
	}
	f.open = false
	l := f.listener
	f.mu.Unlock()
	l.OnClose(code, reason, false)
	return nil
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return errors.New("fake write failed")
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

// holdSends blocks every Send until the returned channel is closed.
func (f *fakeTransport) holdSends() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendGate = make(chan struct{})
	return f.sendGate
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) SetHeader(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[key] = value
}

func (f *fakeTransport) SetListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

// serverSend simulates an inbound binary frame.
func (f *fakeTransport) serverSend(frame []byte) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.OnMessage(frame)
}

// serverClose simulates the peer closing the connection.
func (f *fakeTransport) serverClose(code int, reason string) {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return
	}
	f.open = false
	l := f.listener
	f.mu.Unlock()
	l.OnClose(code, reason, true)
}

func (f *fakeTransport) header(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[key]
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) dialCounts() (opens, reopens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.reopens
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens + f.reopens
}

func (f *fakeTransport) closeCalls() []closeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]closeCall(nil), f.closes...)
}

func (f *fakeTransport) cookies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialHeaders...)
}

type events struct {
	connecting   int
	connected    []string
	disconnected []closeCall
	received     []packet.Packet
	errs         []error
	rtts         []time.Duration
}

// recorder is a Handler that keeps every event for assertions.
type recorder struct {
	mu sync.Mutex
	ev events
}

func (r *recorder) OnConnecting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.connecting++
}

func (r *recorder) OnConnected(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.connected = append(r.ev.connected, clientID)
}

func (r *recorder) OnDisconnected(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.disconnected = append(r.ev.disconnected, closeCall{code: code, reason: reason})
}

func (r *recorder) OnReceivedPacket(p packet.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.received = append(r.ev.received, p)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.errs = append(r.ev.errs, err)
}

func (r *recorder) OnPingTime(rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.rtts = append(r.ev.rtts, rtt)
}

func (r *recorder) errCount(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.ev.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		connecting:   r.ev.connecting,
		connected:    append([]string(nil), r.ev.connected...),
		disconnected: append([]closeCall(nil), r.ev.disconnected...),
		received:     append([]packet.Packet(nil), r.ev.received...),
		errs:         append([]error(nil), r.ev.errs...),
		rtts:         append([]time.Duration(nil), r.ev.rtts...),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func verificationFrame(t *testing.T, id, sid string) []byte {
	t.Helper()
	meta, err := Verification{ID: id, SID: sid, Info: map[string]any{"region": "test"}}.Encode()
	if err != nil {
		t.Fatalf("encode verification: %v", err)
	}
	return packet.New(packet.TypeVerification, meta, nil).Bytes()
}
