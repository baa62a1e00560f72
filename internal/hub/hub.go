package hub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/observability"
	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/danmuck/wsclient/internal/protocol/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrPeerNotFound = errors.New("hub: peer not found")

// PacketHandler receives every application packet a peer sends.
type PacketHandler func(peer *Peer, p packet.Packet)

// Echo writes each packet back to its sender unchanged.
func Echo(peer *Peer, p packet.Packet) {
	if err := peer.Send(p); err != nil {
		logs.Warnf("hub.Echo peer=%s err=%v", peer.ID, err)
	}
}

// Hub is a reference server for the session protocol: it assigns client IDs,
// honors the X-Session-ID resumption cookie, sends the type-0 handshake and
// hands every later packet to a PacketHandler.
type Hub struct {
	cfg      Config
	handler  PacketHandler
	upgrader websocket.Upgrader
	router   chi.Router
	started  time.Time

	mu    sync.RWMutex
	peers map[string]*Peer
}

func New(cfg Config, handler PacketHandler) (*Hub, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = Echo
	}
	observability.RegisterMetrics()
	h := &Hub{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			Subprotocols: cfg.Subprotocols,
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		started: time.Now(),
		peers:   make(map[string]*Peer),
	}
	h.router = h.routes()
	return h, nil
}

func (h *Hub) Handler() http.Handler {
	return h.router
}

// Run listens on cfg.Addr (TLS when a cert pair is configured) and serves
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := h.listen()
	if err != nil {
		return err
	}
	logs.Infof("hub.Run listening addr=%q path=%q", ln.Addr().String(), h.cfg.Path)
	return h.Serve(ctx, ln)
}

func (h *Hub) listen() (net.Listener, error) {
	if h.cfg.TLSCertFile == "" {
		return net.Listen("tcp", h.cfg.Addr)
	}
	cert, err := tls.LoadX509KeyPair(h.cfg.TLSCertFile, h.cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("hub: load tls keypair: %w", err)
	}
	return tls.Listen("tcp", h.cfg.Addr, &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	})
}

// Serve runs the HTTP server on ln. On cancellation every peer gets a
// going-away close before the server shuts down.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	h.CloseAll(websocket.CloseGoingAway, "server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("hub.serveWS upgrade remote=%q err=%v", r.RemoteAddr, err)
		return
	}
	defer ws.Close()
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}

	peer := &Peer{
		ID:           uuid.NewString(),
		SessionID:    sessionIDFromRequest(r),
		Platform:     r.Header.Get(session.HeaderPlatform),
		Connected:    time.Now(),
		ws:           ws,
		writeTimeout: h.cfg.WriteTimeout,
	}

	if !h.cfg.platformAllowed(peer.Platform) {
		logs.Warnf("hub.serveWS rejected platform=%q remote=%q", peer.Platform, r.RemoteAddr)
		_ = peer.Close(session.ClosePolicyRejected, "platform not allowed")
		drainUntilClosed(ws, h.cfg.WriteTimeout)
		return
	}

	h.add(peer)
	defer h.remove(peer)

	meta, err := session.Verification{ID: peer.ID, SID: peer.SessionID, Info: h.info(peer)}.Encode()
	if err != nil {
		logs.Errf("hub.serveWS encode handshake peer=%s err=%v", peer.ID, err)
		return
	}
	if err := peer.Send(packet.New(packet.TypeVerification, meta, nil)); err != nil {
		logs.Warnf("hub.serveWS send handshake peer=%s err=%v", peer.ID, err)
		return
	}
	logs.Infof("hub.serveWS verified peer=%s sid=%s platform=%q", peer.ID, peer.SessionID, peer.Platform)
	h.readLoop(peer)
}

func (h *Hub) readLoop(peer *Peer) {
	for {
		mt, data, err := peer.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				logs.Infof("hub.readLoop peer=%s closed code=%d reason=%q", peer.ID, ce.Code, ce.Text)
			} else {
				logs.Debugf("hub.readLoop peer=%s err=%v", peer.ID, err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		observability.RecordHubPacket("in")

		p, err := packet.Decode(data)
		if err != nil {
			logs.Warnf("hub.readLoop peer=%s err=%v", peer.ID, err)
			continue
		}
		if p.IsVerification() {
			logs.Warnf("hub.readLoop peer=%s sent a handshake packet", peer.ID)
			_ = peer.Close(websocket.CloseProtocolError, "handshake is server-only")
			continue
		}
		h.dispatch(peer, p)
	}
}

func (h *Hub) dispatch(peer *Peer, p packet.Packet) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errf("hub.dispatch peer=%s type=%d panic=%v", peer.ID, p.Type(), r)
		}
	}()
	h.handler(peer, p)
}

func (h *Hub) info(peer *Peer) map[string]any {
	info := maps.Clone(h.cfg.Info)
	if info == nil {
		info = make(map[string]any)
	}
	info["hub"] = h.cfg.ID
	info["platform"] = peer.Platform
	return info
}

func (h *Hub) add(peer *Peer) {
	h.mu.Lock()
	h.peers[peer.ID] = peer
	h.mu.Unlock()
	observability.AddHubClients(1)
}

func (h *Hub) remove(peer *Peer) {
	h.mu.Lock()
	delete(h.peers, peer.ID)
	h.mu.Unlock()
	observability.AddHubClients(-1)
}

func (h *Hub) Peer(id string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[id]
	return p, ok
}

// Peers returns connected peers ordered by connect time.
func (h *Hub) Peers() []*Peer {
	h.mu.RLock()
	out := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Connected.Before(out[j].Connected) })
	return out
}

// Kick closes one peer with code. 3000 and 3003 tell the client not to reconnect.
func (h *Hub) Kick(id string, code int, reason string) error {
	peer, ok := h.Peer(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, id)
	}
	logs.Infof("hub.Kick peer=%s code=%d reason=%q", id, code, reason)
	return peer.Close(code, reason)
}

// Broadcast sends p to every peer and returns how many writes succeeded.
func (h *Hub) Broadcast(p packet.Packet) int {
	sent := 0
	for _, peer := range h.Peers() {
		if err := peer.Send(p); err != nil {
			logs.Warnf("hub.Broadcast peer=%s err=%v", peer.ID, err)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) CloseAll(code int, reason string) {
	for _, peer := range h.Peers() {
		_ = peer.Close(code, reason)
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if c, err := r.Cookie(session.SessionCookieName); err == nil {
		if sid := strings.TrimSpace(c.Value); sid != "" {
			return sid
		}
	}
	return uuid.NewString()
}

// drainUntilClosed waits briefly for the client's close echo.
func drainUntilClosed(ws *websocket.Conn, wait time.Duration) {
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
