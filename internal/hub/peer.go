package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wsclient/internal/observability"
	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/danmuck/wsclient/internal/protocol/session"
	"github.com/gorilla/websocket"
)

var ErrPeerClosed = errors.New("hub: peer closed")

// Peer is one accepted client connection.
type Peer struct {
	ID        string
	SessionID string
	Platform  string
	Connected time.Time

	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeMu      sync.Mutex
	closed       bool
}

func (p *Peer) Send(pkt packet.Packet) error {
	return p.write(pkt.Bytes())
}

func (p *Peer) write(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.isClosed() {
		return ErrPeerClosed
	}
	_ = p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if err := p.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("hub: write peer=%s: %w", p.ID, err)
	}
	observability.RecordHubPacket("out")
	return nil
}

// Close sends a close frame; the read loop tears the connection down when the
// client echoes it or the socket fails.
func (p *Peer) Close(code int, reason string) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, session.TruncateCloseReason(reason))
	err := p.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.writeTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = p.ws.Close()
		return fmt.Errorf("hub: close peer=%s: %w", p.ID, err)
	}
	_ = p.ws.SetReadDeadline(time.Now().Add(p.writeTimeout))
	return nil
}

func (p *Peer) isClosed() bool {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closed
}
