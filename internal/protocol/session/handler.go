package session

import (
	"time"

	"github.com/danmuck/wsclient/internal/protocol/packet"
)

// Handler receives session events. Calls come from transport and loop
// goroutines; a panic inside a callback is recovered and logged.
type Handler interface {
	OnConnecting()
	OnConnected(clientID string)
	OnDisconnected(code int, reason string)
	OnReceivedPacket(p packet.Packet)
	OnError(err error)
	OnPingTime(rtt time.Duration)
}

// HandlerFuncs adapts optional funcs to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connecting     func()
	Connected      func(clientID string)
	Disconnected   func(code int, reason string)
	ReceivedPacket func(p packet.Packet)
	Error          func(err error)
	PingTime       func(rtt time.Duration)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnConnecting() {
	if h.Connecting != nil {
		h.Connecting()
	}
}

func (h HandlerFuncs) OnConnected(clientID string) {
	if h.Connected != nil {
		h.Connected(clientID)
	}
}

func (h HandlerFuncs) OnDisconnected(code int, reason string) {
	if h.Disconnected != nil {
		h.Disconnected(code, reason)
	}
}

func (h HandlerFuncs) OnReceivedPacket(p packet.Packet) {
	if h.ReceivedPacket != nil {
		h.ReceivedPacket(p)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) OnPingTime(rtt time.Duration) {
	if h.PingTime != nil {
		h.PingTime(rtt)
	}
}
