package session

import "errors"

var (
	ErrProtocolViolation = errors.New("session: protocol violation")
	ErrSendFailure       = errors.New("session: send failure")
	ErrLivenessTimeout   = errors.New("session: liveness timeout")
	ErrTransport         = errors.New("session: transport error")
	ErrInvalidPacketType = errors.New("session: invalid packet type")
	ErrQueueFull         = errors.New("session: send queue full")
	ErrClientClosed      = errors.New("session: client closed")
	ErrNilTransport      = errors.New("session: nil transport")
	ErrInvalidConfig     = errors.New("session: invalid config")
)
