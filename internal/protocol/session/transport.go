package session

import "context"

// Transport is the WebSocket capability the session drives.
//
// Open and Reopen dial and, on success, call Listener.OnOpen before returning
// and before any OnMessage. Every successful open is followed by exactly one
// OnClose. Send must be safe to call concurrently with Ping and Close.
type Transport interface {
	Open(ctx context.Context) error
	Reopen(ctx context.Context) error
	Close(code int, reason string) error
	Send(frame []byte) error
	Ping() error
	IsOpen() bool
	SetHeader(key, value string)
	SetListener(l Listener)
}

// Listener receives transport events, normally on the transport's read goroutine.
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string, remote bool)
	OnPong()
	OnError(err error)
}
