// Package session owns the client side of a binary-message WebSocket session.
//
// Ownership boundary:
// - session state machine (connect, verify, disconnect, reconnect)
// - verification handshake record and session resumption cookie
// - ordered outbound send queue with retry-without-reorder
// - keepalive ping/pong supervision
// - close-code policy and reason text
//
// The package never talks to a socket directly. Everything goes through the
// Transport interface; internal/transport/wsconn provides the gorilla/websocket
// implementation.
//
// Loop ownership:
// - the send dispatcher is the only writer of application frames
// - the keepalive loop is the only writer of pings
// - the reconnect supervisor owns the retry timer; at most one retry is pending
package session
