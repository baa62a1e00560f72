package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// PendingClientID stands in for the client ID between transport open and verification.
	PendingClientID = "pending"

	SessionCookieName = "X-Session-ID"
	HeaderCookie      = "Cookie"
	HeaderPlatform    = "Sec-Websocket-Platform"
)

// Verification is the metadata of the type-0 handshake packet.
type Verification struct {
	ID   string         `json:"id"`
	SID  string         `json:"sid"`
	Info map[string]any `json:"info"`
}

func (v Verification) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("%w: handshake missing id", ErrProtocolViolation)
	}
	if strings.TrimSpace(v.SID) == "" {
		return fmt.Errorf("%w: handshake missing sid", ErrProtocolViolation)
	}
	if v.Info == nil {
		return fmt.Errorf("%w: handshake missing info", ErrProtocolViolation)
	}
	return nil
}

// Encode renders the handshake metadata. Used by servers and tests.
func (v Verification) Encode() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// ParseVerification decodes handshake metadata. Every field must be present
// with the right JSON kind; unknown fields are ignored.
func ParseVerification(metadata []byte) (Verification, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &raw); err != nil {
		return Verification{}, fmt.Errorf("%w: handshake is not a JSON object: %v", ErrProtocolViolation, err)
	}
	var v Verification
	if err := decodeField(raw, "id", &v.ID); err != nil {
		return Verification{}, err
	}
	if err := decodeField(raw, "sid", &v.SID); err != nil {
		return Verification{}, err
	}
	if err := decodeField(raw, "info", &v.Info); err != nil {
		return Verification{}, err
	}
	if err := v.Validate(); err != nil {
		return Verification{}, err
	}
	return v, nil
}

func decodeField(raw map[string]json.RawMessage, key string, out any) error {
	val, ok := raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
		return fmt.Errorf("%w: handshake missing %s", ErrProtocolViolation, key)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("%w: handshake field %s: %v", ErrProtocolViolation, key, err)
	}
	return nil
}

// SessionCookie renders the resumption cookie value for sid.
func SessionCookie(sid string) string {
	return SessionCookieName + "=" + sid
}
