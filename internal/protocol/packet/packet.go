package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderLen is type(1) + metadata length(4).
	HeaderLen = 5

	// TypeVerification is reserved for the server->client session handshake.
	TypeVerification uint8 = 0

	MinAppType uint8 = 1
	MaxAppType uint8 = 255
)

var (
	ErrMalformedPacket = errors.New("packet: malformed packet")
	ErrInvalidSplit    = errors.New("packet: invalid metadata split")
	ErrPayloadTooLarge = errors.New("packet: payload too large")
)

// Packet is one decoded envelope. The zero value is an empty verification packet.
type Packet struct {
	typ        uint8
	metadata   []byte
	attachment []byte
}

// New copies metadata and attachment into an immutable Packet.
func New(typ uint8, metadata, attachment []byte) Packet {
	return Packet{
		typ:        typ,
		metadata:   clone(metadata),
		attachment: clone(attachment),
	}
}

func (p Packet) Type() uint8 {
	return p.typ
}

// IsVerification reports whether p is the reserved handshake packet.
func (p Packet) IsVerification() bool {
	return p.typ == TypeVerification
}

func (p Packet) Metadata() []byte {
	return clone(p.metadata)
}

func (p Packet) MetadataString() string {
	return string(p.metadata)
}

func (p Packet) MetadataLen() int {
	return len(p.metadata)
}

func (p Packet) Attachment() []byte {
	return clone(p.attachment)
}

func (p Packet) AttachmentLen() int {
	return len(p.attachment)
}

// Bytes returns the wire frame for p.
func (p Packet) Bytes() []byte {
	buf := make([]byte, HeaderLen+len(p.metadata)+len(p.attachment))
	buf[0] = p.typ
	binary.BigEndian.PutUint32(buf[1:HeaderLen], uint32(len(p.metadata)))
	n := copy(buf[HeaderLen:], p.metadata)
	copy(buf[HeaderLen+n:], p.attachment)
	return buf
}

func (p Packet) String() string {
	return fmt.Sprintf("packet{type=%d metadata=%s attachment=%s}",
		p.typ, FormatDataSize(int64(len(p.metadata))), FormatDataSize(int64(len(p.attachment))))
}

// Encode frames payload with payload[:split] as metadata and the remainder as attachment.
func Encode(typ uint8, payload []byte, split int) ([]byte, error) {
	if split < 0 || split > len(payload) {
		return nil, fmt.Errorf("%w: split=%d len=%d", ErrInvalidSplit, split, len(payload))
	}
	if uint64(split) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:HeaderLen], uint32(split))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// Decode parses one frame. Any type value is accepted; classification is the caller's.
func Decode(frame []byte) (Packet, error) {
	if len(frame) <= HeaderLen {
		return Packet{}, fmt.Errorf("%w: frame length %d", ErrMalformedPacket, len(frame))
	}
	metaLen := binary.BigEndian.Uint32(frame[1:HeaderLen])
	body := frame[HeaderLen:]
	if uint64(metaLen) > uint64(len(body)) {
		return Packet{}, fmt.Errorf("%w: metadata length %d exceeds %d payload bytes",
			ErrMalformedPacket, metaLen, len(body))
	}
	return Packet{
		typ:        frame[0],
		metadata:   clone(body[:metaLen]),
		attachment: clone(body[metaLen:]),
	}, nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
