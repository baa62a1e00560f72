package packet

import (
	"encoding/json"
	"errors"

	"github.com/fxamacker/cbor/v2"
)

var ErrNilCodec = errors.New("packet: nil metadata codec")

// Codec marshals typed metadata sections.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct{}

func (cborCodec) Name() string                       { return "cbor" }
func (cborCodec) Marshal(v any) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

// CodecByName resolves "json" or "cbor"; empty selects JSON.
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "", "json":
		return JSON, true
	case "cbor":
		return CBOR, true
	default:
		return nil, false
	}
}

// Marshal builds a packet whose metadata is v encoded with codec.
func Marshal(codec Codec, typ uint8, v any, attachment []byte) (Packet, error) {
	if codec == nil {
		return Packet{}, ErrNilCodec
	}
	meta, err := codec.Marshal(v)
	if err != nil {
		return Packet{}, err
	}
	return Packet{typ: typ, metadata: meta, attachment: clone(attachment)}, nil
}

// DecodeMetadata unmarshals the metadata section into v.
func (p Packet) DecodeMetadata(codec Codec, v any) error {
	if codec == nil {
		return ErrNilCodec
	}
	return codec.Unmarshal(p.metadata, v)
}
