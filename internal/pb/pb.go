// Package pb models the length-delimited WearPacket envelope carried on the
// PB channel (spec §6): {type, id, payload}. Actual protocol-buffer
// (de)serialization is an external collaborator's concern per spec §1 — this
// module never generates or links .proto code. Message bodies are therefore
// modeled as plain Go structs behind a small Codec interface; the default
// Codec serializes them as JSON, mirroring the teacher's own wire format
// (kryptco-kr never used protobuf either — its Request/Response envelope in
// protocol.go is marshaled with encoding/json over an HTTP body), standing in
// for whatever protobuf codec the embedding application wires in.
package pb

import "encoding/json"

// MessageType identifies the subsystem a WearPacket belongs to.
type MessageType int32

const (
	TypeAccount       MessageType = 1
	TypeSystem        MessageType = 2
	TypeWatchFace     MessageType = 3
	TypeThirdpartyApp MessageType = 4
	TypeNotification  MessageType = 5
	TypeMass          MessageType = 6
)

// Packet is the envelope exchanged on the PB channel.
type Packet struct {
	Type    MessageType
	ID      int32
	Payload []byte
}

// Codec marshals/unmarshals a message body into a Packet's opaque payload.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec is the default Codec, used unless the embedding application
// supplies its own (real protobuf) implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// DefaultCodec is shared by every service unless overridden.
var DefaultCodec Codec = JSONCodec{}

// Encode builds a Packet's payload bytes from a message body.
func Encode(t MessageType, id int32, body interface{}, codec Codec) (Packet, error) {
	if codec == nil {
		codec = DefaultCodec
	}
	b, err := codec.Marshal(body)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: t, ID: id, Payload: b}, nil
}

// Decode unmarshals a Packet's payload into body.
func Decode(p Packet, body interface{}, codec Codec) error {
	if codec == nil {
		codec = DefaultCodec
	}
	return codec.Unmarshal(p.Payload, body)
}
