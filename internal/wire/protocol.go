// Package wire defines the framed binary messages exchanged between clients
// and the server. Movement messages are fixed little-endian layouts; action
// messages carry msgpack bodies.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"melee-core/internal/game"
)

const (
	// Message types
	MsgTypeInput           byte = 0x01 // client -> server
	MsgTypeState           byte = 0x02 // server -> clients
	MsgTypeActionRequest   byte = 0x03 // client -> server, reliable
	MsgTypeActionBroadcast byte = 0x04 // server -> other clients
	MsgTypeWelcome         byte = 0x05 // server -> client after connect
	MsgTypeDespawn         byte = 0x06 // server -> clients

	// ProtocolVersion tracks game.PayloadVersion
	ProtocolVersion = game.PayloadVersion

	MaxMessageSize = 64 * 1024
)

const HeaderSize = 12 // 2 + 1 + 1 + 4 + 4

const (
	inputSizeControllable = 4 + 1 + 8 + 16
	inputSizeFixed        = 4 + 1 + 16
	stateSize             = 4 + 12 + 16

	flagControllable byte = 1 << 0
)

var (
	ErrVersionMismatch = errors.New("protocol version mismatch")
	ErrTooLarge        = errors.New("message too large")
	ErrShortBody       = errors.New("short message body")
)

// Header frames every message.
type Header struct {
	Version uint16
	Type    byte
	Flags   byte
	Actor   game.ActorID
	Length  uint32
}

// Frame is one decoded message.
type Frame struct {
	Header
	Body []byte
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.Version)
	dst = append(dst, h.Type, h.Flags)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Actor))
	return binary.LittleEndian.AppendUint32(dst, h.Length)
}

// ParseHeader decodes and validates a header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header: %w", ErrShortBody)
	}
	h := Header{
		Version: binary.LittleEndian.Uint16(b[0:2]),
		Type:    b[2],
		Flags:   b[3],
		Actor:   game.ActorID(binary.LittleEndian.Uint32(b[4:8])),
		Length:  binary.LittleEndian.Uint32(b[8:12]),
	}
	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, h.Version, ProtocolVersion)
	}
	if h.Length > MaxMessageSize {
		return Header{}, fmt.Errorf("%w: %d > %d", ErrTooLarge, h.Length, MaxMessageSize)
	}
	return h, nil
}

// Encode builds a complete frame.
func Encode(msgType byte, actor game.ActorID, body []byte) ([]byte, error) {
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(body), MaxMessageSize)
	}
	out := make([]byte, 0, HeaderSize+len(body))
	out = AppendHeader(out, Header{
		Version: ProtocolVersion,
		Type:    msgType,
		Actor:   actor,
		Length:  uint32(len(body)),
	})
	return append(out, body...), nil
}

// Decode parses a complete frame held in b (one websocket message).
func Decode(b []byte) (Frame, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if uint32(len(b)-HeaderSize) < h.Length {
		return Frame{}, fmt.Errorf("body: %w", ErrShortBody)
	}
	return Frame{Header: h, Body: b[HeaderSize : HeaderSize+int(h.Length)]}, nil
}

// WriteMessage writes a framed message to a stream.
func WriteMessage(w io.Writer, msgType byte, actor game.ActorID, body []byte) error {
	frame, err := Encode(msgType, actor, body)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from a stream.
func ReadMessage(r io.Reader) (Frame, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Frame{}, fmt.Errorf("read header: %w", err)
	}
	h, err := ParseHeader(hb[:])
	if err != nil {
		return Frame{}, err
	}

	var body []byte
	if h.Length > 0 {
		body = make([]byte, h.Length)
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, fmt.Errorf("read body: %w", err)
		}
	}
	return Frame{Header: h, Body: body}, nil
}

// =============================================================================
// FIXED-LAYOUT MOVEMENT MESSAGES
// =============================================================================

// AppendInput encodes {tick, flags, [movement], facing}. Movement is omitted
// when the input is not controllable.
func AppendInput(dst []byte, in game.InputPayload) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(in.Tick))
	var flags byte
	if in.IsControllable {
		flags |= flagControllable
	}
	dst = append(dst, flags)
	if in.IsControllable {
		dst = appendF32(dst, in.Movement.X, in.Movement.Y)
	}
	return appendF32(dst, in.Facing.X, in.Facing.Y, in.Facing.Z, in.Facing.W)
}

// ParseInput decodes an input body.
func ParseInput(b []byte) (game.InputPayload, error) {
	if len(b) < inputSizeFixed {
		return game.InputPayload{}, fmt.Errorf("input: %w", ErrShortBody)
	}
	in := game.InputPayload{
		Tick:           game.Tick(binary.LittleEndian.Uint32(b[0:4])),
		IsControllable: b[4]&flagControllable != 0,
	}
	off := 5
	if in.IsControllable {
		if len(b) < inputSizeControllable {
			return game.InputPayload{}, fmt.Errorf("input movement: %w", ErrShortBody)
		}
		in.Movement = game.Vec2{X: f32(b[off:]), Y: f32(b[off+4:])}
		off += 8
	}
	in.Facing = game.Quat{X: f32(b[off:]), Y: f32(b[off+4:]), Z: f32(b[off+8:]), W: f32(b[off+12:])}
	if !in.Finite() {
		return game.InputPayload{}, fmt.Errorf("input: %w", game.ErrNonFinite)
	}
	return in, nil
}

// AppendState encodes {tick, position, rotation}.
func AppendState(dst []byte, s game.StatePayload) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(s.Tick))
	dst = appendF32(dst, s.Position.X, s.Position.Y, s.Position.Z)
	return appendF32(dst, s.Rotation.X, s.Rotation.Y, s.Rotation.Z, s.Rotation.W)
}

// ParseState decodes a state body.
func ParseState(b []byte) (game.StatePayload, error) {
	if len(b) < stateSize {
		return game.StatePayload{}, fmt.Errorf("state: %w", ErrShortBody)
	}
	return game.StatePayload{
		Tick:     game.Tick(binary.LittleEndian.Uint32(b[0:4])),
		Position: game.Vec3{X: f32(b[4:]), Y: f32(b[8:]), Z: f32(b[12:])},
		Rotation: game.Quat{X: f32(b[16:]), Y: f32(b[20:]), Z: f32(b[24:]), W: f32(b[28:])},
	}, nil
}

func appendF32(dst []byte, vs ...float32) []byte {
	for _, v := range vs {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// =============================================================================
// MSGPACK ACTION MESSAGES
// =============================================================================

// EncodeActionRequest marshals an action request body.
func EncodeActionRequest(r game.ActionRequest) ([]byte, error) {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode action request: %w", err)
	}
	return b, nil
}

// DecodeActionRequest unmarshals an action request body.
func DecodeActionRequest(b []byte) (game.ActionRequest, error) {
	var r game.ActionRequest
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("msgpack decode action request: %w", err)
	}
	return r, nil
}

// EncodeActionBroadcast marshals an action broadcast body.
func EncodeActionBroadcast(a game.ActionBroadcast) ([]byte, error) {
	b, err := msgpack.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode action broadcast: %w", err)
	}
	return b, nil
}

// DecodeActionBroadcast unmarshals an action broadcast body.
func DecodeActionBroadcast(b []byte) (game.ActionBroadcast, error) {
	var a game.ActionBroadcast
	if err := msgpack.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("msgpack decode action broadcast: %w", err)
	}
	return a, nil
}

// Welcome tells a freshly connected client which actor it controls.
type Welcome struct {
	Actor    game.ActorID      `msgpack:"actor"`
	TickRate int               `msgpack:"tickRate"`
	Spawn    game.StatePayload `msgpack:"spawn"`
}

// EncodeWelcome marshals a welcome body.
func EncodeWelcome(w Welcome) ([]byte, error) {
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode welcome: %w", err)
	}
	return b, nil
}

// DecodeWelcome unmarshals a welcome body.
func DecodeWelcome(b []byte) (Welcome, error) {
	var w Welcome
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return w, fmt.Errorf("msgpack decode welcome: %w", err)
	}
	return w, nil
}
