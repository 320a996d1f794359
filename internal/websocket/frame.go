// Package websocket bridges a client WebSocket connection to an upstream one.
package websocket

import (
	gws "github.com/gorilla/websocket"
)

// FrameKind is the closed set of frame kinds the bridge relays.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	default:
		return "close"
	}
}

// Frame is one message as seen by the bridge.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// mapFrame converts a wire message into a Frame. Payloads of data and
// ping/pong frames are kept byte-for-byte. Close frames lose their code and
// reason, and anything unrecognized becomes a close.
func mapFrame(messageType int, payload []byte) Frame {
	switch messageType {
	case gws.TextMessage:
		return Frame{Kind: FrameText, Payload: payload}
	case gws.BinaryMessage:
		return Frame{Kind: FrameBinary, Payload: payload}
	case gws.PingMessage:
		return Frame{Kind: FramePing, Payload: payload}
	case gws.PongMessage:
		return Frame{Kind: FramePong, Payload: payload}
	default:
		return Frame{Kind: FrameClose}
	}
}

func (f Frame) messageType() int {
	switch f.Kind {
	case FrameText:
		return gws.TextMessage
	case FrameBinary:
		return gws.BinaryMessage
	case FramePing:
		return gws.PingMessage
	case FramePong:
		return gws.PongMessage
	default:
		return gws.CloseMessage
	}
}

func (f Frame) isControl() bool {
	return f.Kind == FramePing || f.Kind == FramePong || f.Kind == FrameClose
}
