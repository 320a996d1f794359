package websocket

import (
	"bytes"
	"testing"

	gws "github.com/gorilla/websocket"
)

func TestMapFrame(t *testing.T) {
	payload := []byte{0x00, 0xff, 'h', 'i'}

	tests := []struct {
		name        string
		messageType int
		wantKind    FrameKind
		wantPayload []byte
	}{
		{"text", gws.TextMessage, FrameText, payload},
		{"binary", gws.BinaryMessage, FrameBinary, payload},
		{"ping", gws.PingMessage, FramePing, payload},
		{"pong", gws.PongMessage, FramePong, payload},
		{"close drops code and reason", gws.CloseMessage, FrameClose, nil},
		{"unknown becomes close", 99, FrameClose, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mapFrame(tt.messageType, payload)
			if f.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", f.Kind, tt.wantKind)
			}
			if !bytes.Equal(f.Payload, tt.wantPayload) {
				t.Errorf("Payload = %v, want %v", f.Payload, tt.wantPayload)
			}
		})
	}
}

func TestFrame_MessageTypeRoundTrip(t *testing.T) {
	for _, mt := range []int{gws.TextMessage, gws.BinaryMessage, gws.PingMessage, gws.PongMessage, gws.CloseMessage} {
		if got := mapFrame(mt, nil).messageType(); got != mt {
			t.Errorf("messageType(mapFrame(%d)) = %d", mt, got)
		}
	}
}

func TestFrame_IsControl(t *testing.T) {
	control := map[FrameKind]bool{
		FrameText:   false,
		FrameBinary: false,
		FramePing:   true,
		FramePong:   true,
		FrameClose:  true,
	}
	for kind, want := range control {
		if got := (Frame{Kind: kind}).isControl(); got != want {
			t.Errorf("%v isControl() = %v, want %v", kind, got, want)
		}
	}
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://ws-svc:8080/graphql", "ws://ws-svc:8080/graphql", false},
		{"https://ws-svc/graphql?x=1", "wss://ws-svc/graphql?x=1", false},
		{"ws://already", "ws://already", false},
		{"wss://already", "wss://already", false},
		{"ftp://nope", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := UpstreamURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpstreamURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UpstreamURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
