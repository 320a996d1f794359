package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"ingress-gateway/internal/config"
	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/metrics"
)

// State is a bridge lifecycle stage.
type State int32

const (
	StatePending State = iota
	StateConnecting
	StateBridging
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnecting:
		return "connecting"
	case StateBridging:
		return "bridging"
	default:
		return "closed"
	}
}

// handshakeHeaders are generated by the dialer and must not be copied from
// the client's handshake.
var handshakeHeaders = []string{
	"Upgrade",
	"Connection",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Accept",
}

// Bridge upgrades client connections and relays frames to an upstream
// WebSocket until either side closes.
type Bridge struct {
	upgrader     gws.Upgrader
	dialer       *gws.Dialer
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	observe func(State) // test hook
}

// NewBridge creates a Bridge. The metrics parameter is optional.
func NewBridge(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	ws := cfg.WebSocket
	handshake := time.Duration(ws.HandshakeTimeoutSeconds) * time.Second
	writeTimeout := time.Duration(ws.WriteTimeoutSeconds) * time.Second
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}

	return &Bridge{
		upgrader: gws.Upgrader{
			HandshakeTimeout: handshake,
			ReadBufferSize:   ws.ReadBufferSize,
			WriteBufferSize:  ws.WriteBufferSize,
			// Origins are governed by the CORS policy, not the upgrader.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &gws.Dialer{
			HandshakeTimeout: handshake,
			ReadBufferSize:   ws.ReadBufferSize,
			WriteBufferSize:  ws.WriteBufferSize,
		},
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "websocket_bridge"),
		metrics:      m,
	}
}

// IsUpgradeRequest reports whether r asks for a WebSocket upgrade.
func IsUpgradeRequest(r *http.Request) bool {
	return gws.IsWebSocketUpgrade(r)
}

// UpstreamURL converts an http(s) upstream URL into its ws(s) form. URLs
// already using ws or wss are returned unchanged.
func UpstreamURL(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://"), nil
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://"), nil
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw, nil
	default:
		return "", fmt.Errorf("unsupported upstream scheme in %q", raw)
	}
}

type session struct {
	bridge *Bridge
	state  atomic.Int32
	logger *slog.Logger
}

func (s *session) transition(to State) {
	if from := State(s.state.Swap(int32(to))); from != to {
		s.logger.Debug("websocket state", "from", from.String(), "to", to.String())
	}
	if s.bridge.observe != nil {
		s.bridge.observe(to)
	}
}

// Serve dials upstreamURL (an http(s) or ws(s) URL) with header, upgrades the
// client connection and relays frames until one side closes. It returns
// once the bridge is torn down. Errors before the client upgrade are
// *gwerror.Error values for the caller to render; after the upgrade the
// response is already committed and errors are only logged.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, upstreamURL string, header http.Header) error {
	s := &session{bridge: b, logger: b.logger.With("upstream", upstreamURL)}
	s.transition(StatePending)

	wsURL, err := UpstreamURL(upstreamURL)
	if err != nil {
		s.transition(StateClosed)
		return gwerror.WebSocket(err.Error(), err)
	}

	s.transition(StateConnecting)
	upstream, resp, err := b.dialer.DialContext(r.Context(), wsURL, dialHeader(header))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.transition(StateClosed)
		b.recordSession("dial_failed")
		detail := err.Error()
		if resp != nil {
			detail = fmt.Sprintf("handshake returned HTTP %d", resp.StatusCode)
		}
		s.logger.Warn("failed to connect to upstream WebSocket", "err", err)
		return gwerror.UpstreamUnavailable(detail, err)
	}

	upgrader := b.upgrader
	if proto := upstream.Subprotocol(); proto != "" {
		upgrader.Subprotocols = []string{proto}
	}
	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error to the client.
		_ = upstream.Close()
		s.transition(StateClosed)
		b.recordSession("upgrade_failed")
		s.logger.Warn("client upgrade failed", "err", err)
		return nil
	}

	s.transition(StateBridging)
	if b.metrics != nil {
		b.metrics.WebSocketActive.Inc()
		defer b.metrics.WebSocketActive.Dec()
	}

	err = b.bridge(client, upstream)
	s.transition(StateClosed)
	if err != nil && !isNormalClose(err) {
		b.recordSession("error")
		s.logger.Debug("websocket bridge ended", "err", err)
		return nil
	}
	b.recordSession("closed")
	return nil
}

// bridge runs both relay directions. Whichever ends first closes both
// connections, which ends the other.
func (b *Bridge) bridge(client, upstream *gws.Conn) error {
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer teardown()

	b.forwardControl(client, upstream)
	b.forwardControl(upstream, client)

	var g errgroup.Group
	g.Go(func() error {
		defer teardown()
		return b.relay(client, upstream)
	})
	g.Go(func() error {
		defer teardown()
		return b.relay(upstream, client)
	})
	return g.Wait()
}

// forwardControl installs handlers on src that pass ping, pong and close
// frames to dst instead of answering them locally.
func (b *Bridge) forwardControl(src, dst *gws.Conn) {
	src.SetPingHandler(func(data string) error {
		return b.writeFrame(dst, mapFrame(gws.PingMessage, []byte(data)))
	})
	src.SetPongHandler(func(data string) error {
		return b.writeFrame(dst, mapFrame(gws.PongMessage, []byte(data)))
	})
	src.SetCloseHandler(func(int, string) error {
		closeFrame := mapFrame(gws.CloseMessage, nil)
		_ = b.writeFrame(dst, closeFrame)
		_ = b.writeFrame(src, closeFrame)
		return nil
	})
}

// relay copies data frames from src to dst until a read or write fails.
func (b *Bridge) relay(src, dst *gws.Conn) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		f := mapFrame(mt, data)
		if err := b.writeFrame(dst, f); err != nil {
			return err
		}
		if f.Kind == FrameClose {
			return errUnexpectedFrame
		}
	}
}

var errUnexpectedFrame = errors.New("websocket: unexpected frame type")

func (b *Bridge) writeFrame(dst *gws.Conn, f Frame) error {
	deadline := time.Now().Add(b.writeTimeout)
	if f.isControl() {
		return dst.WriteControl(f.messageType(), f.Payload, deadline)
	}
	if err := dst.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return dst.WriteMessage(f.messageType(), f.Payload)
}

func (b *Bridge) recordSession(outcome string) {
	if b.metrics != nil {
		b.metrics.WebSocketSessions.WithLabelValues(outcome).Inc()
	}
}

func isNormalClose(err error) bool {
	return gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived)
}

func dialHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		return http.Header{}
	}
	for _, h := range handshakeHeaders {
		dst.Del(h)
	}
	return dst
}
