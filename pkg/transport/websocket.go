package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultRecvBuffer   = 32
	maxFrameBytes       = 1024 * 1024 // 1MB
)

// WS is the websocket Transport implementation.
type WS struct {
	url          string
	logger       *slog.Logger
	dialOptions  *websocket.DialOptions
	writeTimeout time.Duration

	conn       *websocket.Conn
	recv       chan *wire.Envelope
	pumpCtx    context.Context
	pumpCancel context.CancelFunc

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// WSOption configures a websocket transport.
type WSOption func(*WS)

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) WSOption {
	return func(t *WS) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions.
func WithDialOptions(opts *websocket.DialOptions) WSOption {
	return func(t *WS) {
		if opts != nil {
			t.dialOptions = opts
		}
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) WSOption {
	return func(t *WS) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// NewWebSocket returns an unconnected websocket transport for url.
func NewWebSocket(url string, opts ...WSOption) *WS {
	t := &WS{
		url:          url,
		logger:       slog.Default(),
		dialOptions:  &websocket.DialOptions{HTTPClient: http.DefaultClient},
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the endpoint and completes the handshake: a connect
// envelope carrying the credential, answered by connect_ack. On success
// the read pump starts feeding Receive.
func (t *WS) Connect(ctx context.Context, credential string) error {
	conn, httpResp, err := websocket.Dial(ctx, t.url, t.dialOptions)
	if err != nil {
		if httpResp != nil {
			return fmt.Errorf("dial %s: %w (status: %s)", t.url, err, httpResp.Status)
		}
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	hello, err := wire.NewEnvelope(wire.NewID(), wire.TypeConnect, "", wire.ConnectPayload{Credential: credential}, nil)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake build failed")
		return err
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "handshake write failed")
		return fmt.Errorf("handshake write: %w", err)
	}

	var ack wire.Envelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "handshake read failed")
		return fmt.Errorf("handshake read: %w", err)
	}
	switch ack.Type {
	case wire.TypeConnectAck:
		// Connection accepted.
	case wire.TypeError:
		conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
		if ack.Error != nil {
			return fmt.Errorf("handshake rejected: %s (code %d)", ack.Error.Message, ack.Error.Code)
		}
		return errors.New("handshake rejected")
	default:
		conn.Close(websocket.StatusProtocolError, "unexpected handshake reply")
		return fmt.Errorf("unexpected handshake reply type %q", ack.Type)
	}

	t.conn = conn
	t.recv = make(chan *wire.Envelope, defaultRecvBuffer)
	t.pumpCtx, t.pumpCancel = context.WithCancel(context.Background())
	go t.readPump()
	return nil
}

// Send writes one envelope, bounded by the write timeout.
func (t *WS) Send(ctx context.Context, env *wire.Envelope) error {
	if t.conn == nil {
		return errors.New("transport: not connected")
	}
	writeCtx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, t.conn, env); err != nil {
		return fmt.Errorf("write %s envelope: %w", env.Type, err)
	}
	return nil
}

// Receive returns the inbound envelope stream. The channel is closed when
// the connection drops or Close is called.
func (t *WS) Receive() <-chan *wire.Envelope {
	return t.recv
}

// Close tears the connection down. Idempotent.
func (t *WS) Close() error {
	t.closeOnce.Do(func() {
		t.setErr(errors.New("transport: closed"))
		if t.pumpCancel != nil {
			t.pumpCancel()
		}
		if t.conn != nil {
			t.conn.Close(websocket.StatusNormalClosure, "client closing")
		}
	})
	return nil
}

// Err reports why the connection ended, once Receive has closed.
func (t *WS) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WS) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *WS) readPump() {
	defer close(t.recv)
	for {
		var env wire.Envelope
		if err := wsjson.Read(t.pumpCtx, t.conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				t.logger.Debug("transport: read pump ending", "error", err, "status", int(status))
			}
			t.setErr(err)
			t.conn.Close(websocket.StatusAbnormalClosure, "read pump terminated")
			return
		}
		select {
		case t.recv <- &env:
		case <-t.pumpCtx.Done():
			t.setErr(t.pumpCtx.Err())
			return
		}
	}
}
