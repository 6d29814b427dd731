// Package pusherws is a realtime transport speaking the Pusher channels
// protocol over a websocket, as used by self-hosted Pusher-compatible
// servers.
package pusherws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/metrics"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
)

const protocolVersion = "7"

type Config struct {
	URL              string // ws://host:port, the /app/{key} path is appended
	AppKey           string
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	ReconnectBackoff time.Duration
	MaxBackoff       time.Duration
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Transport struct {
	*realtime.Router

	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

func New(cfg Config, log *zap.Logger) *Transport {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		Router: realtime.NewRouter(),
		cfg:    cfg,
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

func (t *Transport) endpoint() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/app/" + url.PathEscape(t.cfg.AppKey)
	q := u.Query()
	q.Set("protocol", protocolVersion)
	q.Set("client", "motoshop-go")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials, waits for the connection to be established and starts
// the read loop. The loop reconnects until Close or ctx is done.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return realtime.ErrClosed
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	if err := t.resubscribe(); err != nil {
		t.log.Warn("pusher resubscribe failed", zap.Error(err))
	}
	go t.run(loopCtx, conn)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	ep, err := t.endpoint()
	if err != nil {
		return nil, fmt.Errorf("pusher url: %w", err)
	}
	conn, _, err := t.dialer.DialContext(ctx, ep, nil)
	if err != nil {
		return nil, fmt.Errorf("pusher dial: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.DialTimeout))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pusher handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if f.Event != "pusher:connection_established" {
		_ = conn.Close()
		return nil, fmt.Errorf("pusher handshake: unexpected event %q", f.Event)
	}
	var est struct {
		SocketID string `json:"socket_id"`
	}
	_ = json.Unmarshal(unwrapData(f.Data), &est)
	t.mu.Lock()
	t.socketID = est.SocketID
	t.mu.Unlock()
	t.log.Info("pusher connected", zap.String("socket_id", est.SocketID))
	return conn, nil
}

func (t *Transport) run(ctx context.Context, conn *websocket.Conn) {
	defer close(t.done)
	backoff := t.cfg.ReconnectBackoff
	for {
		err := t.readLoop(conn)
		if ctx.Err() != nil || t.isClosed() {
			return
		}
		metrics.TransportErrors.WithLabelValues("pusher").Inc()
		t.log.Warn("pusher connection lost", zap.Error(err), zap.Duration("retry_in", backoff))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			c, err := t.dial(ctx)
			if err == nil && t.isClosed() {
				_ = c.Close()
				return
			}
			if err == nil {
				conn = c
				t.mu.Lock()
				t.conn = c
				t.mu.Unlock()
				if err := t.resubscribe(); err != nil {
					t.log.Warn("pusher resubscribe failed", zap.Error(err))
				}
				backoff = t.cfg.ReconnectBackoff
				break
			}
			t.log.Warn("pusher reconnect failed", zap.Error(err))
			backoff *= 2
			if backoff > t.cfg.MaxBackoff {
				backoff = t.cfg.MaxBackoff
			}
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			metrics.TransportErrors.WithLabelValues("pusher").Inc()
			t.log.Warn("pusher: invalid frame", zap.Error(err))
			continue
		}
		t.handle(f)
	}
}

func (t *Transport) handle(f frame) {
	switch {
	case f.Event == "pusher:ping":
		if err := t.send(frame{Event: "pusher:pong", Data: json.RawMessage(`{}`)}); err != nil {
			t.log.Warn("pusher pong failed", zap.Error(err))
		}
	case f.Event == "pusher:error":
		t.log.Warn("pusher error", zap.ByteString("data", f.Data))
	case strings.HasPrefix(f.Event, "pusher:"), strings.HasPrefix(f.Event, "pusher_internal:"):
		t.log.Debug("pusher control frame", zap.String("event", f.Event), zap.String("channel", f.Channel))
	default:
		t.Dispatch(realtime.Event{Channel: f.Channel, Name: f.Event, Data: unwrapData(f.Data)})
	}
}

// unwrapData turns string-encoded JSON (the usual Pusher encoding) into
// the JSON it carries. Anything else is returned as is.
func unwrapData(d json.RawMessage) json.RawMessage {
	if len(d) == 0 || d[0] != '"' {
		return d
	}
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return d
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return d
}

func (t *Transport) send(f frame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteJSON(f)
}

var errNotConnected = errors.New("pusher: not connected")

func subscribeFrame(event, channel string) frame {
	data, _ := json.Marshal(map[string]string{"channel": channel})
	return frame{Event: event, Data: data}
}

func (t *Transport) resubscribe() error {
	var errs []error
	for _, name := range t.Names() {
		if err := t.send(subscribeFrame("pusher:subscribe", name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe records the channel and, when connected, tells the server.
// Channels subscribed before Connect are sent once connected.
func (t *Transport) Subscribe(_ context.Context, channel string) (realtime.Channel, error) {
	if t.isClosed() {
		return nil, realtime.ErrClosed
	}
	ch, created := t.Add(channel)
	if !created {
		return ch, nil
	}
	err := t.send(subscribeFrame("pusher:subscribe", channel))
	if err != nil && !errors.Is(err, errNotConnected) {
		t.Remove(channel)
		return nil, err
	}
	return ch, nil
}

func (t *Transport) Channel(name string) (realtime.Channel, bool) { return t.Get(name) }

func (t *Transport) Unsubscribe(_ context.Context, channel string) error {
	if !t.Remove(channel) {
		return nil
	}
	err := t.send(subscribeFrame("pusher:unsubscribe", channel))
	if errors.Is(err, errNotConnected) {
		return nil
	}
	return err
}

func (t *Transport) SocketID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socketID
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, cancel, done := t.conn, t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
