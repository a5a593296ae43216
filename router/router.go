/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package router owns a single WebSocket connection to a battle server and
// dispatches inbound frames to one handler per message type.
//
// Frames are delivered in arrival order from a single goroutine, so handlers
// run one at a time and must not block. The connection is opened once; when
// it closes the Router stays closed.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Largest inbound frame accepted from the server.
	maxFrameSize = 1 << 20
)

var (
	ErrNotConnected     = errors.New("router: not connected")
	ErrAlreadyConnected = errors.New("router: connect already attempted")
	ErrClosed           = errors.New("router: connection closed")
)

// State is the lifecycle position of the Router's connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler receives every frame of the type it was registered for.
type Handler func(Frame)

type Router struct {
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	mu       sync.RWMutex
	handlers map[MessageType]Handler

	state     atomic.Int32
	writeMu   sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Router)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(r *Router) {
		r.dialer = d
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Router) {
		r.log = l
	}
}

func New(opts ...Option) *Router {
	r := &Router{
		dialer:   websocket.DefaultDialer,
		log:      logrus.StandardLogger(),
		handlers: make(map[MessageType]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates h with t, replacing any earlier handler for t.
func (r *Router) Register(t MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[t] = h
}

func (r *Router) State() State {
	return State(r.state.Load())
}

// Done is closed once the connection is gone, or once a dial has failed.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Connect dials url. Only the first call does anything; later calls return
// ErrAlreadyConnected whether or not the first one succeeded.
func (r *Router) Connect(ctx context.Context, url string) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	conn, resp, err := r.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		r.shutdown(err)

		return fmt.Errorf("dial %s: %w", url, err)
	}

	conn.SetReadLimit(maxFrameSize)

	r.writeMu.Lock()
	r.conn = conn
	r.state.Store(int32(StateOpen))
	r.writeMu.Unlock()

	r.log.WithField("url", url).Debug("connection open")

	go r.readLoop(conn)

	return nil
}

func (r *Router) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.shutdown(err)

			return
		}

		r.HandleFrame(data)
	}
}

func (r *Router) shutdown(cause error) {
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		r.state.Store(int32(StateClosed))
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.writeMu.Unlock()

		if errors.Is(cause, ErrClosed) || websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			r.log.Info("connection closed")
		} else {
			r.log.WithError(cause).Info("connection closed")
		}

		close(r.done)
	})
}

// HandleFrame runs the handler registered for the frame's Type. Frames that
// are not JSON objects, or whose type has no handler, are logged and dropped.
// It reports whether a handler ran.
func (r *Router) HandleFrame(raw []byte) bool {
	if !gjson.ValidBytes(raw) {
		r.log.Infof("unprocessed frame (invalid json): %s", raw)

		return false
	}

	msg := gjson.ParseBytes(raw)
	if !msg.IsObject() {
		r.log.Infof("unprocessed frame (not an object): %s", raw)

		return false
	}

	t := MessageType(msg.Get("Type").String())

	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()

	if !ok {
		r.log.WithField("type", t).Infof("unprocessed frame: %s", raw)

		return false
	}

	h(Frame{Type: t, Raw: raw})

	return true
}

// Send writes {"Type": t, ...fields} as one text frame. fields may be nil, a
// map, or a struct; it must encode to a JSON object. There is no
// acknowledgement and no retry.
func (r *Router) Send(t MessageType, fields any) error {
	data, err := encodeFrame(t, fields)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	switch r.State() {
	case StateIdle, StateConnecting:
		return ErrNotConnected
	case StateClosed:
		r.log.WithField("type", t).Debug("send on closed connection dropped")

		return ErrClosed
	}

	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", t, err)
	}

	r.log.WithField("type", t).Debugf("sent %s", data)

	return nil
}

// Close sends a close frame and tears the connection down. The Router cannot
// be reconnected afterwards.
func (r *Router) Close() error {
	if r.State() != StateOpen {
		return nil
	}

	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))

	r.shutdown(ErrClosed)

	return nil
}

func (r *Router) Pair(token string) error {
	return r.Send(TypePair, PairMessage{Token: token})
}

func (r *Router) AuthPair(token, room string) error {
	return r.Send(TypeAuthPair, AuthPairMessage{Token: token, RoomName: room})
}

func (r *Router) Talk(text string) error {
	return r.Send(TypeTalk, TalkMessage{Text: text})
}

func (r *Router) Ready() error {
	return r.Send(TypeReady, nil)
}

func (r *Router) Progress(completeNum int) error {
	return r.Send(TypeProgress, ProgressMessage{CompleteNum: completeNum})
}

func (r *Router) Finish(msec int) error {
	return r.Send(TypeFinish, FinishMessage{Msec: msec})
}

// encodeFrame builds the outbound object with Type first, followed by the
// fields in their encoded order. A Type key inside fields is ignored. Field
// keys are copied as quoted JSON, never read as sjson paths.
func encodeFrame(t MessageType, fields any) ([]byte, error) {
	out, err := sjson.SetBytes([]byte(`{}`), "Type", string(t))
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", t, err)
	}

	if fields == nil {
		return out, nil
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", t, err)
	}

	body := gjson.ParseBytes(raw)
	if body.Type == gjson.Null {
		return out, nil
	}
	if !body.IsObject() {
		return nil, fmt.Errorf("encode %s frame: fields must be a JSON object, got %s", t, raw)
	}

	out = out[:len(out)-1]

	body.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "Type" {
			return true
		}

		var name []byte
		name, err = json.Marshal(key.String())
		if err != nil {
			return false
		}

		out = append(out, ',')
		out = append(out, name...)
		out = append(out, ':')
		out = append(out, value.Raw...)

		return true
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", t, err)
	}

	return append(out, '}'), nil
}
