// Battlebox Sandbox Battle Hub
//
// A stand-in for the battle server, speaking the same frames as the real one
// so the lobby client can be exercised locally.
//
// Features:
// - One WebSocket endpoint: /ws, with an optional ?room= default room
// - pair / authPair park the first player of a room and pair the second
// - The same token cannot pair with itself
// - ready from both players starts a round
// - talk and progress are relayed to the opponent
// - finish from both players ends the round, lower Msec wins
// - Disconnecting notifies the opponent with foeDisconnect
// - Unknown frames get an err reply; undecodable frames drop the connection
// - QR code of the /ws URL for a room at /qr/:room, backed by go-qrcode

package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Seednode/battlebox/router"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Messages coming from clients
type ClientMessage struct {
	Type        router.MessageType `json:"Type"`
	Token       string             `json:"Token,omitempty"`       // pair / authPair
	RoomName    string             `json:"RoomName,omitempty"`    // authPair
	Text        string             `json:"Text,omitempty"`        // talk
	Msec        int                `json:"Msec,omitempty"`        // finish
	CompleteNum int                `json:"CompleteNum,omitempty"` // progress
}

// TypeMessage is for frames with nothing but a type ("pairing", "start", etc.)
type TypeMessage struct {
	Type router.MessageType `json:"Type"`
}

type PairedMessage struct {
	Type router.MessageType `json:"Type"`
	router.PairedMessage
}

type TalkMessage struct {
	Type router.MessageType `json:"Type"`
	router.TalkMessage
}

type ProgressMessage struct {
	Type router.MessageType `json:"Type"`
	router.ProgressMessage
}

type EndMessage struct {
	Type router.MessageType `json:"Type"`
	router.EndMessage
}

type ErrMessage struct {
	Type router.MessageType `json:"Type"`
	router.ErrMessage
}

// Client fields other than conn and send are only touched by the hub goroutine.
type Client struct {
	conn *websocket.Conn
	send chan any

	defaultRoom string

	token    string
	name     string
	waiting  bool
	waitRoom string
	foe      *Client
	ready    bool
	finished bool
	msec     int
}

func (c *Client) resetRound() {
	c.ready = false
	c.finished = false
	c.msec = 0
}

type clientFrame struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	log logrus.FieldLogger

	clients map[*Client]bool
	pending map[string]*Client // room -> player waiting for an opponent

	register chan *Client
	unreg    chan *Client
	frames   chan clientFrame

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:      log,
		clients:  make(map[*Client]bool),
		pending:  make(map[string]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		frames:   make(chan clientFrame),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unreg:
			h.drop(c)

		case f := <-h.frames:
			h.handle(f.client, f.msg)

		case <-h.stop:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				_ = c.conn.Close()
			}
			close(h.done)

			return
		}
	}
}

// closeAll disconnects every client and stops the hub.
func (h *Hub) closeAll() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.done
}

func (h *Hub) sendTo(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) sendErr(c *Client, text string) {
	h.sendTo(c, ErrMessage{Type: router.TypeErr, ErrMessage: router.ErrMessage{String: text}})
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)

	if c.waiting && h.pending[c.waitRoom] == c {
		delete(h.pending, c.waitRoom)
	}

	if foe := c.foe; foe != nil {
		c.foe = nil
		foe.foe = nil
		foe.resetRound()
		h.sendTo(foe, TypeMessage{Type: router.TypeFoeDisconnect})
	}

	h.log.WithField("player", c.name).Debug("BATTLE: player left")
}

func (h *Hub) handle(c *Client, msg ClientMessage) {
	if !h.clients[c] {
		return
	}

	switch msg.Type {
	case router.TypePair:
		h.pair(c, msg.Token, c.defaultRoom)
	case router.TypeAuthPair:
		h.pair(c, msg.Token, msg.RoomName)
	case router.TypeReady:
		h.ready(c)
	case router.TypeTalk:
		if c.foe == nil {
			h.sendErr(c, "need pair")
			return
		}
		h.sendTo(c.foe, TalkMessage{Type: router.TypeTalk, TalkMessage: router.TalkMessage{Text: msg.Text}})
	case router.TypeProgress:
		if c.foe == nil {
			h.sendErr(c, "need pair")
			return
		}
		if !c.ready || !c.foe.ready {
			h.sendErr(c, "battle state error")
			return
		}
		h.sendTo(c.foe, ProgressMessage{Type: router.TypeProgress, ProgressMessage: router.ProgressMessage{CompleteNum: msg.CompleteNum}})
	case router.TypeFinish:
		h.finish(c, msg.Msec)
	default:
		h.sendErr(c, "unknown type: "+string(msg.Type))
	}
}

func (h *Hub) pair(c *Client, token, room string) {
	if c.foe != nil || c.waiting {
		h.sendErr(c, "already paired")
		return
	}

	c.token = token
	c.name = playerName(token)

	waiting, ok := h.pending[room]
	if !ok {
		h.pending[room] = c
		c.waiting = true
		c.waitRoom = room
		h.sendTo(c, TypeMessage{Type: router.TypePairing})

		h.log.WithFields(logrus.Fields{"player": c.name, "room": room}).Debug("BATTLE: waiting for opponent")

		return
	}

	if token != "" && waiting.token == token {
		h.sendErr(c, "same user")
		return
	}

	delete(h.pending, room)
	waiting.waiting = false

	c.foe = waiting
	waiting.foe = c
	c.resetRound()
	waiting.resetRound()

	sliders := rand.Intn(3) + 4

	h.sendTo(c, PairedMessage{
		Type:          router.TypePaired,
		PairedMessage: router.PairedMessage{FoeName: waiting.name, SliderNum: sliders},
	})
	h.sendTo(waiting, PairedMessage{
		Type:          router.TypePaired,
		PairedMessage: router.PairedMessage{FoeName: c.name, SliderNum: sliders},
	})

	h.log.WithFields(logrus.Fields{"player": c.name, "foe": waiting.name, "room": room}).Debug("BATTLE: paired")
}

func (h *Hub) ready(c *Client) {
	if c.foe == nil {
		h.sendErr(c, "need pair")
		return
	}
	if c.ready {
		h.sendErr(c, "error state")
		return
	}

	c.ready = true
	h.sendTo(c, TypeMessage{Type: router.TypeReady})

	if c.foe.ready {
		h.sendTo(c, TypeMessage{Type: router.TypeStart})
		h.sendTo(c.foe, TypeMessage{Type: router.TypeStart})
	}
}

func (h *Hub) finish(c *Client, msec int) {
	if c.foe == nil {
		h.sendErr(c, "need pair")
		return
	}
	if !c.ready || !c.foe.ready {
		h.sendErr(c, "battle state error")
		return
	}
	if c.finished {
		h.sendErr(c, "result exist")
		return
	}

	c.finished = true
	c.msec = msec

	foe := c.foe
	if !foe.finished {
		return
	}

	h.sendTo(c, EndMessage{Type: router.TypeEnd, EndMessage: router.EndMessage{Msec: c.msec, FoeMsec: foe.msec, Win: c.msec < foe.msec}})
	h.sendTo(foe, EndMessage{Type: router.TypeEnd, EndMessage: router.EndMessage{Msec: foe.msec, FoeMsec: c.msec, Win: foe.msec < c.msec}})

	c.resetRound()
	foe.resetRound()
}

// playerName is the token itself, or a random guest name when there is none.
func playerName(token string) string {
	if token != "" {
		return token
	}

	return fmt.Sprintf("guest-%06x", rand.Intn(1<<24))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(log logrus.FieldLogger, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("BATTLE: upgrade error")
			return
		}

		client := &Client{
			conn:        conn,
			send:        make(chan any, 16),
			defaultRoom: r.URL.Query().Get("room"),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		log.Debugf("BATTLE: connection from %s", realIP(r))

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			return
		}

		select {
		case h.frames <- clientFrame{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// roomURL is the /ws address a second player opens to join room.
func roomURL(cfg *Config, r *http.Request, prefix, room string) string {
	scheme := "ws"
	if cfg.scheme() == "https" || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     prefix + "/ws",
		RawQuery: url.Values{"room": {room}}.Encode(),
	}

	return u.String()
}

// QR handler: generates a PNG QR code of the /ws URL for a room.
func serveQR(cfg *Config, prefix string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room := ps.ByName("room")
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		const qrSize = 320
		png, err := qrcode.Encode(roomURL(cfg, r, prefix, room), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func registerBattle(cfg *Config, log logrus.FieldLogger, hub *Hub, prefix string, mux *httprouter.Router) {
	mux.GET(prefix+"/ws", serveWS(log, hub))
	mux.GET(prefix+"/qr/:room", serveQR(cfg, prefix))
}
