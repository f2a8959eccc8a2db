// Package wsproto implements the WebSocket Protocol Engine: the per-connection
// state machine (handshake, heartbeat, binary frame decode/encode, close)
// and the registry used to fan out broadcast frames to every open connection.
//
// Grounded on _examples/benjamintd-gows/server.go's Hub/Client split, adapted
// so that outgoing bytes accumulate in a per-connection buffer instead of
// being written to the socket as soon as they're produced — the Tick
// Scheduler (internal/tick) owns the one-write-per-connection-per-tick
// contract, so this package never calls conn.WriteMessage outside of Flush
// and Close.
package wsproto

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pixelhall/paintboard/internal/paintengine"
	"github.com/pixelhall/paintboard/internal/pixelstore"
)

// Admission is the slice of the rate/ban controller the engine needs at
// connection-open time. Kept narrow and interface-shaped so the engine
// depends on this interface rather than on the concrete ratelimit types;
// RatelimitAdmission in admission.go is the adapter over those types.
type Admission interface {
	CheckIPBanned(ip string) (remaining time.Duration, banned bool)
	BanIP(ip string, d time.Duration)
	IncConn(ip string) (count int)
	DecConn(ip string)
	NewPacketLimiter() packetLimiter
}

// Paster is the slice of the paint engine the protocol engine calls into for
// every decoded 0xFE packet.
type Paster interface {
	TryPaint(token string, uid int64, x, y int, c pixelstore.Color, now time.Time) paintengine.ResultCode
}

// Config holds the connection-limit knobs the engine enforces at upgrade
// time and during the read loop.
type Config struct {
	MaxWebSocketPerIP   int
	MaxPacketPerSecond  int
	BanDuration         time.Duration
	EnableTokenCounting bool
}

// Engine is the registry of open connections plus the shared collaborators
// every connection's read loop calls into.
type Engine struct {
	mu     sync.RWMutex
	conns  map[uint64]*Connection
	nextID uint64

	upgrader websocket.Upgrader
	admit    Admission
	paint    Paster
	cfg      Config
	log      *log.Logger
}

// NewEngine builds a protocol engine. checkOrigin, if non-nil, is passed
// through to the gorilla upgrader; nil accepts any origin.
func NewEngine(admit Admission, paint Paster, cfg Config, logger *log.Logger, checkOrigin func(*http.Request) bool) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		conns: make(map[uint64]*Connection),
		admit: admit,
		paint: paint,
		cfg:   cfg,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// HandleUpgrade is the http.HandlerFunc for the WebSocket endpoint. It
// enforces the IP ban and per-IP connection-count gate before upgrading,
// matching spec.md §4.4.
func (e *Engine) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	if _, banned := e.admit.CheckIPBanned(ip); banned {
		conn, err := e.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(closePolicy, "ip banned")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	if e.cfg.MaxWebSocketPerIP > 0 {
		if e.admit.IncConn(ip) > e.cfg.MaxWebSocketPerIP {
			e.admit.DecConn(ip)
			e.admit.BanIP(ip, e.cfg.BanDuration)
			e.CloseConnectionsByIP(ip, closePolicy, "connection limit exceeded")

			conn, err := e.upgrader.Upgrade(w, r, nil)
			if err == nil {
				msg := websocket.FormatCloseMessage(closePolicy, "connection limit exceeded")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				conn.Close()
			}
			return
		}
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if e.cfg.MaxWebSocketPerIP > 0 {
			e.admit.DecConn(ip)
		}
		e.log.Printf("wsproto: upgrade error: %v", err)
		return
	}

	id := atomic.AddUint64(&e.nextID, 1)
	limiter := e.admit.NewPacketLimiter()
	c := newConnection(id, ip, conn, e, limiter, e.cfg.EnableTokenCounting)

	e.mu.Lock()
	e.conns[id] = c
	e.mu.Unlock()

	c.startHeartbeat()
	go e.readLoop(c)
}

// unregister removes c from the registry and, if per-IP accounting is
// enabled, decrements its IP's open-connection count. Safe to call multiple
// times; only the first call (from Connection.Close) has any effect.
func (e *Engine) unregister(c *Connection) {
	e.mu.Lock()
	if _, ok := e.conns[c.id]; ok {
		delete(e.conns, c.id)
	} else {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if e.cfg.MaxWebSocketPerIP > 0 {
		e.admit.DecConn(c.ip)
	}
}

// Broadcast appends frame to every open connection's send buffer. Called
// once per tick by the Tick Scheduler with the coalesced dirty-pixel frame.
func (e *Engine) Broadcast(frame []byte) {
	if len(frame) == 0 {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.conns {
		c.append(frame)
	}
}

// FlushAll flushes every open connection's send buffer to its socket, one
// write per connection. Connections whose flush errors are closed with a
// server-error code. Returns the number of connections attempted.
func (e *Engine) FlushAll() int {
	e.mu.RLock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.RUnlock()

	for _, c := range conns {
		if err := c.Flush(); err != nil {
			e.log.Printf("wsproto: flush error on conn %d: %v", c.id, err)
			c.Close(closeServerError, "flush failed")
		}
	}
	return len(conns)
}

// CloseConnectionsByIP closes every currently-open connection from ip with
// the given close code/reason, used by the rate-limit and connection-limit
// ban paths.
func (e *Engine) CloseConnectionsByIP(ip string, code int, reason string) {
	e.mu.RLock()
	var matched []*Connection
	for _, c := range e.conns {
		if c.ip == ip {
			matched = append(matched, c)
		}
	}
	e.mu.RUnlock()

	for _, c := range matched {
		c.Close(code, reason)
	}
}

// OpenConnections returns the number of currently registered connections.
func (e *Engine) OpenConnections() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// readLoop pumps frames off the socket for c until it errors or closes,
// decoding every packet in each frame in sequence (frames may concatenate
// multiple packets, per spec.md §4.5).
func (e *Engine) readLoop(c *Connection) {
	defer c.Close(websocket.CloseNormalClosure, "connection closed")

	c.conn.SetReadLimit(idleReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(idleReadWindow))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idleReadWindow))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// This protocol's heartbeat is application-layer bytes (0xFC/0xFB)
		// inside ordinary BinaryMessage frames, not native WS control Pongs,
		// so SetPongHandler above never fires. Refresh the idle deadline here
		// instead, on every successful read, so the deadline reflects actual
		// inactivity rather than firing unconditionally 60s after open.
		c.conn.SetReadDeadline(time.Now().Add(idleReadWindow))
		if msgType != websocket.BinaryMessage {
			continue
		}
		if !e.processFrame(c, data) {
			return
		}
	}
}

// processFrame decodes every packet in data in sequence. It returns false if
// the connection was closed while processing (the caller should stop
// reading).
func (e *Engine) processFrame(c *Connection, data []byte) bool {
	for len(data) > 0 {
		tag := data[0]
		switch tag {
		case tagPaintRequest:
			if len(data) < paintPacketLen {
				c.Close(closeProtocol, "truncated paint packet")
				return false
			}
			req, err := decodePaintRequest(data[:paintPacketLen])
			if err != nil {
				c.Close(closeProtocol, "malformed paint packet")
				return false
			}
			if !c.packetLimiter.Allow() {
				e.admit.BanIP(c.ip, packetRateBanDuration)
				e.CloseConnectionsByIP(c.ip, closeTryAgainLater, "rate limit exceeded")
				return false
			}
			c.recordToken(req.Token)
			code := e.paint.TryPaint(req.Token, req.UID, int(req.X), int(req.Y), req.Color, time.Now())
			c.appendPaintResult(req.RequestID, code)
			data = data[paintPacketLen:]

		case tagPong:
			c.onPong()
			data = data[1:]

		default:
			c.Close(closeProtocol, "unknown packet tag")
			return false
		}
	}
	return true
}
