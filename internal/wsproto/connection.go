package wsproto

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pixelhall/paintboard/internal/paintengine"
)

// Close codes used by the protocol engine, per spec.md §4.5/§6.
const (
	closePingTimeout   = 1001
	closeProtocol      = 1002
	closePolicy        = 1008
	closeServerError   = 1011
	closeTryAgainLater = 1013
)

const (
	pongDeadline   = 3 * time.Second
	minPingDelay   = 1 * time.Second
	maxPingDelay   = 30 * time.Second
	idleReadLimit  = 4096
	idleReadWindow = 60 * time.Second

	// packetRateBanDuration is the fixed ban length spec.md §4.4 gives a
	// connection that exceeds its packet-rate limit — distinct from the
	// configurable banDuration used for the maxWebSocketPerIP ban.
	packetRateBanDuration = 15 * time.Second
)

func randomPingDelay() time.Duration {
	span := maxPingDelay - minPingDelay
	return minPingDelay + time.Duration(rand.Int63n(int64(span)))
}

// Connection is one WebSocket client's state, exclusively owned by its own
// read goroutine plus whichever timer goroutine is currently firing. All
// mutable fields are guarded by the mutexes below; nothing here is touched
// from outside this package except through Engine methods.
type Connection struct {
	id         uint64
	ip         string
	connectedAt time.Time
	conn       *websocket.Conn

	engine *Engine

	bufMu   sync.Mutex
	sendBuf []byte

	writeMu sync.Mutex // serializes actual socket writes (tick flush vs. close)

	pingMu            sync.Mutex
	waitingPong       bool
	pingTimer         *time.Timer
	pongDeadlineTimer *time.Timer

	closeOnce sync.Once
	closed    chan struct{}

	packetLimiter packetLimiter

	tokensSeenMu sync.Mutex
	tokensSeen   map[string]struct{} // diagnostic, only populated when enableTokenCounting
	countTokens  bool
}

// packetLimiter is the narrow slice of ratelimit.PacketLimiter the connection
// needs, kept as an interface so tests can inject a deterministic fake.
type packetLimiter interface {
	Allow() bool
}

// ID returns the connection's monotonically assigned id.
func (c *Connection) ID() uint64 { return c.id }

// IP returns the connection's remote address.
func (c *Connection) IP() string { return c.ip }

func newConnection(id uint64, ip string, conn *websocket.Conn, e *Engine, limiter packetLimiter, countTokens bool) *Connection {
	c := &Connection{
		id:            id,
		ip:            ip,
		connectedAt:   time.Now(),
		conn:          conn,
		engine:        e,
		closed:        make(chan struct{}),
		packetLimiter: limiter,
		countTokens:   countTokens,
	}
	if countTokens {
		c.tokensSeen = make(map[string]struct{})
	}
	return c
}

// append adds raw bytes to the per-tick send buffer.
func (c *Connection) append(b []byte) {
	c.bufMu.Lock()
	c.sendBuf = append(c.sendBuf, b...)
	c.bufMu.Unlock()
}

// appendPing queues a single 0xFC byte.
func (c *Connection) appendPing() {
	c.append([]byte{tagPing})
}

// appendPaintResult queues a 0xFF response for requestID.
func (c *Connection) appendPaintResult(requestID uint32, code paintengine.ResultCode) {
	c.append(encodePaintResult(requestID, code))
}

// Flush takes the accumulated send buffer and writes it to the socket in one
// call, which is what lets N queued events become one syscall per tick. It
// is a no-op if nothing is pending.
func (c *Connection) Flush() error {
	c.bufMu.Lock()
	buf := c.sendBuf
	c.sendBuf = nil
	c.bufMu.Unlock()

	if len(buf) == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, buf)
}

// Close sends a close frame with code/reason (best effort) and tears down
// the socket. Safe to call more than once or concurrently.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pingMu.Lock()
		if c.pingTimer != nil {
			c.pingTimer.Stop()
		}
		if c.pongDeadlineTimer != nil {
			c.pongDeadlineTimer.Stop()
		}
		c.pingMu.Unlock()

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()

		c.conn.Close()
		c.engine.unregister(c)
	})
}

// startHeartbeat schedules the first ping after a uniform random delay in
// [1s, 30s), per spec.md §4.5.
func (c *Connection) startHeartbeat() {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	c.pingTimer = time.AfterFunc(randomPingDelay(), c.firePing)
}

func (c *Connection) firePing() {
	select {
	case <-c.closed:
		return
	default:
	}
	c.appendPing()
	c.pingMu.Lock()
	c.waitingPong = true
	c.pongDeadlineTimer = time.AfterFunc(pongDeadline, c.firePongTimeout)
	c.pingMu.Unlock()
}

func (c *Connection) firePongTimeout() {
	c.pingMu.Lock()
	stillWaiting := c.waitingPong
	c.pingMu.Unlock()
	if stillWaiting {
		c.Close(closePingTimeout, "ping timeout")
	}
}

// onPong handles an incoming 0xFB packet.
func (c *Connection) onPong() {
	c.pingMu.Lock()
	if !c.waitingPong {
		c.pingMu.Unlock()
		c.Close(closeProtocol, "unexpected pong")
		return
	}
	if c.pongDeadlineTimer != nil {
		c.pongDeadlineTimer.Stop()
	}
	c.waitingPong = false
	c.pingTimer = time.AfterFunc(randomPingDelay(), c.firePing)
	c.pingMu.Unlock()
}

// recordToken notes a distinct token used by this connection, for the
// optional enableTokenCounting diagnostic (spec.md §3 ConnectionState).
func (c *Connection) recordToken(token string) {
	if !c.countTokens {
		return
	}
	c.tokensSeenMu.Lock()
	c.tokensSeen[token] = struct{}{}
	c.tokensSeenMu.Unlock()
}

// DistinctTokenCount returns how many distinct tokens this connection has
// used, or 0 if the diagnostic is disabled.
func (c *Connection) DistinctTokenCount() int {
	if !c.countTokens {
		return 0
	}
	c.tokensSeenMu.Lock()
	defer c.tokensSeenMu.Unlock()
	return len(c.tokensSeen)
}

// remoteIP extracts the client IP from a request, preferring a proxy header
// the way a server fronted by a load balancer must.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
