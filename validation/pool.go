// Package validation speaks to the remote validation backend. One WebSocket
// per client id, URL and header set is shared by every logical session that
// uses it.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go-emrtd-connector/logging"
	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
)

const writeTimeout = 10 * time.Second

// Endpoint identifies a backend connection.
type Endpoint struct {
	ClientID string
	URL      string
	// Headers are sent with the WebSocket handshake only.
	Headers map[string]string
}

func (e Endpoint) key() string {
	canonical := make(map[string]string, len(e.Headers))
	names := make([]string, 0, len(e.Headers))
	for k, v := range e.Headers {
		k = http.CanonicalHeaderKey(k)
		canonical[k] = v
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(e.ClientID)
	b.WriteByte(0)
	b.WriteString(e.URL)
	for _, k := range names {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonical[k])
	}
	return b.String()
}

// ValidateURL accepts ws and wss URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return mrtderr.Force(err, mrtderr.ConnectionInvalidURL, "parsing validation URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return mrtderr.New(mrtderr.ConnectionInvalidURL, fmt.Sprintf("validation URL scheme must be ws or wss, got %q", u.Scheme))
	}
	if u.Host == "" {
		return mrtderr.New(mrtderr.ConnectionInvalidURL, "validation URL has no host")
	}
	return nil
}

// Pool reference counts backend sockets.
type Pool struct {
	dialer *websocket.Dialer
	log    *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
	dials singleflight.Group
}

// NewPool uses websocket.DefaultDialer when dialer is nil.
func NewPool(dialer *websocket.Dialer) *Pool {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Pool{
		dialer: dialer,
		log:    logging.For("validation"),
		conns:  make(map[string]*conn),
	}
}

// Sockets returns the number of open backend sockets.
func (p *Pool) Sockets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every socket. Sessions on them fail with a socket closed error.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()
	for _, c := range conns {
		c.shutdown(mrtderr.New(mrtderr.ConnectionSocketClosed, "validation pool closed"))
	}
}

// acquire returns a live connection for ep with its reference count raised.
// Concurrent callers for the same endpoint share one dial.
func (p *Pool) acquire(ctx context.Context, ep Endpoint) (*conn, error) {
	key := ep.key()
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		if c, ok := p.conns[key]; ok && !c.isClosed() {
			c.refs++
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		ch := p.dials.DoChan(key, func() (any, error) {
			return p.dial(ep, key)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return nil, res.Err
		}

		c := res.Val.(*conn)
		p.mu.Lock()
		if p.conns[key] == c && !c.isClosed() {
			c.refs++
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()
		if attempt > 0 {
			return nil, c.closeErr()
		}
	}
}

func (p *Pool) dial(ep Endpoint, key string) (*conn, error) {
	header := http.Header{}
	for k, v := range ep.Headers {
		header.Set(k, v)
	}
	p.log.Debug("dialing validation backend", "url", ep.URL)
	ws, resp, err := p.dialer.Dial(ep.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, mrtderr.Force(err, mrtderr.ConnectionRejected, fmt.Sprintf("validation backend refused the handshake (%d)", resp.StatusCode))
		}
		return nil, mrtderr.Force(err, mrtderr.ConnectionSocketClosed, "dialing validation backend")
	}

	c := &conn{
		pool:     p,
		key:      key,
		ws:       ws,
		sessions: make(map[string]*Session),
		closed:   make(chan struct{}),
		log:      p.log.With("url", ep.URL),
	}
	p.mu.Lock()
	p.conns[key] = c
	p.mu.Unlock()
	go c.readLoop()
	return c, nil
}

// release drops one reference; the last one closes the socket.
func (p *Pool) release(c *conn) {
	p.mu.Lock()
	c.refs--
	last := c.refs <= 0
	if last && p.conns[c.key] == c {
		delete(p.conns, c.key)
	}
	p.mu.Unlock()
	if last {
		c.shutdown(mrtderr.New(mrtderr.ConnectionSocketClosed, "validation socket released"))
	}
}

// conn is one backend socket. refs is guarded by the pool's mutex.
type conn struct {
	pool *Pool
	key  string
	ws   *websocket.Conn
	log  *slog.Logger
	refs int

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session

	once   sync.Once
	closed chan struct{}
	err    error
}

func (c *conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *conn) closeErr() error {
	<-c.closed
	return c.err
}

func (c *conn) shutdown(err error) {
	c.once.Do(func() {
		c.pool.mu.Lock()
		if c.pool.conns[c.key] == c {
			delete(c.pool.conns, c.key)
		}
		c.pool.mu.Unlock()

		c.err = err
		close(c.closed)
		_ = c.ws.Close()
		c.log.Debug("validation socket closed", "reason", err)
	})
}

func (c *conn) send(msg models.Message) error {
	if c.isClosed() {
		return c.err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		err = mrtderr.Force(err, mrtderr.ConnectionSocketClosed, "writing to validation socket")
		c.shutdown(err)
		return err
	}
	return nil
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.shutdown(mrtderr.Force(err, mrtderr.ConnectionSocketClosed, "validation socket closed"))
			return
		}
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.mu.Lock()
		s := c.sessions[msg.SessionId]
		c.mu.Unlock()
		if s == nil {
			c.log.Debug("frame for unknown session", "session_id", msg.SessionId, "type", msg.Type)
			continue
		}
		s.deliver(msg)
	}
}

func (c *conn) register(s *Session) {
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
}

func (c *conn) unregister(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.ID)
	c.mu.Unlock()
}
