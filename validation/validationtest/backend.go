// Package validationtest runs an in-process validation backend for tests.
package validationtest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go-emrtd-connector/document/passport"
	"go-emrtd-connector/models"

	"github.com/gorilla/websocket"
)

// VerdictFunc decides the answer to a result frame. A non-nil ErrorBody is
// sent as an error frame instead of a verdict.
type VerdictFunc func(req models.ValidationRequest, nonce []byte) (*models.Verdict, *models.ErrorBody)

// Config shapes the backend's behaviour.
type Config struct {
	// Verdict defaults to CheckContent.
	Verdict VerdictFunc
	// RequiredHeader and RequiredValue refuse handshakes that lack them.
	RequiredHeader string
	RequiredValue  string
	// SilentOpen never answers open frames with a challenge.
	SilentOpen bool
}

// CheckContent verifies the submission the way the production backend does,
// without a master list.
func CheckContent(req models.ValidationRequest, nonce []byte) (*models.Verdict, *models.ErrorBody) {
	checks, err := passport.Verify(req, nonce, nil)
	if err != nil {
		return nil, &models.ErrorBody{Code: "read.malformed_field", Message: err.Error()}
	}
	v := checks.Verdict(time.Now())
	return &v, nil
}

// Backend is a WebSocket validation backend on a local httptest server.
type Backend struct {
	cfg    Config
	server *httptest.Server

	mu          sync.Mutex
	connections int
	sockets     []*websocket.Conn
	nonces      map[string][]byte
	opens       []models.Message
	requests    []models.ValidationRequest
	closed      []string
}

// NewBackend starts a backend that is shut down when the test ends.
func NewBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	if cfg.Verdict == nil {
		cfg.Verdict = CheckContent
	}
	b := &Backend{cfg: cfg, nonces: make(map[string][]byte)}
	b.server = httptest.NewServer(http.HandlerFunc(b.serveWS))
	t.Cleanup(func() {
		b.CloseConnections()
		b.server.Close()
	})
	return b
}

// URL is the ws:// address of the backend.
func (b *Backend) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

// Connections counts accepted handshakes.
func (b *Backend) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connections
}

// Opens returns the open frames received so far.
func (b *Backend) Opens() []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Message(nil), b.opens...)
}

// Requests returns the submissions received so far.
func (b *Backend) Requests() []models.ValidationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ValidationRequest(nil), b.requests...)
}

// Closed returns the session ids clients abandoned with a close frame.
func (b *Backend) Closed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

// CloseConnections drops every socket without a close handshake.
func (b *Backend) CloseConnections() {
	b.mu.Lock()
	sockets := b.sockets
	b.sockets = nil
	b.mu.Unlock()
	for _, ws := range sockets {
		_ = ws.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (b *Backend) serveWS(w http.ResponseWriter, r *http.Request) {
	if b.cfg.RequiredHeader != "" && r.Header.Get(b.cfg.RequiredHeader) != b.cfg.RequiredValue {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.connections++
	b.sockets = append(b.sockets, ws)
	b.mu.Unlock()
	defer ws.Close()

	var writeMu sync.Mutex
	write := func(msg models.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.WriteJSON(msg)
	}

	for {
		var msg models.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case models.MessageOpen:
			nonce := make([]byte, 8)
			_, _ = rand.Read(nonce)
			b.mu.Lock()
			b.opens = append(b.opens, msg)
			b.nonces[msg.SessionId] = nonce
			b.mu.Unlock()
			if !b.cfg.SilentOpen {
				write(models.Message{Type: models.MessageChallenge, SessionId: msg.SessionId, Nonce: hex.EncodeToString(nonce)})
			}
		case models.MessageResult:
			go b.answer(msg, write)
		case models.MessageClose:
			b.mu.Lock()
			b.closed = append(b.closed, msg.SessionId)
			delete(b.nonces, msg.SessionId)
			b.mu.Unlock()
		}
	}
}

func (b *Backend) answer(msg models.Message, write func(models.Message)) {
	b.mu.Lock()
	nonce, ok := b.nonces[msg.SessionId]
	delete(b.nonces, msg.SessionId)
	if msg.Result != nil {
		b.requests = append(b.requests, *msg.Result)
	}
	b.mu.Unlock()

	reply := models.Message{SessionId: msg.SessionId}
	switch {
	case !ok || msg.Result == nil:
		reply.Type = models.MessageError
		reply.Error = &models.ErrorBody{Code: "connection.rejected", Message: "unknown session"}
	case msg.Result.Nonce != hex.EncodeToString(nonce):
		reply.Type = models.MessageError
		reply.Error = &models.ErrorBody{Code: "connection.rejected", Message: "nonce mismatch"}
	default:
		verdict, errBody := b.cfg.Verdict(*msg.Result, nonce)
		if errBody != nil {
			reply.Type = models.MessageError
			reply.Error = errBody
		} else {
			reply.Type = models.MessageVerdict
			reply.Verdict = verdict
		}
	}
	write(reply)
}
