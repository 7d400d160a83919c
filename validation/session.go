package validation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"

	"github.com/google/uuid"
)

var errNoVerdict = errors.New("verdict frame without body")

// Session is one logical validation exchange on a shared socket.
type Session struct {
	ID string

	conn      *conn
	inbox     chan models.Message
	challenge []byte

	mu       sync.Mutex
	finished bool
	once     sync.Once
}

// Open starts a logical session on the socket for ep and waits for the
// backend's challenge. The caller must Close the session.
func (p *Pool) Open(ctx context.Context, ep Endpoint, validationID string) (*Session, error) {
	if err := ValidateURL(ep.URL); err != nil {
		return nil, err
	}
	c, err := p.acquire(ctx, ep)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:    uuid.NewString(),
		conn:  c,
		inbox: make(chan models.Message, 4),
	}
	c.register(s)

	err = c.send(models.Message{
		Type:         models.MessageOpen,
		SessionId:    s.ID,
		ClientId:     ep.ClientID,
		ValidationId: validationID,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	msg, err := s.await(ctx, models.MessageChallenge)
	if err != nil {
		s.Close()
		return nil, err
	}
	nonce, err := hex.DecodeString(msg.Nonce)
	if err != nil || len(nonce) == 0 {
		s.Close()
		return nil, mrtderr.New(mrtderr.ConnectionRejected, fmt.Sprintf("invalid challenge nonce %q", msg.Nonce))
	}
	s.challenge = nonce
	c.log.Debug("validation session opened", "session_id", s.ID, "validation_id", validationID)
	return s, nil
}

// Challenge is the nonce the backend expects to see signed by the chip.
func (s *Session) Challenge() []byte {
	return s.challenge
}

// Submit sends the chip content and waits for the backend's verdict.
func (s *Session) Submit(ctx context.Context, req models.ValidationRequest) (*models.Verdict, error) {
	req.SessionId = s.ID
	if req.Nonce == "" {
		req.Nonce = hex.EncodeToString(s.challenge)
	}
	err := s.conn.send(models.Message{
		Type:      models.MessageResult,
		SessionId: s.ID,
		Result:    &req,
	})
	if err != nil {
		return nil, err
	}

	msg, err := s.await(ctx, models.MessageVerdict)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	if msg.Verdict == nil {
		return nil, mrtderr.Force(errNoVerdict, mrtderr.ConnectionRejected, "validation backend")
	}
	return msg.Verdict, nil
}

// Close abandons the session if no verdict arrived and drops the socket
// reference. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		finished := s.finished
		s.mu.Unlock()
		if !finished && !s.conn.isClosed() {
			_ = s.conn.send(models.Message{Type: models.MessageClose, SessionId: s.ID})
		}
		s.conn.unregister(s)
		s.conn.pool.release(s.conn)
	})
}

func (s *Session) deliver(msg models.Message) {
	select {
	case s.inbox <- msg:
	default:
		s.conn.log.Warn("session inbox full, dropping frame", "session_id", s.ID, "type", msg.Type)
	}
}

func (s *Session) await(ctx context.Context, want models.MessageType) (models.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		case <-s.conn.closed:
			return models.Message{}, s.conn.err
		case msg := <-s.inbox:
			switch msg.Type {
			case want:
				return msg, nil
			case models.MessageError:
				s.mu.Lock()
				s.finished = true
				s.mu.Unlock()
				return models.Message{}, backendError(msg.Error)
			default:
				s.conn.log.Debug("ignoring unexpected frame", "session_id", s.ID, "type", msg.Type, "want", want)
			}
		}
	}
}

func backendError(body *models.ErrorBody) error {
	if body == nil {
		return mrtderr.New(mrtderr.ConnectionRejected, "validation backend reported an error")
	}
	kind := mrtderr.Kind(body.Code)
	switch kind.Area() {
	case "auth", "integrity", "read", "connection":
	default:
		kind = mrtderr.ConnectionRejected
	}
	return mrtderr.New(kind, body.Message)
}
