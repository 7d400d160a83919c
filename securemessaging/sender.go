package securemessaging

import (
	"context"
	"sync"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/transport"
)

// Sender sends commands over ch through a Codec. It implements
// transport.Sender so readers do not care whether the channel is protected.
type Sender struct {
	ch transport.Channel

	mu    sync.Mutex
	codec *Codec
}

func NewSender(ch transport.Channel, codec *Codec) *Sender {
	return &Sender{ch: ch, codec: codec}
}

// Codec returns the codec currently protecting the channel.
func (s *Sender) Codec() *Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// Rekey replaces the session keys, e.g. after chip authentication.
func (s *Sender) Rekey(codec *Codec) {
	s.mu.Lock()
	s.codec = codec
	s.mu.Unlock()
}

func (s *Sender) Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.codec.Wrap(cmd)
	if err != nil {
		return apdu.Response{}, err
	}
	resp, err := transport.Exchange(ctx, s.ch, raw)
	if err != nil {
		return apdu.Response{}, err
	}
	return s.codec.Unwrap(resp)
}
