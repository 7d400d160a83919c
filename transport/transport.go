// Package transport abstracts the contactless channel to an eMRTD chip and
// serialises access to a physical reader.
package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-emrtd-connector/apdu"
)

var (
	// ErrTimeout is returned when a single exchange exceeds its bounded window.
	ErrTimeout = errors.New("transport: exchange timed out")
	// ErrLost is returned when the chip left the field or the reader went away.
	ErrLost = errors.New("transport: chip lost")
	// ErrReleased is returned for exchanges attempted after the lease ended.
	ErrReleased = errors.New("transport: lease released")
)

// Channel is the NFC primitive consumed by the reader: one command APDU in,
// one response APDU out. Implementations for real readers and test doubles.
type Channel interface {
	Transmit(ctx context.Context, command []byte) ([]byte, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, command []byte) ([]byte, error)

func (f ChannelFunc) Transmit(ctx context.Context, command []byte) ([]byte, error) {
	return f(ctx, command)
}

// Sender exchanges structured APDUs, either in plain or through secure messaging.
type Sender interface {
	Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error)
}

// Exchange transmits raw on ch and logs both directions at debug level.
func Exchange(ctx context.Context, ch Channel, raw []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := ch.Transmit(ctx, raw)
	if err != nil {
		slog.Debug("apdu exchange failed", "command", upperHex(raw), "error", err)
		return nil, err
	}
	slog.Debug("apdu",
		"command", upperHex(raw),
		"response", upperHex(resp),
		"elapsed", time.Since(start))
	return resp, nil
}

func upperHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// Plain sends commands without secure messaging. It is used before access
// control has been established.
type Plain struct {
	ch Channel
}

func NewPlain(ch Channel) *Plain {
	return &Plain{ch: ch}
}

func (p *Plain) Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return apdu.Response{}, err
	}
	resp, err := Exchange(ctx, p.ch, raw)
	if err != nil {
		return apdu.Response{}, err
	}
	return apdu.ParseResponse(resp)
}

// WithTimeout bounds every exchange on ch by d. The underlying Transmit may
// ignore its context, so the wait is bounded here as well.
func WithTimeout(ch Channel, d time.Duration) Channel {
	if d <= 0 {
		return ch
	}
	return &timeoutChannel{ch: ch, d: d}
}

type timeoutChannel struct {
	ch Channel
	d  time.Duration
}

type transmitResult struct {
	resp []byte
	err  error
}

func (t *timeoutChannel) Transmit(ctx context.Context, command []byte) ([]byte, error) {
	ectx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan transmitResult, 1)
	go func() {
		resp, err := t.ch.Transmit(ectx, command)
		done <- transmitResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, t.d)
		}
		return r.resp, r.err
	case <-ectx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, t.d)
	}
}
