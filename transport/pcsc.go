package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ebfe/scard"
)

// PCSC is a Channel over a PC/SC contactless reader.
type PCSC struct {
	mu     sync.Mutex
	ctx    *scard.Context
	card   *scard.Card
	Reader string
}

// ListReaders returns the names of the PC/SC readers attached.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// OpenPCSC connects to the card on the reader at readerIndex.
func OpenPCSC(readerIndex int) (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect to %q failed: %w", reader, err)
	}

	return &PCSC{ctx: ctx, card: card, Reader: reader}, nil
}

// Transmit ignores ctx; wrap the channel with WithTimeout to bound it.
func (p *PCSC) Transmit(_ context.Context, command []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	resp, err := p.card.Transmit(command)
	if err != nil {
		if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrResetCard) || errors.Is(err, scard.ErrNoSmartcard) {
			return nil, fmt.Errorf("%w: %v", ErrLost, err)
		}
		return nil, err
	}
	return resp, nil
}

// Close disconnects the card and releases the PC/SC context.
func (p *PCSC) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.card != nil {
		errs = append(errs, p.card.Disconnect(scard.LeaveCard))
		p.card = nil
	}
	if p.ctx != nil {
		errs = append(errs, p.ctx.Release())
		p.ctx = nil
	}
	return errors.Join(errs...)
}
