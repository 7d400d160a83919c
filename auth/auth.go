// Package auth opens secure messaging with an eMRTD chip. The MRZ triple
// authenticates with BAC, the card access number with PACE, and chip
// authentication upgrades either session when DG14 offers it.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/logging"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/securemessaging"
	"go-emrtd-connector/transport"
)

// Method is the access control protocol that produced a session.
type Method string

const (
	MethodBAC  Method = "BAC"
	MethodPACE Method = "PACE"
)

// Result is an authenticated channel to the chip with the eMRTD
// application selected.
type Result struct {
	Method Method
	Sender *securemessaging.Sender
	// CardAccess is set when EF.CardAccess was read.
	CardAccess *lds.SecurityInfos
}

// Authenticator runs access control. The zero value uses crypto/rand and
// authenticates MRZ credentials with BAC.
type Authenticator struct {
	// Random supplies nonces and ephemeral keys.
	Random io.Reader
	// PreferPACE runs PACE with the MRZ password when EF.CardAccess offers it.
	PreferPACE bool
}

func (a *Authenticator) random() io.Reader {
	if a.Random != nil {
		return a.Random
	}
	return rand.Reader
}

// classify maps handshake failures onto auth error kinds.
func classify(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case mrtderr.KindOf(err) != "":
		return mrtderr.Wrap(err, "", msg)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return mrtderr.FromContext(err, false)
	case errors.Is(err, transport.ErrTimeout):
		return mrtderr.Force(err, mrtderr.AuthTimeout, msg)
	case errors.Is(err, transport.ErrLost), errors.Is(err, transport.ErrReleased):
		return mrtderr.Force(err, mrtderr.TransportLost, msg)
	}
	return mrtderr.Force(err, mrtderr.AuthChipRejected, msg)
}

func rejected(format string, args ...any) error {
	return mrtderr.New(mrtderr.AuthChipRejected, fmt.Sprintf(format, args...))
}

// send transmits cmd and requires 9000.
func send(ctx context.Context, s transport.Sender, cmd apdu.Command, step string) (apdu.Response, error) {
	resp, err := s.Send(ctx, cmd)
	if err != nil {
		return apdu.Response{}, classify(err, step)
	}
	if resp.SW != apdu.SWSuccess {
		return apdu.Response{}, mrtderr.Force(&apdu.SWError{Ins: cmd.Ins, SW: resp.SW}, mrtderr.AuthChipRejected, step)
	}
	return resp, nil
}

// Authenticate validates cred before any I/O, then runs BAC or PACE over ch.
func (a *Authenticator) Authenticate(ctx context.Context, ch transport.Channel, cred mrz.Credential) (*Result, error) {
	if cred == nil {
		return nil, mrtderr.New(mrtderr.AuthInvalidCredentialFormat, "no credential")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	log := logging.For("auth").With("credential", cred.Redacted())

	plain := transport.NewPlain(ch)
	_, isCAN := cred.(mrz.CanCredential)

	var cardAccess *lds.SecurityInfos
	if isCAN || a.PreferPACE {
		infos, err := readCardAccess(ctx, plain)
		switch {
		case err == nil:
			cardAccess = infos
		case mrtderr.KindOf(err) == mrtderr.AuthTimeout,
			mrtderr.KindOf(err) == mrtderr.AuthCancelled,
			mrtderr.KindOf(err) == mrtderr.TransportLost:
			return nil, err
		default:
			log.Debug("EF.CardAccess unavailable", "error", err)
		}
	}

	if cardAccess != nil {
		if info, ok := cardAccess.SupportedPACE(); ok {
			log.Debug("running PACE", "protocol", info.Protocol.String(), "parameter_id", info.ParameterID)
			sender, err := a.pace(ctx, plain, ch, cred, info)
			if err != nil {
				return nil, err
			}
			sel := lds.NewReader(sender, 0)
			if err := sel.SelectApplication(ctx); err != nil {
				return nil, classify(err, "selecting application after PACE")
			}
			return &Result{Method: MethodPACE, Sender: sender, CardAccess: cardAccess}, nil
		}
	}

	doc, ok := cred.(mrz.DocumentCredential)
	if !ok {
		return nil, rejected("chip does not offer a supported PACE configuration")
	}

	if _, err := send(ctx, plain, apdu.SelectApplication(apdu.MRTDApplicationID), "selecting application"); err != nil {
		return nil, err
	}
	log.Debug("running BAC")
	sender, err := a.bac(ctx, plain, ch, doc)
	if err != nil {
		return nil, err
	}
	return &Result{Method: MethodBAC, Sender: sender, CardAccess: cardAccess}, nil
}

func readCardAccess(ctx context.Context, plain transport.Sender) (*lds.SecurityInfos, error) {
	raw, err := lds.NewReader(plain, 0).ReadFile(ctx, lds.FIDCardAccess)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, mrtderr.FromContext(ctxErr, false)
		}
		if errors.Is(err, transport.ErrTimeout) {
			return nil, mrtderr.Force(err, mrtderr.AuthTimeout, "reading EF.CardAccess")
		}
		return nil, err
	}
	infos, err := lds.ParseSecurityInfos(raw)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "decoding EF.CardAccess")
	}
	return infos, nil
}
