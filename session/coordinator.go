// Package session runs one passport read end to end: the validation
// exchange, access control, reading, verification and the JSON result.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/auth"
	"go-emrtd-connector/document"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/logging"
	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/result"
	"go-emrtd-connector/transport"

	"github.com/google/uuid"
)

// Exchange is the logical session with the validation backend.
type Exchange interface {
	// Challenge is the nonce the chip signs for active authentication.
	Challenge() []byte
	Submit(ctx context.Context, req models.ValidationRequest) (*models.Verdict, error)
	Close()
}

// OpenFunc opens the validation exchange of one read.
type OpenFunc func(ctx context.Context, validationID string) (Exchange, error)

// Request describes one read.
type Request struct {
	Credential   mrz.Credential
	ValidationID string
	// DataGroups defaults to lds.DefaultDataGroups. DG1 is always read.
	DataGroups []lds.DataGroupID
	// Open connects to the validation backend. Without it the read is
	// verified locally only.
	Open OpenFunc
}

// Config wires a Coordinator.
type Config struct {
	Reader        *transport.Reader
	Authenticator *auth.Authenticator
	// MaxChunk bounds READ BINARY; zero uses lds.DefaultMaxChunk.
	MaxChunk int
	// ExchangeTimeout bounds every APDU exchange.
	ExchangeTimeout time.Duration
	// SessionTimeout bounds a whole read when positive.
	SessionTimeout time.Duration
	Encoder        result.Encoder
	// OnTransition sees every state change, terminal ones included.
	OnTransition func(op *Operation, from, to State)
}

// Coordinator starts reads on one reader. Reads are independent; they only
// wait for each other on the reader's lock.
type Coordinator struct {
	cfg  Config
	auth *auth.Authenticator
	log  *slog.Logger
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Reader == nil {
		return nil, errors.New("session: no reader")
	}
	a := cfg.Authenticator
	if a == nil {
		a = &auth.Authenticator{}
	}
	return &Coordinator{cfg: cfg, auth: a, log: logging.For("session")}, nil
}

// Start runs req in its own goroutine. Cancelling ctx or the returned
// operation stops the read.
func (c *Coordinator) Start(ctx context.Context, req Request) *Operation {
	ctx, cancel := context.WithCancel(ctx)
	op := newOperation(uuid.NewString(), cancel)
	go func() {
		defer cancel()
		json, err := c.run(ctx, op, req)

		from := op.State()
		op.complete(json, err, func(to State) {
			if err != nil {
				c.log.Warn("read failed", "operation", op.ID, "state", from.String(), "kind", string(mrtderr.KindOf(err)), "error", err)
			} else {
				c.log.Info("read completed", "operation", op.ID)
			}
			c.notify(op, from, to)
		})
	}()
	return op
}

// Read runs req and waits for the result.
func (c *Coordinator) Read(ctx context.Context, req Request) (string, error) {
	return c.Start(ctx, req).Wait()
}

func (c *Coordinator) notify(op *Operation, from, to State) {
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(op, from, to)
	}
}

func (c *Coordinator) enter(op *Operation, s State) {
	from := op.State()
	if op.setState(s) {
		c.log.Debug("state", "operation", op.ID, "from", from.String(), "to", s.String())
		c.notify(op, from, s)
	}
}

// classify turns err into the typed error the read resolves with.
// Cancellation wins over whatever error it caused.
func classify(ctx context.Context, phase State, err error) error {
	reading := phase >= StateReading
	if ctxErr := ctx.Err(); ctxErr != nil {
		return mrtderr.FromContext(ctxErr, reading)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return mrtderr.FromContext(err, reading)
	}
	if mrtderr.KindOf(err) != "" {
		return err
	}
	switch phase {
	case StateIdle:
		return mrtderr.Force(err, mrtderr.AuthInvalidCredentialFormat, "credential")
	case StateConnecting:
		return mrtderr.Force(err, mrtderr.ConnectionSocketClosed, "validation session")
	case StateAuthenticating:
		return mrtderr.Force(err, mrtderr.AuthChipRejected, "authentication")
	case StateReading:
		return mrtderr.Force(err, mrtderr.ReadMalformedField, "reading")
	default:
		return mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "verification")
	}
}

func (c *Coordinator) run(ctx context.Context, op *Operation, req Request) (string, error) {
	phase := StateIdle
	fail := func(err error) (string, error) {
		return "", classify(ctx, phase, err)
	}

	// no I/O before the credential is known to be well formed
	if req.Credential == nil {
		return "", mrtderr.New(mrtderr.AuthInvalidCredentialFormat, "no credential")
	}
	if err := req.Credential.Validate(); err != nil {
		return fail(err)
	}
	ids := req.DataGroups
	if len(ids) == 0 {
		ids = lds.DefaultDataGroups
	}
	if !slices.Contains(ids, lds.DG1) {
		ids = append([]lds.DataGroupID{lds.DG1}, ids...)
	}

	if c.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SessionTimeout)
		defer cancel()
	}

	phase = StateConnecting
	c.enter(op, phase)
	var ex Exchange
	if req.Open != nil {
		var err error
		if ex, err = req.Open(ctx, req.ValidationID); err != nil {
			return fail(err)
		}
		defer ex.Close()
	}

	phase = StateAuthenticating
	c.enter(op, phase)
	lease, err := c.cfg.Reader.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	defer lease.Release()
	c.log.Debug("reader acquired", "operation", op.ID, "reader", c.cfg.Reader.Name())
	ch := transport.WithTimeout(lease.Channel(), c.cfg.ExchangeTimeout)
	authRes, err := c.auth.Authenticate(ctx, ch, req.Credential)
	if err != nil {
		return fail(err)
	}

	phase = StateReading
	c.enter(op, phase)
	var challenge []byte
	if ex != nil {
		challenge = ex.Challenge()
	}
	chip, err := c.readChip(ctx, op, authRes, challenge, ids)
	if err != nil {
		return fail(err)
	}
	lease.Release()

	phase = StateVerifying
	c.enter(op, phase)
	rec, err := document.NewPassportRecord(chip.groups, chip.sod)
	if err != nil {
		return fail(err)
	}
	rec.Authentication = document.Authentication{
		Method:                string(authRes.Method),
		ChipAuthentication:    chip.chipAuth,
		ActiveAuthentication:  chip.activeAuth,
		PassiveAuthentication: true,
		ValidationID:          req.ValidationID,
		AuthenticChip:         chip.chipAuth || chip.activeAuth,
	}

	if ex != nil {
		vreq := models.ValidationRequest{
			Nonce:              hex.EncodeToString(chip.challenge),
			DataGroups:         rec.HexGroups(),
			EFSOD:              hex.EncodeToString(rec.SOD),
			AuthMethod:         string(authRes.Method),
			ChipAuthentication: chip.chipAuth,
		}
		if chip.activeAuth {
			vreq.ActiveAuthSignature = hex.EncodeToString(chip.signature)
		}
		verdict, err := ex.Submit(ctx, vreq)
		if err != nil {
			return fail(err)
		}
		if !verdict.AuthenticContent {
			return fail(mrtderr.New(mrtderr.ReadIntegrityViolation, "validation backend rejected the chip content"))
		}
		rec.Authentication.AuthenticChip = verdict.AuthenticChip
		rec.Authentication.TrustedIssuer = verdict.TrustedIssuer
		rec.Authentication.Receipt = verdict.Receipt
	}

	json, err := c.cfg.Encoder.Encode(rec)
	if err != nil {
		return fail(err)
	}
	return json, nil
}

type chipData struct {
	groups     map[lds.DataGroupID][]byte
	sod        *lds.SOD
	chipAuth   bool
	activeAuth bool
	challenge  []byte
	signature  []byte
}

// readChip runs chip authentication when DG14 is wanted, reads and verifies
// the groups, then runs active authentication when DG15 was read.
func (c *Coordinator) readChip(ctx context.Context, op *Operation, res *auth.Result, challenge []byte, ids []lds.DataGroupID) (*chipData, error) {
	log := c.log.With("operation", op.ID)
	rd := lds.NewReader(res.Sender, c.cfg.MaxChunk)
	out := &chipData{}

	if slices.Contains(ids, lds.DG14) {
		ok, err := c.chipAuthenticate(ctx, log, rd, res)
		if err != nil {
			return nil, err
		}
		out.chipAuth = ok
	}

	groups, sod, err := rd.ReadGroups(ctx, ids)
	if err != nil {
		return nil, err
	}
	out.groups, out.sod = groups, sod

	dg15, ok := groups[lds.DG15]
	if !ok {
		return out, nil
	}
	if len(challenge) == 0 {
		challenge = make([]byte, auth.ActiveAuthChallengeLen)
		if _, err := rand.Read(challenge); err != nil {
			return nil, err
		}
	}
	sig, err := rd.InternalAuthenticate(ctx, challenge)
	if err != nil {
		if _, isStatus := apdu.StatusOf(err); isStatus {
			log.Info("chip declined active authentication", "error", err)
			return out, nil
		}
		return nil, err
	}
	if err := auth.VerifyActiveAuthentication(dg15, challenge, sig); err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "active authentication")
	}
	out.activeAuth, out.challenge, out.signature = true, challenge, sig
	return out, nil
}

func (c *Coordinator) chipAuthenticate(ctx context.Context, log *slog.Logger, rd *lds.Reader, res *auth.Result) (bool, error) {
	raw, err := rd.ReadDataGroup(ctx, lds.DG14)
	if err != nil {
		if apdu.IsFileNotFound(err) || apdu.IsSecurityNotSatisfied(err) {
			return false, nil
		}
		return false, err
	}
	infos, err := lds.ParseDG14(raw)
	if err != nil {
		log.Warn("DG14 unusable, skipping chip authentication", "error", err)
		return false, nil
	}
	ok, err := c.auth.ChipAuthenticate(ctx, res.Sender, infos)
	if err != nil {
		return false, err
	}
	log.Debug("chip authentication", "performed", ok)
	return ok, nil
}
