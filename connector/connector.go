// Package connector reads electronic passports. A Connector pairs one card
// reader with one validation backend; every read opens a logical session
// with the backend, unlocks the chip with the MRZ or CAN, reads and verifies
// the data groups and resolves with passport JSON or a typed error.
package connector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go-emrtd-connector/auth"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/logging"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/result"
	"go-emrtd-connector/session"
	"go-emrtd-connector/transport"
	"go-emrtd-connector/validation"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// ReadRequest describes one read. Exactly one credential kind is carried by
// Credential.
type ReadRequest struct {
	Credential   mrz.Credential
	ValidationID string
	// HTTPHeaders go with the WebSocket handshake of the validation socket.
	HTTPHeaders map[string]string
	DataGroups  []lds.DataGroupID
}

// Result is the outcome of a read: PassportJSON on success, Err otherwise.
type Result struct {
	PassportJSON string
	Err          error
}

// Operation is a read in flight.
type Operation struct {
	op *session.Operation
}

// Done is closed once the read resolved.
func (o *Operation) Done() <-chan struct{} { return o.op.Done() }

// Cancel stops the read; it resolves with a cancelled error unless it
// already completed.
func (o *Operation) Cancel() { o.op.Cancel() }

// State is the phase the read is in.
func (o *Operation) State() session.State { return o.op.State() }

// Wait blocks until the read resolved.
func (o *Operation) Wait() Result {
	js, err := o.op.Wait()
	return Result{PassportJSON: js, Err: err}
}

type options struct {
	reader   *transport.Reader
	config   Config
	reg      prometheus.Registerer
	dialer   *websocket.Dialer
	encoder  result.Encoder
	observer func(op *session.Operation, from, to session.State)
}

type Option func(*options)

// WithChannel reads through ch.
func WithChannel(ch transport.Channel) Option {
	return func(o *options) { o.reader = transport.NewReader("channel", ch) }
}

// WithReader reads through r, sharing its lock with whoever else holds it.
func WithReader(r *transport.Reader) Option {
	return func(o *options) { o.reader = r }
}

func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithRegisterer registers the connector metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithDialer dials the validation backend with d.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithEncoder overrides how results are encoded.
func WithEncoder(e result.Encoder) Option {
	return func(o *options) { o.encoder = e }
}

// WithStateObserver sees every state change of every read.
func WithStateObserver(fn func(op *session.Operation, from, to session.State)) Option {
	return func(o *options) { o.observer = fn }
}

type Connector struct {
	clientID string
	url      string

	pool       *validation.Pool
	coord      *session.Coordinator
	dataGroups []lds.DataGroupID
	metrics    *Metrics
	log        *slog.Logger
}

// New returns a Connector for clientID talking to the backend at
// webSocketURL. A card channel must be given with WithChannel or WithReader.
func New(clientID, webSocketURL string, opts ...Option) (*Connector, error) {
	if clientID == "" {
		return nil, mrtderr.New(mrtderr.ConnectionInvalidURL, "invalid client id")
	}
	if err := validation.ValidateURL(webSocketURL); err != nil {
		return nil, err
	}

	o := options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reader == nil {
		return nil, errors.New("connector: no card channel, use WithChannel or WithReader")
	}
	groups, err := o.config.dataGroups()
	if err != nil {
		return nil, err
	}
	if o.config.LogLevel != "" {
		logging.InitLoggerWithFormat(o.config.LogLevel, o.config.LogFormat)
	}

	coord, err := session.New(session.Config{
		Reader:          o.reader,
		Authenticator:   &auth.Authenticator{PreferPACE: o.config.PreferPACE},
		MaxChunk:        o.config.MaxChunk,
		ExchangeTimeout: time.Duration(o.config.ExchangeTimeout),
		SessionTimeout:  time.Duration(o.config.SessionTimeout),
		Encoder:         o.encoder,
		OnTransition:    o.observer,
	})
	if err != nil {
		return nil, err
	}

	return &Connector{
		clientID:   clientID,
		url:        webSocketURL,
		pool:       validation.NewPool(o.dialer),
		coord:      coord,
		dataGroups: groups,
		metrics:    NewMetrics(o.reg),
		log:        logging.For("connector"),
	}, nil
}

// ReadPassport starts a read. Concurrent reads are independent sessions that
// take turns on the card reader.
func (c *Connector) ReadPassport(ctx context.Context, req ReadRequest) *Operation {
	groups := req.DataGroups
	if len(groups) == 0 {
		groups = c.dataGroups
	}
	ep := validation.Endpoint{ClientID: c.clientID, URL: c.url, Headers: req.HTTPHeaders}

	start := time.Now()
	c.metrics.started()
	op := c.coord.Start(ctx, session.Request{
		Credential:   req.Credential,
		ValidationID: req.ValidationID,
		DataGroups:   groups,
		Open: func(ctx context.Context, validationID string) (session.Exchange, error) {
			s, err := c.pool.Open(ctx, ep, validationID)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	})
	go func() {
		_, err := op.Wait()
		c.metrics.ObserveRead(start, err)
	}()
	if req.Credential != nil {
		c.log.Debug("read started", "operation", op.ID, "credential", req.Credential.Redacted())
	}
	return &Operation{op: op}
}

// ReadPassportFunc starts a read and calls done exactly once with its result.
func (c *Connector) ReadPassportFunc(ctx context.Context, req ReadRequest, done func(Result)) *Operation {
	op := c.ReadPassport(ctx, req)
	go func() { done(op.Wait()) }()
	return op
}

type ReadOption func(*ReadRequest)

func WithValidationID(id string) ReadOption {
	return func(r *ReadRequest) { r.ValidationID = id }
}

func WithHTTPHeaders(headers map[string]string) ReadOption {
	return func(r *ReadRequest) { r.HTTPHeaders = headers }
}

func WithDataGroups(ids ...lds.DataGroupID) ReadOption {
	return func(r *ReadRequest) { r.DataGroups = ids }
}

// ReadPassportWithMRZ reads a chip unlocked with the document number and the
// YYMMDD dates of birth and expiry.
func (c *Connector) ReadPassportWithMRZ(ctx context.Context, documentNumber, dateOfBirth, dateOfExpiry string, opts ...ReadOption) *Operation {
	req := ReadRequest{Credential: mrz.NewDocumentCredential(documentNumber, dateOfBirth, dateOfExpiry)}
	for _, opt := range opts {
		opt(&req)
	}
	return c.ReadPassport(ctx, req)
}

// ReadPassportWithCAN reads a chip unlocked with its six digit card access
// number.
func (c *Connector) ReadPassportWithCAN(ctx context.Context, can string, opts ...ReadOption) *Operation {
	req := ReadRequest{Credential: mrz.NewCanCredential(can)}
	for _, opt := range opts {
		opt(&req)
	}
	return c.ReadPassport(ctx, req)
}

// Close drops the validation sockets. Reads still running fail with a
// closed socket.
func (c *Connector) Close() {
	c.pool.Close()
}
