package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/result"
	"go-emrtd-connector/session"
	"go-emrtd-connector/simulator"
	"go-emrtd-connector/transport"
	"go-emrtd-connector/validation"
	"go-emrtd-connector/validation/validationtest"

	"github.com/stretchr/testify/require"
)

func newChip(t *testing.T, opts simulator.Options) *simulator.Chip {
	t.Helper()
	if opts.Document.DocumentNumber == "" {
		opts.Document = simulator.Specimen()
	}
	chip, err := simulator.NewChip(opts)
	require.NoError(t, err)
	return chip
}

type transitions struct {
	mu   sync.Mutex
	seen []session.State
}

func (tr *transitions) record(_ *session.Operation, _, to session.State) {
	tr.mu.Lock()
	tr.seen = append(tr.seen, to)
	tr.mu.Unlock()
}

func (tr *transitions) states() []session.State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]session.State(nil), tr.seen...)
}

func newCoordinator(t *testing.T, ch transport.Channel, cfg session.Config) (*session.Coordinator, *transport.Reader) {
	t.Helper()
	reader := transport.NewReader("simulated", ch)
	cfg.Reader = reader
	c, err := session.New(cfg)
	require.NoError(t, err)
	return c, reader
}

func backendOpen(pool *validation.Pool, url string) session.OpenFunc {
	return func(ctx context.Context, validationID string) (session.Exchange, error) {
		s, err := pool.Open(ctx, validation.Endpoint{ClientID: "test-client", URL: url}, validationID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReadWithMRZOnBACChip(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{})
	pool := validation.NewPool(nil)
	defer pool.Close()

	var tr transitions
	chip := newChip(t, simulator.Options{ActiveAuthentication: true})
	c, reader := newCoordinator(t, chip, session.Config{OnTransition: tr.record})

	js, err := c.Read(testContext(t), session.Request{
		Credential:   mrz.NewDocumentCredential("L898902C3", "740812", "120415"),
		ValidationID: "val-1",
		Open:         backendOpen(pool, backend.URL()),
	})
	require.NoError(t, err)
	require.Contains(t, js, `"documentNumber":"L898902C3"`)
	require.False(t, reader.Busy())

	p, err := result.Decode(js)
	require.NoError(t, err)
	require.Equal(t, "BAC", p.Authentication.Method)
	require.True(t, p.Authentication.PassiveAuthentication)
	require.True(t, p.Authentication.ActiveAuthentication)
	require.True(t, p.Authentication.AuthenticChip)
	require.Equal(t, "val-1", p.Authentication.ValidationID)
	require.Contains(t, p.DataGroups, "DG15")

	require.Equal(t, []session.State{
		session.StateConnecting,
		session.StateAuthenticating,
		session.StateReading,
		session.StateVerifying,
		session.StateCompleted,
	}, tr.states())

	opens := backend.Opens()
	require.Len(t, opens, 1)
	require.Equal(t, "val-1", opens[0].ValidationId)
	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	require.NotEmpty(t, reqs[0].ActiveAuthSignature)
	require.Equal(t, "BAC", reqs[0].AuthMethod)
}

func TestReadWithCANOnPACEChipWithoutValidationID(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{})
	pool := validation.NewPool(nil)
	defer pool.Close()

	chip := newChip(t, simulator.Options{PACE: true, DisableBAC: true})
	c, _ := newCoordinator(t, chip, session.Config{})

	js, err := c.Read(testContext(t), session.Request{
		Credential: mrz.NewCanCredential("500321"),
		Open:       backendOpen(pool, backend.URL()),
	})
	require.NoError(t, err)

	p, err := result.Decode(js)
	require.NoError(t, err)
	require.Equal(t, "L898902C3", p.DocumentNumber)
	require.Equal(t, "PACE", p.Authentication.Method)
	require.Empty(t, p.Authentication.ValidationID)
	require.Empty(t, backend.Opens()[0].ValidationId)
}

func TestReadWithChipAuthenticationWithoutBackend(t *testing.T) {
	chip := newChip(t, simulator.Options{ChipAuthentication: true})
	c, _ := newCoordinator(t, chip, session.Config{})

	js, err := c.Read(testContext(t), session.Request{Credential: simulator.Specimen().Credential()})
	require.NoError(t, err)

	p, err := result.Decode(js)
	require.NoError(t, err)
	require.True(t, p.Authentication.ChipAuthentication)
	require.True(t, p.Authentication.AuthenticChip)
	require.False(t, p.Authentication.TrustedIssuer)
	require.Contains(t, p.DataGroups, "DG14")
}

func TestReadOnlyRequestedGroups(t *testing.T) {
	chip := newChip(t, simulator.Options{})
	c, _ := newCoordinator(t, chip, session.Config{})

	js, err := c.Read(testContext(t), session.Request{
		Credential: simulator.Specimen().Credential(),
		DataGroups: []lds.DataGroupID{lds.DG11},
	})
	require.NoError(t, err)

	p, err := result.Decode(js)
	require.NoError(t, err)
	require.Len(t, p.DataGroups, 2)
	require.Contains(t, p.DataGroups, "DG1")
	require.Contains(t, p.DataGroups, "DG11")
	require.Empty(t, p.Photo)
}

func TestTamperedChipContent(t *testing.T) {
	tests := []struct {
		name   string
		faults simulator.Faults
	}{
		{name: "SOD signature", faults: simulator.Faults{TamperSOD: true}},
		{name: "data group after signing", faults: simulator.Faults{TamperGroup: lds.DG11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := validationtest.NewBackend(t, validationtest.Config{})
			pool := validation.NewPool(nil)
			defer pool.Close()

			chip := newChip(t, simulator.Options{Faults: tt.faults})
			c, reader := newCoordinator(t, chip, session.Config{})

			js, err := c.Read(testContext(t), session.Request{
				Credential: simulator.Specimen().Credential(),
				Open:       backendOpen(pool, backend.URL()),
			})
			require.True(t, mrtderr.HasKind(err, mrtderr.ReadIntegrityViolation), "got %v", err)
			require.Empty(t, js)
			require.False(t, reader.Busy())
			require.Empty(t, backend.Requests(), "tampered content is never submitted")
		})
	}
}

func TestBackendRejectsContent(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{
		Verdict: func(models.ValidationRequest, []byte) (*models.Verdict, *models.ErrorBody) {
			return &models.Verdict{AuthenticContent: false}, nil
		},
	})
	pool := validation.NewPool(nil)
	defer pool.Close()

	c, _ := newCoordinator(t, newChip(t, simulator.Options{}), session.Config{})
	js, err := c.Read(testContext(t), session.Request{
		Credential: simulator.Specimen().Credential(),
		Open:       backendOpen(pool, backend.URL()),
	})
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadIntegrityViolation), "got %v", err)
	require.Empty(t, js)
}

func TestCancelDuringReadingReleasesReader(t *testing.T) {
	reading := make(chan struct{})
	var once sync.Once
	blocking := newChip(t, simulator.Options{
		Faults: simulator.Faults{
			OnCommand: func(ctx context.Context, cmd apdu.Command) error {
				if cmd.Ins != apdu.InsReadBinary {
					return nil
				}
				first := false
				once.Do(func() {
					close(reading)
					first = true
				})
				if first {
					<-ctx.Done()
					return ctx.Err()
				}
				return nil
			},
		},
	})
	var current atomic.Pointer[simulator.Chip]
	current.Store(blocking)
	ch := transport.ChannelFunc(func(ctx context.Context, cmd []byte) ([]byte, error) {
		return current.Load().Transmit(ctx, cmd)
	})

	var tr transitions
	c, reader := newCoordinator(t, ch, session.Config{OnTransition: tr.record})
	ctx := testContext(t)

	op := c.Start(ctx, session.Request{Credential: simulator.Specimen().Credential()})
	select {
	case <-reading:
	case <-ctx.Done():
		t.Fatal("read never reached READ BINARY")
	}
	require.Equal(t, session.StateReading, op.State())
	op.Cancel()

	js, err := op.Wait()
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadCancelled), "got %v", err)
	require.Empty(t, js)
	require.Equal(t, session.StateFailed, op.State())
	require.False(t, reader.Busy())

	lease, ok := reader.TryAcquire()
	require.True(t, ok)
	lease.Release()

	current.Store(newChip(t, simulator.Options{}))
	_, err = c.Read(ctx, session.Request{Credential: simulator.Specimen().Credential()})
	require.NoError(t, err)
}

func TestCancelBeforeReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chip := newChip(t, simulator.Options{
		Faults: simulator.Faults{
			OnCommand: func(_ context.Context, cmd apdu.Command) error {
				if cmd.Ins == apdu.InsGetChallenge {
					cancel()
				}
				return nil
			},
		},
	})
	c, reader := newCoordinator(t, chip, session.Config{})

	_, err := c.Read(ctx, session.Request{Credential: simulator.Specimen().Credential()})
	require.True(t, mrtderr.HasKind(err, mrtderr.AuthCancelled), "got %v", err)
	require.False(t, reader.Busy())
}

func TestInvalidCredentialFailsBeforeAnyIO(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{})
	pool := validation.NewPool(nil)
	defer pool.Close()

	chip := newChip(t, simulator.Options{})
	c, _ := newCoordinator(t, chip, session.Config{})

	tests := map[string]mrz.Credential{
		"impossible date": mrz.NewDocumentCredential("L898902C3", "741312", "120415"),
		"short CAN":       mrz.NewCanCredential("5003"),
		"nil":             nil,
	}
	for name, cred := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Read(testContext(t), session.Request{
				Credential: cred,
				Open:       backendOpen(pool, backend.URL()),
			})
			require.True(t, mrtderr.HasKind(err, mrtderr.AuthInvalidCredentialFormat), "got %v", err)
		})
	}
	require.Empty(t, chip.Commands())
	require.Equal(t, 0, backend.Connections())
}

func TestSessionTimeout(t *testing.T) {
	chip := newChip(t, simulator.Options{Faults: simulator.Faults{Latency: 80 * time.Millisecond}})
	c, reader := newCoordinator(t, chip, session.Config{SessionTimeout: 100 * time.Millisecond})

	_, err := c.Read(context.Background(), session.Request{Credential: simulator.Specimen().Credential()})
	require.True(t, mrtderr.HasKind(err, mrtderr.AuthTimeout), "got %v", err)
	require.False(t, reader.Busy())
}

func TestSocketClosedDuringVerification(t *testing.T) {
	release := make(chan struct{})
	received := make(chan struct{}, 1)
	backend := validationtest.NewBackend(t, validationtest.Config{
		Verdict: func(models.ValidationRequest, []byte) (*models.Verdict, *models.ErrorBody) {
			received <- struct{}{}
			<-release
			return &models.Verdict{AuthenticContent: true}, nil
		},
	})
	t.Cleanup(func() { close(release) })
	pool := validation.NewPool(nil)
	defer pool.Close()

	var tr transitions
	c, _ := newCoordinator(t, newChip(t, simulator.Options{}), session.Config{OnTransition: tr.record})
	go func() {
		<-received
		backend.CloseConnections()
	}()

	js, err := c.Read(testContext(t), session.Request{
		Credential: simulator.Specimen().Credential(),
		Open:       backendOpen(pool, backend.URL()),
	})
	require.True(t, mrtderr.HasKind(err, mrtderr.ConnectionSocketClosed), "got %v", err)
	require.Empty(t, js)

	states := tr.states()
	require.Equal(t, session.StateFailed, states[len(states)-1])
	require.Equal(t, session.StateVerifying, states[len(states)-2])
}

func TestBackendUnreachable(t *testing.T) {
	pool := validation.NewPool(nil)
	defer pool.Close()

	chip := newChip(t, simulator.Options{})
	c, _ := newCoordinator(t, chip, session.Config{})

	_, err := c.Read(testContext(t), session.Request{
		Credential: simulator.Specimen().Credential(),
		Open:       backendOpen(pool, "ws://127.0.0.1:1/ws"),
	})
	require.True(t, mrtderr.HasKind(err, mrtderr.ConnectionSocketClosed), "got %v", err)
	require.Empty(t, chip.Commands(), "the chip is not touched without a validation session")
}

func TestConcurrentReadsShareTheReader(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{})
	pool := validation.NewPool(nil)
	defer pool.Close()

	c, _ := newCoordinator(t, newChip(t, simulator.Options{ActiveAuthentication: true}), session.Config{})
	ctx := testContext(t)

	ops := make([]*session.Operation, 4)
	for i := range ops {
		ops[i] = c.Start(ctx, session.Request{
			Credential: simulator.Specimen().Credential(),
			Open:       backendOpen(pool, backend.URL()),
		})
	}
	for _, op := range ops {
		js, err := op.Wait()
		require.NoError(t, err)
		require.Contains(t, js, `"documentNumber":"L898902C3"`)
	}
	require.Len(t, backend.Requests(), len(ops))
}

func TestCompletionFiresExactlyOnce(t *testing.T) {
	type outcome struct {
		name string
		opts simulator.Options
		ctx  func() (context.Context, context.CancelFunc)
	}
	tests := []outcome{
		{name: "success", opts: simulator.Options{}},
		{name: "failure", opts: simulator.Options{Faults: simulator.Faults{TamperSOD: true}}},
		{name: "cancelled", opts: simulator.Options{}, ctx: func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var terminal atomic.Int32
			cfg := session.Config{OnTransition: func(_ *session.Operation, _, to session.State) {
				if to.Terminal() {
					terminal.Add(1)
				}
			}}
			c, _ := newCoordinator(t, newChip(t, tt.opts), cfg)

			ctx, cancel := context.WithCancel(context.Background())
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			op := c.Start(ctx, session.Request{Credential: simulator.Specimen().Credential()})
			js, err := op.Wait()
			require.True(t, (err == nil) != (js == ""), "exactly one of result and error is set")
			op.Cancel()
			<-op.Done()
			require.Equal(t, int32(1), terminal.Load())
		})
	}
}
