package validation_test

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/validation"
	"go-emrtd-connector/validation/validationtest"

	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func approve(models.ValidationRequest, []byte) (*models.Verdict, *models.ErrorBody) {
	return &models.Verdict{AuthenticContent: true, Receipt: "receipt"}, nil
}

func TestOpenAndSubmit(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{Verdict: approve})
	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)

	s, err := pool.Open(ctx, validation.Endpoint{ClientID: "client-1", URL: backend.URL()}, "val-1")
	require.NoError(t, err)
	defer s.Close()
	require.Len(t, s.Challenge(), 8)

	verdict, err := s.Submit(ctx, models.ValidationRequest{
		DataGroups: map[string]string{"DG1": "61"},
		EFSOD:      "77",
	})
	require.NoError(t, err)
	require.True(t, verdict.AuthenticContent)
	require.Equal(t, "receipt", verdict.Receipt)

	opens := backend.Opens()
	require.Len(t, opens, 1)
	require.Equal(t, "client-1", opens[0].ClientId)
	require.Equal(t, "val-1", opens[0].ValidationId)
	require.Equal(t, s.ID, opens[0].SessionId)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, s.ID, reqs[0].SessionId)
	require.Equal(t, hex.EncodeToString(s.Challenge()), reqs[0].Nonce)
}

func TestSessionsShareOneSocket(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{Verdict: approve})
	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)
	ep := validation.Endpoint{ClientID: "client-1", URL: backend.URL()}

	const n = 8
	sessions := make([]*validation.Session, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = pool.Open(ctx, ep, "")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, backend.Connections())
	require.Equal(t, 1, pool.Sockets())

	for _, s := range sessions[1:] {
		s.Close()
	}
	require.Equal(t, 1, pool.Sockets(), "socket stays open while a session uses it")

	_, err := sessions[0].Submit(ctx, models.ValidationRequest{})
	require.NoError(t, err)
	sessions[0].Close()
	require.Equal(t, 0, pool.Sockets())
}

func TestEndpointsWithDifferentHeadersUseSeparateSockets(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{Verdict: approve})
	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)

	a, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL(), Headers: map[string]string{"X-Tenant": "a"}}, "")
	require.NoError(t, err)
	defer a.Close()
	b, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL(), Headers: map[string]string{"X-Tenant": "b"}}, "")
	require.NoError(t, err)
	defer b.Close()
	same, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL(), Headers: map[string]string{"x-tenant": "a"}}, "")
	require.NoError(t, err)
	defer same.Close()

	require.Equal(t, 2, backend.Connections())
	require.Equal(t, 2, pool.Sockets())
}

func TestHeadersReachTheHandshake(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{
		Verdict:        approve,
		RequiredHeader: "Authorization",
		RequiredValue:  "Bearer token",
	})
	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)

	_, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL()}, "")
	require.True(t, mrtderr.HasKind(err, mrtderr.ConnectionRejected), "got %v", err)
	require.Equal(t, 0, pool.Sockets())

	s, err := pool.Open(ctx, validation.Endpoint{
		ClientID: "c",
		URL:      backend.URL(),
		Headers:  map[string]string{"Authorization": "Bearer token"},
	}, "")
	require.NoError(t, err)
	s.Close()
}

func TestValidateURL(t *testing.T) {
	tests := map[string]bool{
		"ws://localhost:8080/ws":   true,
		"wss://validation.example": true,
		"http://localhost/ws":      false,
		"ws://":                    false,
		"localhost:8080":           false,
		"://bad":                   false,
	}
	for raw, ok := range tests {
		t.Run(raw, func(t *testing.T) {
			err := validation.ValidateURL(raw)
			if ok {
				require.NoError(t, err)
				return
			}
			require.True(t, mrtderr.HasKind(err, mrtderr.ConnectionInvalidURL), "got %v", err)
		})
	}
}

func TestSocketClosedWhileAwaitingVerdict(t *testing.T) {
	release := make(chan struct{})
	received := make(chan struct{}, 1)
	backend := validationtest.NewBackend(t, validationtest.Config{
		Verdict: func(models.ValidationRequest, []byte) (*models.Verdict, *models.ErrorBody) {
			received <- struct{}{}
			<-release
			return &models.Verdict{}, nil
		},
	})
	t.Cleanup(func() { close(release) })

	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)

	s, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL()}, "")
	require.NoError(t, err)
	defer s.Close()

	go func() {
		<-received
		backend.CloseConnections()
	}()
	_, err = s.Submit(ctx, models.ValidationRequest{})
	require.True(t, mrtderr.HasKind(err, mrtderr.ConnectionSocketClosed), "got %v", err)
	require.Equal(t, 0, pool.Sockets())
}

func TestBackendErrorFrame(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{
		Verdict: func(models.ValidationRequest, []byte) (*models.Verdict, *models.ErrorBody) {
			return nil, &models.ErrorBody{Code: string(mrtderr.ReadIntegrityViolation), Message: "hash mismatch"}
		},
	})
	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)

	s, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL()}, "")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Submit(ctx, models.ValidationRequest{})
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadIntegrityViolation), "got %v", err)
	require.Contains(t, err.Error(), "hash mismatch")
}

func TestCloseAbandonsSession(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{Verdict: approve})
	pool := validation.NewPool(nil)
	defer pool.Close()
	ctx := testContext(t)
	ep := validation.Endpoint{ClientID: "c", URL: backend.URL()}

	keep, err := pool.Open(ctx, ep, "")
	require.NoError(t, err)
	defer keep.Close()
	s, err := pool.Open(ctx, ep, "")
	require.NoError(t, err)
	s.Close()
	s.Close()

	// the close frame is on the wire before the next submission's result
	_, err = keep.Submit(ctx, models.ValidationRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{s.ID}, backend.Closed())
}

func TestOpenCancelledWhileWaitingForChallenge(t *testing.T) {
	backend := validationtest.NewBackend(t, validationtest.Config{SilentOpen: true})
	pool := validation.NewPool(nil)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := pool.Open(ctx, validation.Endpoint{ClientID: "c", URL: backend.URL()}, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, pool.Sockets())
}

func TestDialFailure(t *testing.T) {
	pool := validation.NewPool(nil)
	defer pool.Close()

	_, err := pool.Open(testContext(t), validation.Endpoint{ClientID: "c", URL: "ws://127.0.0.1:1/ws"}, "")
	require.True(t, mrtderr.HasKind(err, mrtderr.ConnectionSocketClosed), "got %v", err)
}
