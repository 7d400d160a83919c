package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-emrtd-connector/lds"
	"go-emrtd-connector/models"
	"go-emrtd-connector/simulator"

	"github.com/stretchr/testify/require"
)

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

const testBaseURL = "http://localhost:8081"
const testSocketURL = "ws://localhost:8081/ws"

func startTestServer(t *testing.T, state *ServerState) *Server {
	t.Helper()

	srv, err := NewServer(state, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func newTestState(t *testing.T) (*ServerState, *rsa.PublicKey) {
	t.Helper()
	key := testKey(t)
	return &ServerState{
		sessionStorage: NewInMemorySessionStorage(time.Minute),
		receiptSigner:  NewReceiptSignerFromKey(key, "test-issuer"),
	}, &key.PublicKey
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// start-validation bootstrap
func startValidation(t *testing.T, clientId string) (sessionID, nonce string) {
	t.Helper()
	resp, body, sr := postJSON[StartValidationResponse](t, testBaseURL+"/api/start-validation", StartValidationRequest{ClientId: clientId})
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	require.Len(t, sr.Nonce, 2*challengeLength)
	return sr.SessionId, sr.Nonce
}

// Request builders
type reqOpt func(*models.ValidationRequest)

func withDG(name, hexVal string) reqOpt {
	return func(r *models.ValidationRequest) {
		if r.DataGroups == nil {
			r.DataGroups = map[string]string{}
		}
		r.DataGroups[name] = hexVal
	}
}

func withEFSOD(hexVal string) reqOpt {
	return func(r *models.ValidationRequest) { r.EFSOD = hexVal }
}

func withSig(hexVal string) reqOpt {
	return func(r *models.ValidationRequest) { r.ActiveAuthSignature = hexVal }
}

// newReq builds a submission of the specimen passport whose active
// authentication signature covers nonce.
func newReq(t *testing.T, sessionId, nonce string, opts ...reqOpt) models.ValidationRequest {
	t.Helper()
	keys, err := simulator.DefaultKeys()
	require.NoError(t, err)

	doc := simulator.Specimen()
	groups := map[lds.DataGroupID][]byte{
		lds.DG1:  doc.DG1(),
		lds.DG11: doc.DG11(),
	}
	groups[lds.DG15], err = keys.DG15()
	require.NoError(t, err)
	sod, err := keys.SOD(groups)
	require.NoError(t, err)

	r := models.ValidationRequest{
		SessionId:  sessionId,
		Nonce:      nonce,
		DataGroups: map[string]string{},
		EFSOD:      hex.EncodeToString(sod),
	}
	for id, raw := range groups {
		r.DataGroups[id.String()] = hex.EncodeToString(raw)
	}
	if challenge, err := hex.DecodeString(nonce); err == nil {
		sig, err := keys.SignActiveAuth(rand.Reader, challenge)
		require.NoError(t, err)
		r.ActiveAuthSignature = hex.EncodeToString(sig)
	}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func writeKeyFile(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "priv.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
