package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const ErrorInternal = "error:internal"
const ERR_INVALID_NONCE_SESSION = "invalid session or nonce"
const ERR_PASSPORT_VERIFICATION = "failed to verify passport"

const challengeLength = 8

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	sessionStorage SessionStorage
	receiptSigner  ReceiptSigner
	// passportCertPool decides trusted_issuer; nil skips the CSCA check.
	passportCertPool cms.CertPool
	verifier         PassportVerifier
	metrics          *ServerMetrics
	registry         *prometheus.Registry
	now              func() time.Time
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if state.sessionStorage == nil {
		return nil, errors.New("server needs a session storage")
	}
	if state.registry == nil {
		state.registry = prometheus.NewRegistry()
	}
	if state.metrics == nil {
		state.metrics = NewServerMetrics(state.registry)
	}
	if state.verifier == nil {
		state.verifier = passportVerifierImpl{}
	}
	if state.now == nil {
		state.now = time.Now
	}

	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/start-validation", func(w http.ResponseWriter, r *http.Request) {
		handleStartValidation(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/verify-passport", func(w http.ResponseWriter, r *http.Request) {
		handleVerifyPassport(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleValidationSocket(state, w, r)
	})
	router.Handle("/metrics", promhttp.HandlerFor(state.registry, promhttp.HandlerOpts{}))

	slog.Debug("Registered all API routes")

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// the socket outlives a single request, so only the header read is bounded
		ReadHeaderTimeout: 15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

type StartValidationRequest struct {
	ClientId     string `json:"client_id"`
	ValidationId string `json:"validation_id,omitempty"`
}

type StartValidationResponse struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

func handleStartValidation(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request StartValidationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode start request", err)
			return
		}
	}

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}
	nonce, err := openSession(state, sessionId, request.ClientId, request.ValidationId)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to open session", err)
		return
	}

	if err := writeJSON(w, http.StatusOK, StartValidationResponse{SessionId: sessionId, Nonce: nonce}); err != nil {
		slog.Error("failed to write start response", "error", err)
	}
}

func handleVerifyPassport(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request models.ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode validation request", err)
		return
	}

	verdict, errBody := verifySubmission(state, request)
	if errBody != nil {
		status := http.StatusBadRequest
		if errBody.Code == ErrorInternal {
			status = http.StatusInternalServerError
		}
		if err := writeJSON(w, status, errBody); err != nil {
			slog.Error("failed to write error response", "error", err)
		}
		return
	}
	if err := writeJSON(w, http.StatusOK, verdict); err != nil {
		slog.Error("failed to write verdict", "error", err)
	}
}

// openSession stores a fresh challenge for sessionId and returns it as hex.
func openSession(state *ServerState, sessionId, clientId, validationId string) (string, error) {
	nonce, err := GenerateNonce(challengeLength)
	if err != nil {
		return "", err
	}
	err = state.sessionStorage.StoreSession(sessionId, PendingSession{
		Nonce:        nonce,
		ClientId:     clientId,
		ValidationId: validationId,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	state.metrics.SessionsOpened.Inc()
	slog.Debug("Session opened", "session_id", sessionId, "client_id", clientId)
	return nonce, nil
}

// verifySubmission consumes the session of req and judges the chip content.
// A session answers exactly one submission.
func verifySubmission(state *ServerState, req models.ValidationRequest) (*models.Verdict, *models.ErrorBody) {
	pending, err := state.sessionStorage.RetrieveSession(req.SessionId)
	if err != nil {
		slog.Warn(ERR_INVALID_NONCE_SESSION, "session_id", req.SessionId, "error", err)
		state.metrics.observeVerdict(nil)
		return nil, &models.ErrorBody{Code: string(mrtderr.ConnectionRejected), Message: ERR_INVALID_NONCE_SESSION}
	}
	if err := state.sessionStorage.RemoveSession(req.SessionId); err != nil {
		slog.Warn("failed to remove session", "session_id", req.SessionId, "error", err)
	}
	if req.Nonce != pending.Nonce {
		state.metrics.observeVerdict(nil)
		return nil, &models.ErrorBody{Code: string(mrtderr.ConnectionRejected), Message: ERR_INVALID_NONCE_SESSION}
	}
	challenge, err := hex.DecodeString(pending.Nonce)
	if err != nil {
		state.metrics.observeVerdict(nil)
		return nil, &models.ErrorBody{Code: ErrorInternal, Message: "stored nonce is not hex"}
	}

	checks, err := state.verifier.Verify(req, challenge, state.passportCertPool)
	if err != nil {
		slog.Warn(ERR_PASSPORT_VERIFICATION, "session_id", req.SessionId, "error", err)
		state.metrics.observeVerdict(nil)
		code := mrtderr.KindOf(err)
		if code == "" {
			code = mrtderr.ReadMalformedField
		}
		return nil, &models.ErrorBody{Code: string(code), Message: err.Error()}
	}

	verdict := checks.Verdict(state.now())
	if verdict.AuthenticContent && state.receiptSigner != nil {
		claims, err := checks.ReceiptClaims(req.SessionId, pending.ClientId, pending.ValidationId)
		if err != nil {
			slog.Warn("no receipt for session", "session_id", req.SessionId, "error", err)
		} else if verdict.Receipt, err = state.receiptSigner.SignReceipt(claims); err != nil {
			slog.Error("failed to sign receipt", "session_id", req.SessionId, "error", err)
			state.metrics.observeVerdict(nil)
			return nil, &models.ErrorBody{Code: ErrorInternal, Message: "failed to sign receipt"}
		}
	}
	slog.Info("Passport verified", "session_id", req.SessionId,
		"authentic_content", verdict.AuthenticContent,
		"authentic_chip", verdict.AuthenticChip,
		"trusted_issuer", verdict.TrustedIssuer)
	state.metrics.observeVerdict(&verdict)
	return &verdict, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleValidationSocket serves one client socket. Sessions opened on the
// socket are dropped when it closes.
func handleValidationSocket(state *ServerState, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	state.metrics.ActiveSockets.Inc()
	defer state.metrics.ActiveSockets.Dec()
	defer ws.Close()

	var (
		mu    sync.Mutex
		owned = make(map[string]bool)
		wg    sync.WaitGroup
	)
	write := func(msg models.Message) {
		mu.Lock()
		defer mu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteJSON(msg); err != nil {
			slog.Debug("failed to write frame", "type", msg.Type, "error", err)
		}
	}
	fail := func(sessionId, code, message string) {
		write(models.Message{Type: models.MessageError, SessionId: sessionId, Error: &models.ErrorBody{Code: code, Message: message}})
	}

	defer func() {
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		for id := range owned {
			_ = state.sessionStorage.RemoveSession(id)
		}
	}()

	for {
		var msg models.Message
		if err := ws.ReadJSON(&msg); err != nil {
			slog.Debug("validation socket closed", "error", err)
			return
		}
		if msg.SessionId == "" {
			fail("", string(mrtderr.ConnectionRejected), "frame without session id")
			continue
		}

		switch msg.Type {
		case models.MessageOpen:
			if msg.ClientId == "" {
				fail(msg.SessionId, string(mrtderr.ConnectionRejected), "missing client id")
				continue
			}
			nonce, err := openSession(state, msg.SessionId, msg.ClientId, msg.ValidationId)
			if err != nil {
				slog.Error("failed to open session", "session_id", msg.SessionId, "error", err)
				fail(msg.SessionId, ErrorInternal, "failed to open session")
				continue
			}
			mu.Lock()
			owned[msg.SessionId] = true
			mu.Unlock()
			write(models.Message{Type: models.MessageChallenge, SessionId: msg.SessionId, Nonce: nonce})

		case models.MessageResult:
			mu.Lock()
			ok := owned[msg.SessionId]
			delete(owned, msg.SessionId)
			mu.Unlock()
			if !ok || msg.Result == nil {
				fail(msg.SessionId, string(mrtderr.ConnectionRejected), ERR_INVALID_NONCE_SESSION)
				continue
			}
			req := *msg.Result
			req.SessionId = msg.SessionId
			wg.Add(1)
			go func() {
				defer wg.Done()
				verdict, errBody := verifySubmission(state, req)
				if errBody != nil {
					write(models.Message{Type: models.MessageError, SessionId: req.SessionId, Error: errBody})
					return
				}
				write(models.Message{Type: models.MessageVerdict, SessionId: req.SessionId, Verdict: verdict})
			}()

		case models.MessageClose:
			mu.Lock()
			ok := owned[msg.SessionId]
			delete(owned, msg.SessionId)
			mu.Unlock()
			if ok {
				_ = state.sessionStorage.RemoveSession(msg.SessionId)
				slog.Debug("Session abandoned", "session_id", msg.SessionId)
			}

		default:
			fail(msg.SessionId, string(mrtderr.ConnectionRejected), fmt.Sprintf("unexpected frame %q", msg.Type))
		}
	}
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	return fmt.Sprintf("%x", sessionId)
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
