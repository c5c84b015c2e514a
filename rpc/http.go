package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"meritchain/core"
	"meritchain/crypto"
	"meritchain/observability"
)

const (
	jsonRPCVersion        = "2.0"
	maxRequestBytes       = 1 << 20 // 1 MiB
	rateLimitWindow       = time.Minute
	maxMutationsPerWindow = 60
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the ledger over a single-endpoint JSON-RPC 2.0 API.
type Server struct {
	node   *core.Node
	logger *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer creates an RPC server for the node. Mutating methods require the
// bearer token from MERIT_RPC_TOKEN; when unset they are rejected outright.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	token := strings.TrimSpace(os.Getenv("MERIT_RPC_TOKEN"))
	return &Server{
		node:         node,
		logger:       logger.With("component", "rpc"),
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
	}
}

// SetAuthToken overrides the bearer token, primarily for tests.
func (s *Server) SetAuthToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authToken = strings.TrimSpace(token)
}

// Start serves the RPC endpoint on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler exposes the RPC entry point for tests and embedding.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r, req)
	observability.RPCMetrics().Observe(req.Method, recorder.status < http.StatusBadRequest, time.Since(started))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "fund_deposit":
		s.mutating(w, r, req, s.handleFundDeposit)
	case "fund_verifyStudent":
		s.mutating(w, r, req, s.handleFundVerifyStudent)
	case "fund_batchVerifyStudents":
		s.mutating(w, r, req, s.handleFundBatchVerifyStudents)
	case "fund_setMeritScore":
		s.mutating(w, r, req, s.handleFundSetMeritScore)
	case "fund_distribute":
		s.mutating(w, r, req, s.handleFundDistribute)
	case "fund_storeEnrollmentProof":
		s.mutating(w, r, req, s.handleFundStoreEnrollmentProof)
	case "fund_transferAdmin":
		s.mutating(w, r, req, s.handleFundTransferAdmin)
	case "fund_getStudent":
		s.handleFundGetStudent(w, r, req)
	case "fund_totalFunds":
		s.handleFundTotalFunds(w, r, req)
	case "fund_listEvents":
		s.handleFundListEvents(w, r, req)
	case "credential_mint":
		s.mutating(w, r, req, s.handleCredentialMint)
	case "credential_get":
		s.handleCredentialGet(w, r, req)
	case "credential_updateStatus":
		s.mutating(w, r, req, s.handleCredentialUpdateStatus)
	case "credential_hasActiveEnrollment":
		s.handleCredentialHasActiveEnrollment(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// mutating enforces bearer auth and per-source rate limiting before invoking
// the handler.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	source := clientSource(r)
	if !s.allowSource(source, time.Now()) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", source)
		return
	}
	fn(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	s.mu.Lock()
	token := s.authToken
	s.mu.Unlock()
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if presented == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxMutationsPerWindow {
		return false
	}
	limiter.count++
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- shared parameter helpers ---

func parseBech32Address(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, errors.New("address required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != crypto.MeritPrefix {
		return [20]byte{}, fmt.Errorf("address prefix %q not accepted, want %q", addr.Prefix(), crypto.MeritPrefix)
	}
	return addr.Array(), nil
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.MeritPrefix, append([]byte(nil), addr[:]...)).String()
}

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("hash must be %d bytes, got %d", len(out), len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func formatHash32(hash [32]byte) string {
	return "0x" + hex.EncodeToString(hash[:])
}
