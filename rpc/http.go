package rpc

import (
	"bytes"
	"crypto/subtle"
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

	"otcdesk/core"
	"otcdesk/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	node   *core.Node
	logger *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer builds a JSON-RPC server over the desk node. Administrative
// methods require the bearer token from OTC_RPC_TOKEN when one is set.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:         node,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    strings.TrimSpace(os.Getenv("OTC_RPC_TOKEN")),
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler exposes the dispatch entry point for tests and embedding.
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

// statusRecorder captures the HTTP status written for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(rw http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}

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

	defer func() {
		observability.RPCMetrics().Observe(req.Method, w.status, time.Since(started))
	}()

	if mutatesState(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		source := clientSource(r)
		if !s.allowSource(source, time.Now()) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "request rate limit exceeded", source)
			return
		}
	}

	switch req.Method {
	case "otc_initDesk":
		s.handleInitDesk(w, req)
	case "otc_getDesk":
		s.handleGetDesk(w, req)
	case "otc_transferOwner":
		s.handleTransferOwner(w, req)
	case "otc_setAgent":
		s.handleSetAgent(w, req)
	case "otc_setApprover":
		s.handleSetApprover(w, req)
	case "otc_setLimits":
		s.handleSetLimits(w, req)
	case "otc_setPrices":
		s.handleSetPrices(w, req)
	case "otc_setRestrictFulfill":
		s.handleSetRestrictFulfill(w, req)
	case "otc_setPaused":
		s.handleSetPaused(w, req)
	case "otc_setP2PCommission":
		s.handleSetP2PCommission(w, req)
	case "otc_setEmergencyRefund":
		s.handleSetEmergencyRefund(w, req)
	case "otc_registerToken":
		s.handleRegisterToken(w, req)
	case "otc_setTokenActive":
		s.handleSetTokenActive(w, req)
	case "otc_setTokenPrice":
		s.handleSetTokenPrice(w, req)
	case "otc_getToken":
		s.handleGetToken(w, req)
	case "otc_createConsignment":
		s.handleCreateConsignment(w, req)
	case "otc_pauseConsignment":
		s.handlePauseConsignment(w, req)
	case "otc_resumeConsignment":
		s.handleResumeConsignment(w, req)
	case "otc_withdrawConsignment":
		s.handleWithdrawConsignment(w, req)
	case "otc_depositTokens":
		s.handleDepositTokens(w, req)
	case "otc_withdrawTokens":
		s.handleWithdrawTokens(w, req)
	case "otc_getConsignment":
		s.handleGetConsignment(w, req)
	case "otc_createOffer":
		s.handleCreateOffer(w, req)
	case "otc_createOfferFromConsignment":
		s.handleCreateOfferFromConsignment(w, req)
	case "otc_approveOffer":
		s.handleApproveOffer(w, req)
	case "otc_cancelOffer":
		s.handleCancelOffer(w, req)
	case "otc_getOffer":
		s.handleGetOffer(w, req)
	case "otc_fulfillOfferStable":
		s.handleFulfillOfferStable(w, req)
	case "otc_fulfillOfferNative":
		s.handleFulfillOfferNative(w, req)
	case "otc_claimOffer":
		s.handleClaimOffer(w, req)
	case "otc_emergencyRefund":
		s.handleEmergencyRefund(w, req)
	case "otc_withdrawStable":
		s.handleWithdrawStable(w, req)
	case "otc_withdrawNative":
		s.handleWithdrawNative(w, req)
	case "otc_getBalance":
		s.handleGetBalance(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// mutatesState reports whether the method writes to the ledger. Reads stay
// unauthenticated and unthrottled.
func mutatesState(method string) bool {
	switch method {
	case "otc_getDesk", "otc_getToken", "otc_getConsignment", "otc_getOffer", "otc_getBalance":
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
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
	if limiter.count >= maxTxPerWindow {
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
