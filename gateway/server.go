package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	headerRequestID = "X-Request-Id"
	maxRequestBody  = 1 << 20 // 1 MiB

	clientRequestsPerSec = rate.Limit(10)
	clientRequestBurst   = 20
)

// Server is the HTTP front-end for escrow interactions.
type Server struct {
	auth *Authenticator
	node NodeClient

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(auth *Authenticator, node NodeClient) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	return &Server{
		auth:     auth,
		node:     node,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1/escrows", func(sr chi.Router) {
		sr.Use(s.auth.Middleware(ScopeEscrow))
		sr.Use(s.rateLimit)
		sr.Post("/", s.handleCreate)
		sr.Get("/{id}", s.handleGet)
		sr.Post("/{id}/confirm", s.handleConfirm)
		sr.Post("/{id}/cancel", s.handleCancel)
	})

	return r
}

// rateLimit throttles per authenticated subject.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := Subject(r.Context())
		s.mu.Lock()
		limiter, ok := s.limiters[subject]
		if !ok {
			limiter = rate.NewLimiter(clientRequestsPerSec, clientRequestBurst)
			s.limiters[subject] = limiter
		}
		s.mu.Unlock()
		if !limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerRequestID, uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFromRPC translates node JSON-RPC error codes into HTTP statuses.
func statusFromRPC(err error) int {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return http.StatusBadGateway
	}
	switch rpcErr.Code {
	case -32021, -32602:
		return http.StatusBadRequest
	case -32022:
		return http.StatusNotFound
	case -32023, -32001:
		return http.StatusForbidden
	case -32024, -32026:
		return http.StatusConflict
	case -32025:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req EscrowCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	state, err := s.node.EscrowCreate(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFromRPC(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	state, err := s.node.EscrowGet(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFromRPC(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type actionRequest struct {
	Caller string `json:"caller"`
	Side   string `json:"side"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.node.EscrowConfirm)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.node.EscrowCancel)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, id uint64, caller, side string) (*EscrowState, error)) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	state, err := call(r.Context(), id, req.Caller, req.Side)
	if err != nil {
		writeJSON(w, statusFromRPC(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func decodeBody(r *http.Request, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("request body required")
	}
	return json.Unmarshal(body, out)
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	return strconv.ParseUint(raw, 10, 64)
}
