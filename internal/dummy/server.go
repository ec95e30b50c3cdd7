// Package dummy is a stub wallet service used as a local load target.
package dummy

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Operation types accepted by POST /api/v1/wallet.
const (
	OperationDeposit  = "DEPOSIT"
	OperationWithdraw = "WITHDRAW"
)

// Config controls the simulated behavior of the target.
type Config struct {
	// Latency is added to every request
	Latency time.Duration

	// Jitter adds a uniform random delay in [0, Jitter)
	Jitter time.Duration

	// ErrorRate is the fraction of requests answered with 500 (0..1)
	ErrorRate float64

	// InitialBalance is the opening balance of new wallets
	InitialBalance decimal.Decimal

	// Wallets are created at startup so balance reads succeed before the
	// first deposit
	Wallets []string

	// Seed makes latency jitter and injected errors reproducible (0 = random)
	Seed uint64
}

// OperationRequest is the body of POST /api/v1/wallet.
type OperationRequest struct {
	WalletID      string          `json:"walletId"`
	OperationType string          `json:"operationType"`
	Amount        decimal.Decimal `json:"amount"`
}

// BalanceResponse is the body of GET /api/v1/wallets/{walletId}.
type BalanceResponse struct {
	WalletID string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the wallet API.
type Server struct {
	config Config
	store  *Store
	log    *logrus.Entry

	mu  sync.Mutex
	rng *rand.Rand
}

// NewServer creates a server with an empty store.
func NewServer(config Config, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	store := NewStore(config.InitialBalance)
	for _, id := range config.Wallets {
		store.Create(id)
	}
	return &Server{
		config: config,
		store:  store,
		log:    log,
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Store returns the wallet store.
func (s *Server) Store() *Store {
	return s.store
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests, s.simulate)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/wallet", s.operate).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{walletId}", s.balance).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return router
}

func (s *Server) operate(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := uuid.Parse(req.WalletID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount cannot be negative")
		return
	}

	var (
		wallet Wallet
		err    error
	)
	switch req.OperationType {
	case OperationDeposit:
		wallet, err = s.store.Deposit(req.WalletID, req.Amount)
	case OperationWithdraw:
		wallet, err = s.store.Withdraw(req.WalletID, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "invalid operation type")
		return
	}
	if errors.Is(err, ErrInsufficientFunds) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.WithError(err).Error("Wallet operation failed")
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{WalletID: wallet.WalletID, Balance: wallet.Balance})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["walletId"]
	if _, err := uuid.Parse(walletID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	wallet, err := s.store.Balance(walletID)
	if errors.Is(err, ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{WalletID: wallet.WalletID, Balance: wallet.Balance})
}

// simulate delays the request and injects errors.
func (s *Server) simulate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delay, fail := s.draw()
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}
		if fail {
			writeError(w, http.StatusInternalServerError, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) draw() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.config.Latency
	if s.config.Jitter > 0 {
		delay += time.Duration(s.rng.Int64N(int64(s.config.Jitter)))
	}
	fail := s.config.ErrorRate > 0 && s.rng.Float64() < s.config.ErrorRate
	return delay, fail
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("Request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
