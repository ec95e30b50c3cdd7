package dummy

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrWalletNotFound is returned for an unknown wallet id.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Wallet is a stored wallet.
type Wallet struct {
	WalletID  string          `json:"walletId"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store is an in-memory wallet store safe for concurrent use.
type Store struct {
	mu             sync.Mutex
	wallets        map[string]*Wallet
	initialBalance decimal.Decimal
}

// NewStore creates a store. Wallets are created on first use with the
// given opening balance.
func NewStore(initialBalance decimal.Decimal) *Store {
	return &Store{
		wallets:        make(map[string]*Wallet),
		initialBalance: initialBalance,
	}
}

// Balance returns a copy of the wallet.
func (s *Store) Balance(walletID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

// Create opens the wallet with the initial balance if it does not exist.
func (s *Store) Create(walletID string) Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreate(walletID)
}

// Deposit adds amount to the wallet, creating it if needed.
func (s *Store) Deposit(walletID string, amount decimal.Decimal) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.getOrCreate(walletID)
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()
	return *w, nil
}

// Withdraw subtracts amount from the wallet, creating it if needed. The
// balance never goes negative.
func (s *Store) Withdraw(walletID string, amount decimal.Decimal) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.getOrCreate(walletID)
	if w.Balance.LessThan(amount) {
		return *w, ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now()
	return *w, nil
}

func (s *Store) getOrCreate(walletID string) *Wallet {
	w, ok := s.wallets[walletID]
	if !ok {
		now := time.Now()
		w = &Wallet{WalletID: walletID, Balance: s.initialBalance, CreatedAt: now, UpdatedAt: now}
		s.wallets[walletID] = w
	}
	return w
}
