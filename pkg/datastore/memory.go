package datastore

import (
	"context"
	"sync"
	"time"

	"github.com/NicolasHaas/gomingle/pkg/model"
)

// Memory is an in-memory DataProviderFactory for tests. Writes inside a
// transaction apply immediately and Rollback is a no-op; tests that need real
// transaction semantics use the SQLite store on a temp file instead.
type Memory struct {
	mu              sync.Mutex
	accounts        map[int64]*model.Account
	transactions    map[int64]*model.Transaction
	nextAccount     int64
	nextTransaction int64
}

var _ DataProviderFactory = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[int64]*model.Account),
		transactions: make(map[int64]*model.Transaction),
	}
}

func (m *Memory) NonTx() DataStore {
	return &memoryProvider{m: m}
}

func (m *Memory) Tx(context.Context) (DataStoreTx, error) {
	return &memoryProvider{m: m}, nil
}

type memoryProvider struct {
	m *Memory
}

func (p *memoryProvider) ZeroTime() time.Time { return time.Time{} }
func (p *memoryProvider) Close() error        { return nil }
func (p *memoryProvider) Rollback() error     { return nil }
func (p *memoryProvider) Commit() error       { return nil }

func copyAccount(a *model.Account) *model.Account {
	cp := *a
	cp.Interests = append([]string(nil), a.Interests...)
	return &cp
}

func (p *memoryProvider) CreateAccount(account *model.Account) error {
	if err := model.ValidateUsername(account.Username); err != nil {
		return err
	}
	if err := model.ValidateEmail(account.Email); err != nil {
		return err
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.nextAccount++
	account.ID = p.m.nextAccount
	account.CreatedAt = time.Now().UTC()
	p.m.accounts[account.ID] = copyAccount(account)
	return nil
}

func (p *memoryProvider) GetAccountByUsername(username string) (*model.Account, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, a := range p.m.accounts {
		if a.Username == username {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (p *memoryProvider) GetAccountByEmail(email string) (*model.Account, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, a := range p.m.accounts {
		if a.Email == email {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (p *memoryProvider) GetAccountByID(id int64) (*model.Account, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if a, ok := p.m.accounts[id]; ok {
		return copyAccount(a), nil
	}
	return nil, nil
}

func (p *memoryProvider) ListAccounts() ([]model.Account, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := make([]model.Account, 0, len(p.m.accounts))
	for id := int64(1); id <= p.m.nextAccount; id++ {
		if a, ok := p.m.accounts[id]; ok {
			out = append(out, *copyAccount(a))
		}
	}
	return out, nil
}

func (p *memoryProvider) UpdateAccountTier(accountID int64, tier model.Tier, premium bool) error {
	if !tier.Valid() {
		return model.ErrInvalidTier
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if a, ok := p.m.accounts[accountID]; ok {
		a.Tier = tier
		a.IsPremium = premium
	}
	return nil
}

func (p *memoryProvider) UpdateAccountPassword(accountID int64, passwordHash string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if a, ok := p.m.accounts[accountID]; ok {
		a.PasswordHash = passwordHash
	}
	return nil
}

func (p *memoryProvider) AddAccountCoins(accountID int64, amount int64) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if a, ok := p.m.accounts[accountID]; ok {
		a.Coins += amount
	}
	return nil
}

func (p *memoryProvider) SpendCoins(accountID int64, amount int64) (int64, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	a, ok := p.m.accounts[accountID]
	if !ok || a.Coins < amount {
		return 0, ErrInsufficientCoins
	}
	a.Coins -= amount
	return a.Coins, nil
}

func (p *memoryProvider) CreateTransaction(txn *model.Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	if txn.Currency == "" {
		txn.Currency = "INR"
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.nextTransaction++
	txn.ID = p.m.nextTransaction
	txn.CreatedAt = time.Now().UTC()
	cp := *txn
	p.m.transactions[txn.ID] = &cp
	return nil
}

func (p *memoryProvider) UpdateTransactionStatus(transactionID int64, status string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if txn, ok := p.m.transactions[transactionID]; ok {
		txn.Status = status
	}
	return nil
}

func (p *memoryProvider) ListTransactions(accountID int64) ([]model.Transaction, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var out []model.Transaction
	for id := p.m.nextTransaction; id >= 1; id-- {
		if txn, ok := p.m.transactions[id]; ok && txn.AccountID == accountID {
			out = append(out, *txn)
		}
	}
	return out, nil
}
