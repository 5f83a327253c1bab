package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/NicolasHaas/gomingle/pkg/model"
)

// ErrInsufficientCoins is returned when a spend would drive a balance negative.
var ErrInsufficientCoins = errors.New("datastore: insufficient coins")

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	CoinTransactionProvider
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for all GoMingle entities.
// Implementations include the default SQLite store and the in-memory store
// used in tests; other backends can be added behind the same interface.
type DataStore interface {
	ConfigReadProvider

	AccountReadProvider
	AccountWriteProvider

	TransactionReadProvider
	TransactionWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type AccountReadProvider interface {
	GetAccountByUsername(username string) (*model.Account, error)
	GetAccountByEmail(email string) (*model.Account, error)
	GetAccountByID(id int64) (*model.Account, error)
	ListAccounts() ([]model.Account, error)
}

type AccountWriteProvider interface {
	CreateAccount(account *model.Account) error
	UpdateAccountTier(accountID int64, tier model.Tier, premium bool) error
	UpdateAccountPassword(accountID int64, passwordHash string) error
	AddAccountCoins(accountID int64, amount int64) error
}

// CoinTransactionProvider holds operations that must run inside a transaction.
type CoinTransactionProvider interface {
	// SpendCoins atomically checks and decrements a balance. Returns the
	// remaining balance, or ErrInsufficientCoins without touching the row.
	SpendCoins(accountID int64, amount int64) (int64, error)
}

type TransactionReadProvider interface {
	ListTransactions(accountID int64) ([]model.Transaction, error)
}

type TransactionWriteProvider interface {
	CreateTransaction(txn *model.Transaction) error
	UpdateTransactionStatus(transactionID int64, status string) error
}
