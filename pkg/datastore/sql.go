package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gomingle/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all GoMingle entities.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		email         TEXT    NOT NULL UNIQUE,
		password_hash TEXT    NOT NULL,
		country       TEXT    NOT NULL DEFAULT '',
		interests     TEXT    NOT NULL DEFAULT '',
		is_premium    INTEGER NOT NULL DEFAULT 0,
		tier          INTEGER NOT NULL DEFAULT 0 CHECK(tier >= 0 AND tier <= 3),
		coins         INTEGER NOT NULL DEFAULT 0 CHECK(coins >= 0),
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		type       TEXT    NOT NULL,
		amount     INTEGER NOT NULL DEFAULT 0,
		currency   TEXT    NOT NULL DEFAULT 'INR',
		status     TEXT    NOT NULL DEFAULT 'pending',
		details    TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// Interests are stored comma-joined; commas inside an interest are stripped
// on write.
func joinInterests(interests []string) string {
	cleaned := make([]string, 0, len(interests))
	for _, in := range interests {
		in = strings.TrimSpace(strings.ReplaceAll(in, ",", " "))
		if in != "" {
			cleaned = append(cleaned, in)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitInterests(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}

// ---- Accounts ----

// CreateAccount inserts a new account and fills its assigned ID.
// It validates the username and email before inserting.
func (s *baseProvider) CreateAccount(account *model.Account) error {
	if err := model.ValidateUsername(account.Username); err != nil {
		return fmt.Errorf("datastore: create account: %w", err)
	}
	if err := model.ValidateEmail(account.Email); err != nil {
		return fmt.Errorf("datastore: create account: %w", err)
	}
	if !account.Tier.Valid() {
		return fmt.Errorf("datastore: create account: %w", model.ErrInvalidTier)
	}
	premiumInt := 0
	if account.IsPremium {
		premiumInt = 1
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO accounts (username, email, password_hash, country, interests, is_premium, tier, coins) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		account.Username, account.Email, account.PasswordHash, account.Country,
		joinInterests(account.Interests), premiumInt, int(account.Tier), account.Coins)
	if err != nil {
		return fmt.Errorf("datastore: create account: %w", err)
	}
	account.ID, _ = res.LastInsertId()
	account.CreatedAt = time.Now().UTC()
	return nil
}

const accountColumns = "id, username, email, password_hash, country, interests, is_premium, tier, coins, created_at"

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	a := &model.Account{}
	var interests, createdAt string
	var premiumInt, tierInt int
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Country,
		&interests, &premiumInt, &tierInt, &a.Coins, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Interests = splitInterests(interests)
	a.IsPremium = premiumInt != 0
	a.Tier = model.Tier(tierInt)
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parsed
	return a, nil
}

// GetAccountByUsername retrieves an account by username.
func (s *baseProvider) GetAccountByUsername(username string) (*model.Account, error) {
	row := s.QueryRowContext(context.Background(),
		"SELECT "+accountColumns+" FROM accounts WHERE username = ?", username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail retrieves an account by email.
func (s *baseProvider) GetAccountByEmail(email string) (*model.Account, error) {
	row := s.QueryRowContext(context.Background(),
		"SELECT "+accountColumns+" FROM accounts WHERE email = ?", email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get account: %w", err)
	}
	return a, nil
}

// GetAccountByID retrieves an account by ID.
func (s *baseProvider) GetAccountByID(id int64) (*model.Account, error) {
	row := s.QueryRowContext(context.Background(),
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts.
func (s *baseProvider) ListAccounts() ([]model.Account, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccountTier changes an account's subscription tier and premium flag.
func (s *baseProvider) UpdateAccountTier(accountID int64, tier model.Tier, premium bool) error {
	if !tier.Valid() {
		return fmt.Errorf("datastore: update tier: %w", model.ErrInvalidTier)
	}
	premiumInt := 0
	if premium {
		premiumInt = 1
	}
	_, err := s.ExecContext(context.Background(),
		"UPDATE accounts SET tier = ?, is_premium = ? WHERE id = ?",
		int(tier), premiumInt, accountID)
	if err != nil {
		return fmt.Errorf("datastore: update tier: %w", err)
	}
	return nil
}

// UpdateAccountPassword replaces an account's password hash.
func (s *baseProvider) UpdateAccountPassword(accountID int64, passwordHash string) error {
	_, err := s.ExecContext(context.Background(),
		"UPDATE accounts SET password_hash = ? WHERE id = ?", passwordHash, accountID)
	if err != nil {
		return fmt.Errorf("datastore: update password: %w", err)
	}
	return nil
}

// AddAccountCoins credits coins to an account.
func (s *baseProvider) AddAccountCoins(accountID int64, amount int64) error {
	_, err := s.ExecContext(context.Background(),
		"UPDATE accounts SET coins = coins + ? WHERE id = ?", amount, accountID)
	if err != nil {
		return fmt.Errorf("datastore: add coins: %w", err)
	}
	return nil
}

// SpendCoins atomically checks and decrements a coin balance within the
// enclosing transaction. The guarded UPDATE means a concurrent spend can
// never drive the balance negative.
func (s *txProvider) SpendCoins(accountID int64, amount int64) (int64, error) {
	ctx := context.Background()

	res, err := s.ExecContext(ctx,
		"UPDATE accounts SET coins = coins - ? WHERE id = ? AND coins >= ?",
		amount, accountID, amount)
	if err != nil {
		return 0, fmt.Errorf("datastore: spend coins: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("datastore: spend coins: %w", err)
	}
	if affected == 0 {
		return 0, ErrInsufficientCoins
	}

	var remaining int64
	if err := s.QueryRowContext(ctx, "SELECT coins FROM accounts WHERE id = ?", accountID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("datastore: spend coins: %w", err)
	}
	return remaining, nil
}

// ---- Transactions ----

// CreateTransaction records a monetization event and fills its assigned ID.
func (s *baseProvider) CreateTransaction(txn *model.Transaction) error {
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("datastore: transaction failed validation: %w", err)
	}
	if txn.Currency == "" {
		txn.Currency = "INR"
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO transactions (account_id, type, amount, currency, status, details) VALUES (?, ?, ?, ?, ?, ?)",
		txn.AccountID, txn.Type, txn.Amount, txn.Currency, txn.Status, txn.Details)
	if err != nil {
		return fmt.Errorf("datastore: create transaction: %w", err)
	}
	txn.ID, _ = res.LastInsertId()
	txn.CreatedAt = time.Now().UTC()
	return nil
}

// UpdateTransactionStatus moves a transaction to a new status.
func (s *baseProvider) UpdateTransactionStatus(transactionID int64, status string) error {
	switch status {
	case model.TxStatusPending, model.TxStatusCompleted, model.TxStatusFailed:
	default:
		return fmt.Errorf("datastore: update transaction: %w", model.ErrInvalidTxStatus)
	}
	_, err := s.ExecContext(context.Background(),
		"UPDATE transactions SET status = ? WHERE id = ?", status, transactionID)
	if err != nil {
		return fmt.Errorf("datastore: update transaction: %w", err)
	}
	return nil
}

// ListTransactions returns an account's transactions, newest first.
func (s *baseProvider) ListTransactions(accountID int64) ([]model.Transaction, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, account_id, type, amount, currency, status, details, created_at FROM transactions WHERE account_id = ? ORDER BY id DESC",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("datastore: list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var createdAt string
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount,
			&txn.Currency, &txn.Status, &txn.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan transaction: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan transaction: %w", err)
		}
		txn.CreatedAt = parsed
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
