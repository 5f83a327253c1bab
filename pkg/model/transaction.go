package model

import (
	"errors"
	"time"
)

// Transaction types.
const (
	TxSubscription = "subscription"
	TxCoinPurchase = "coin_purchase"
	TxFeatureUsage = "feature_usage"
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

var ErrInvalidTxType = errors.New("invalid transaction type")
var ErrInvalidTxStatus = errors.New("invalid transaction status")

// Transaction records a monetization event against an account.
type Transaction struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"` // price in the currency's base unit; 0 for coin spends
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Details   string    `json:"details"` // free-form JSON (plan id, coin amount, feature name)
	CreatedAt time.Time `json:"created_at"`
}

func (t *Transaction) Validate() error {
	switch t.Type {
	case TxSubscription, TxCoinPurchase, TxFeatureUsage:
	default:
		return ErrInvalidTxType
	}
	switch t.Status {
	case TxStatusPending, TxStatusCompleted, TxStatusFailed:
	default:
		return ErrInvalidTxStatus
	}
	return nil
}
