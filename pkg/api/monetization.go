package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/NicolasHaas/gomingle/pkg/datastore"
	"github.com/NicolasHaas/gomingle/pkg/model"
)

// Plan is a purchasable subscription.
type Plan struct {
	ID       string     `json:"id"`
	PriceINR int64      `json:"price_inr"`
	Tier     model.Tier `json:"-"`
}

// CoinPack is a purchasable coin bundle.
type CoinPack struct {
	ID       string `json:"id"`
	PriceINR int64  `json:"price_inr"`
	Coins    int64  `json:"coins"`
}

// Catalog prices. Purchases are recorded as completed immediately; a payment
// gateway callback would flip pending transactions instead.
var (
	plans = map[string]Plan{
		"starter": {ID: "starter", PriceINR: 99, Tier: model.TierStarter},
		"global":  {ID: "global", PriceINR: 199, Tier: model.TierGlobal},
		"elite":   {ID: "elite", PriceINR: 399, Tier: model.TierElite},
	}
	coinPacks = map[string]CoinPack{
		"coins_100":  {ID: "coins_100", PriceINR: 49, Coins: 100},
		"coins_500":  {ID: "coins_500", PriceINR: 199, Coins: 500},
		"coins_1500": {ID: "coins_1500", PriceINR: 499, Coins: 1500},
	}
	featureCosts = map[string]int64{
		"boost":      20,
		"friend_add": 10,
		"gift":       50,
	}
)

func (h *Handler) handlePlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plans":         plans,
		"coin_packs":    coinPacks,
		"feature_costs": featureCosts,
		"currency":      "INR",
	})
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	account := h.authAccount(w, r)
	if account == nil {
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	plan, ok := plans[req.Plan]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown plan: "+req.Plan)
		return
	}

	// Receipt and entitlement commit together: a completed transaction
	// without the tier flip (or the reverse) must never be observable.
	tx, err := h.store.Tx(r.Context())
	if err != nil {
		slog.Error("begin tx failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txn := &model.Transaction{
		AccountID: account.ID,
		Type:      model.TxSubscription,
		Amount:    plan.PriceINR,
		Status:    model.TxStatusCompleted,
		Details:   fmt.Sprintf(`{"plan":%q}`, plan.ID),
	}
	if err := tx.CreateTransaction(txn); err != nil {
		slog.Error("subscription transaction failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := tx.UpdateAccountTier(account.ID, plan.Tier, true); err != nil {
		slog.Error("tier update failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("commit failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	account.Tier = plan.Tier
	account.IsPremium = true
	slog.Info("subscription activated", "user", account.Username, "plan", plan.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"account":     account,
		"transaction": txn,
	})
}

func (h *Handler) handleBuyCoins(w http.ResponseWriter, r *http.Request) {
	account := h.authAccount(w, r)
	if account == nil {
		return
	}

	var req struct {
		Pack string `json:"pack"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pack, ok := coinPacks[req.Pack]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown coin pack: "+req.Pack)
		return
	}

	// Same atomicity as subscribe: receipt and coin credit in one tx.
	tx, err := h.store.Tx(r.Context())
	if err != nil {
		slog.Error("begin tx failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	txn := &model.Transaction{
		AccountID: account.ID,
		Type:      model.TxCoinPurchase,
		Amount:    pack.PriceINR,
		Status:    model.TxStatusCompleted,
		Details:   fmt.Sprintf(`{"pack":%q,"coins":%d}`, pack.ID, pack.Coins),
	}
	if err := tx.CreateTransaction(txn); err != nil {
		slog.Error("coin purchase transaction failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := tx.AddAccountCoins(account.ID, pack.Coins); err != nil {
		slog.Error("coin credit failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("commit failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	account.Coins += pack.Coins
	slog.Info("coins purchased", "user", account.Username, "pack", pack.ID, "coins", pack.Coins)
	writeJSON(w, http.StatusOK, map[string]any{
		"coins":       account.Coins,
		"transaction": txn,
	})
}

func (h *Handler) handleUseFeature(w http.ResponseWriter, r *http.Request) {
	account := h.authAccount(w, r)
	if account == nil {
		return
	}

	var req struct {
		Feature string `json:"feature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cost, ok := featureCosts[req.Feature]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown feature: "+req.Feature)
		return
	}

	// Spend and record in one transaction so a crash between the two never
	// charges without a receipt.
	tx, err := h.store.Tx(r.Context())
	if err != nil {
		slog.Error("begin tx failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	remaining, err := tx.SpendCoins(account.ID, cost)
	if errors.Is(err, datastore.ErrInsufficientCoins) {
		writeError(w, http.StatusPaymentRequired, "insufficient coins")
		return
	}
	if err != nil {
		slog.Error("coin spend failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	txn := &model.Transaction{
		AccountID: account.ID,
		Type:      model.TxFeatureUsage,
		Status:    model.TxStatusCompleted,
		Details:   fmt.Sprintf(`{"feature":%q,"coins":%d}`, req.Feature, cost),
	}
	if err := tx.CreateTransaction(txn); err != nil {
		slog.Error("feature transaction failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("commit failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("feature used", "user", account.Username, "feature", req.Feature, "cost", cost)
	writeJSON(w, http.StatusOK, map[string]any{
		"coins":       remaining,
		"transaction": txn,
	})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	account := h.authAccount(w, r)
	if account == nil {
		return
	}

	txns, err := h.store.NonTx().ListTransactions(account.ID)
	if err != nil {
		slog.Error("transaction list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}
