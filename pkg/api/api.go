package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/gomingle/pkg/crypto"
	"github.com/NicolasHaas/gomingle/pkg/datastore"
	"github.com/NicolasHaas/gomingle/pkg/model"
)

const minPasswordLength = 6

// Handler serves the account and monetization API.
type Handler struct {
	store  datastore.DataProviderFactory
	issuer *TokenIssuer
	mux    *http.ServeMux

	// Pending password resets, keyed by token hash. In-memory on purpose:
	// a reset not redeemed before a restart is simply requested again.
	resetMu sync.Mutex
	resets  map[string]resetEntry
}

type resetEntry struct {
	accountID int64
	expires   time.Time
}

// NewHandler wires all API routes.
func NewHandler(store datastore.DataProviderFactory, issuer *TokenIssuer) *Handler {
	h := &Handler{
		store:  store,
		issuer: issuer,
		resets: make(map[string]resetEntry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
	mux.HandleFunc("POST /api/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", h.handleResetPassword)

	mux.HandleFunc("GET /api/monetization/plans", h.handlePlans)
	mux.HandleFunc("POST /api/monetization/subscribe", h.handleSubscribe)
	mux.HandleFunc("POST /api/monetization/buy-coins", h.handleBuyCoins)
	mux.HandleFunc("POST /api/monetization/use-feature", h.handleUseFeature)
	mux.HandleFunc("GET /api/monetization/transactions", h.handleTransactions)

	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// authAccount resolves the Authorization header to an account. Writes the
// error response itself and returns nil when the request is unauthenticated.
func (h *Handler) authAccount(w http.ResponseWriter, r *http.Request) *model.Account {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}
	accountID, err := h.issuer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil
	}
	account, err := h.store.NonTx().GetAccountByID(accountID)
	if err != nil {
		slog.Error("account lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if account == nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil
	}
	return account
}

type registerRequest struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Country   string   `json:"country"`
	Interests []string `json:"interests"`
}

type authResponse struct {
	Token   string         `json:"token"`
	Account *model.Account `json:"account"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := model.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := model.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	st := h.store.NonTx()
	if existing, err := st.GetAccountByUsername(req.Username); err != nil {
		slog.Error("register lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if existing, err := st.GetAccountByEmail(req.Email); err != nil {
		slog.Error("register lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		slog.Error("password hash failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	account := &model.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Country:      strings.TrimSpace(req.Country),
		Interests:    req.Interests,
	}
	if err := st.CreateAccount(account); err != nil {
		slog.Error("create account failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := h.issuer.Issue(account.ID)
	if err != nil {
		slog.Error("token issue failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("account registered", "user", account.Username, "id", account.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, Account: account})
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st := h.store.NonTx()
	var account *model.Account
	var err error
	switch {
	case req.Email != "":
		account, err = st.GetAccountByEmail(req.Email)
	case req.Username != "":
		account, err = st.GetAccountByUsername(req.Username)
	default:
		writeError(w, http.StatusBadRequest, "username or email required")
		return
	}
	if err != nil {
		slog.Error("login lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Same response for unknown account and wrong password.
	if account == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	ok, err := crypto.VerifyPassword(req.Password, account.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.issuer.Issue(account.ID)
	if err != nil {
		slog.Error("token issue failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("account login", "user", account.Username)
	writeJSON(w, http.StatusOK, authResponse{Token: token, Account: account})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	account := h.authAccount(w, r)
	if account == nil {
		return
	}
	writeJSON(w, http.StatusOK, account)
}

const resetTokenTTL = 15 * time.Minute

// handleForgotPassword acknowledges every request the same way so account
// existence is not leaked. Mail delivery is not wired; the reset token is
// logged for operator handover.
func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if account, err := h.store.NonTx().GetAccountByEmail(req.Email); err == nil && account != nil {
		if token, err := crypto.GenerateToken(); err == nil {
			h.resetMu.Lock()
			h.resets[crypto.HashToken(token)] = resetEntry{
				accountID: account.ID,
				expires:   time.Now().Add(resetTokenTTL),
			}
			h.resetMu.Unlock()
			slog.Info("password reset requested", "user", account.Username, "reset_token", token)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address is registered, reset instructions have been sent",
	})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash := crypto.HashToken(req.Token)
	h.resetMu.Lock()
	entry, ok := h.resets[hash]
	if ok {
		delete(h.resets, hash) // single use
	}
	h.resetMu.Unlock()
	if !ok || time.Now().After(entry.expires) {
		writeError(w, http.StatusUnauthorized, "invalid or expired reset token")
		return
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		slog.Error("password hash failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.NonTx().UpdateAccountPassword(entry.accountID, passwordHash); err != nil {
		slog.Error("password update failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("password reset completed", "account", entry.accountID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
