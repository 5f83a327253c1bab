package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/NicolasHaas/gomingle/pkg/crypto"
	"github.com/NicolasHaas/gomingle/pkg/datastore"
	"github.com/NicolasHaas/gomingle/pkg/model"
)

func newTestHandler(t *testing.T) (*Handler, *datastore.Memory) {
	t.Helper()
	store := datastore.NewMemory()
	return NewHandler(store, NewTokenIssuer("test-secret")), store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func registerUser(t *testing.T, h *Handler, username string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", registerRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "hunter22",
		Country:  "DE",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[authResponse](t, rec)
	if resp.Token == "" {
		t.Fatalf("register: empty token")
	}
	return resp.Token
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := map[string]registerRequest{
		"bad_username": {Username: "john doe", Email: "a@b.com", Password: "hunter22"},
		"bad_email":    {Username: "johndoe", Email: "nope", Password: "hunter22"},
		"short_pass":   {Username: "johndoe", Email: "a@b.com", Password: "abc"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: want 400 got %d", rec.Code)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "johndoe")

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", registerRequest{
		Username: "johndoe", Email: "other@example.com", Password: "hunter22",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate username: want 409 got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "", registerRequest{
		Username: "janedoe", Email: "johndoe@example.com", Password: "hunter22",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate email: want 409 got %d", rec.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "johndoe")

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email: "johndoe@example.com", Password: "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[authResponse](t, rec)

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	me := decode[model.Account](t, rec)
	if me.Username != "johndoe" || me.Country != "DE" {
		t.Fatalf("me: got %+v", me)
	}

	// Login by username works too.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{
		Username: "johndoe", Password: "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login by username: status %d", rec.Code)
	}
}

func TestLoginRejections(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "johndoe")

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email: "johndoe@example.com", Password: "wrong-pass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: want 401 got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email: "nobody@example.com", Password: "hunter22",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown account: want 401 got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401 got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401 got %d", rec.Code)
	}
}

func TestPlansCatalog(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/monetization/plans", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("plans: status %d", rec.Code)
	}
	catalog := decode[map[string]json.RawMessage](t, rec)
	for _, key := range []string{"plans", "coin_packs", "feature_costs", "currency"} {
		if _, ok := catalog[key]; !ok {
			t.Fatalf("plans: missing %q", key)
		}
	}
}

func TestSubscribe(t *testing.T) {
	h, store := newTestHandler(t)
	token := registerUser(t, h, "johndoe")

	rec := doJSON(t, h, http.MethodPost, "/api/monetization/subscribe", token,
		map[string]string{"plan": "global"})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: status %d body %s", rec.Code, rec.Body.String())
	}

	account, err := store.NonTx().GetAccountByUsername("johndoe")
	if err != nil {
		t.Fatalf("GetAccountByUsername: %v", err)
	}
	if account.Tier != model.TierGlobal || !account.IsPremium {
		t.Fatalf("subscribe: account not upgraded: %+v", account)
	}

	txns, err := store.NonTx().ListTransactions(account.ID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 1 || txns[0].Type != model.TxSubscription || txns[0].Amount != 199 {
		t.Fatalf("subscribe: transaction record wrong: %+v", txns)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/monetization/subscribe", token,
		map[string]string{"plan": "platinum"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown plan: want 400 got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/monetization/subscribe", "",
		map[string]string{"plan": "global"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated subscribe: want 401 got %d", rec.Code)
	}
}

func TestBuyCoinsAndUseFeature(t *testing.T) {
	h, store := newTestHandler(t)
	token := registerUser(t, h, "johndoe")

	rec := doJSON(t, h, http.MethodPost, "/api/monetization/buy-coins", token,
		map[string]string{"pack": "coins_100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("buy-coins: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/monetization/use-feature", token,
		map[string]string{"feature": "gift"})
	if rec.Code != http.StatusOK {
		t.Fatalf("use-feature: status %d body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Coins int64 `json:"coins"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Coins != 50 {
		t.Fatalf("use-feature: remaining want 50 got %d", result.Coins)
	}

	// gift costs 50: one more succeeds, the third fails.
	rec = doJSON(t, h, http.MethodPost, "/api/monetization/use-feature", token,
		map[string]string{"feature": "gift"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second use-feature: status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/monetization/use-feature", token,
		map[string]string{"feature": "gift"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("overspend: want 402 got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/monetization/use-feature", token,
		map[string]string{"feature": "teleport"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown feature: want 400 got %d", rec.Code)
	}

	account, err := store.NonTx().GetAccountByUsername("johndoe")
	if err != nil {
		t.Fatalf("GetAccountByUsername: %v", err)
	}
	if account.Coins != 0 {
		t.Fatalf("coins after spends: want 0 got %d", account.Coins)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/monetization/transactions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions: status %d", rec.Code)
	}
	var list struct {
		Transactions []model.Transaction `json:"transactions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// purchase + two feature usages
	if len(list.Transactions) != 3 {
		t.Fatalf("transactions: want 3 got %d", len(list.Transactions))
	}
}

func TestResetPassword(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "johndoe")

	rec := doJSON(t, h, http.MethodPost, "/api/forgot-password", "",
		map[string]string{"email": "johndoe@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot-password: status %d", rec.Code)
	}
	// Unknown address gets the identical response.
	rec = doJSON(t, h, http.MethodPost, "/api/forgot-password", "",
		map[string]string{"email": "nobody@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot-password unknown: status %d", rec.Code)
	}

	// The raw token normally travels out of band; seed one directly.
	rawToken, err := crypto.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	h.resetMu.Lock()
	h.resets[crypto.HashToken(rawToken)] = resetEntry{accountID: 1, expires: time.Now().Add(time.Minute)}
	h.resetMu.Unlock()

	rec = doJSON(t, h, http.MethodPost, "/api/auth/reset-password", "",
		map[string]string{"token": rawToken, "password": "newpass99"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-password: status %d body %s", rec.Code, rec.Body.String())
	}

	// Old password rejected, new one accepted.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email: "johndoe@example.com", Password: "hunter22",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password: want 401 got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email: "johndoe@example.com", Password: "newpass99",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("new password: status %d", rec.Code)
	}

	// Reset tokens are single use.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/reset-password", "",
		map[string]string{"token": rawToken, "password": "another99"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token reuse: want 401 got %d", rec.Code)
	}
}

func TestIdentityResolveToken(t *testing.T) {
	store := datastore.NewMemory()
	issuer := NewTokenIssuer("test-secret")
	identity := NewIdentity(issuer, store)

	acc := &model.Account{
		Username:     "johndoe",
		Email:        "johndoe@example.com",
		PasswordHash: "x$y",
		Country:      "DE",
		Tier:         model.TierElite,
		IsPremium:    true,
	}
	if err := store.NonTx().CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	token, err := issuer.Issue(acc.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := identity.ResolveToken(t.Context(), token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if got.Username != "johndoe" || got.Tier != model.TierElite {
		t.Fatalf("ResolveToken: got %+v", got)
	}

	if _, err := identity.ResolveToken(t.Context(), "garbage"); err == nil {
		t.Fatalf("ResolveToken: expected error for bad token")
	}

	// Token signed with a different secret is rejected.
	otherToken, err := NewTokenIssuer("other-secret").Issue(acc.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := identity.ResolveToken(t.Context(), otherToken); err == nil {
		t.Fatalf("ResolveToken: expected error for wrong secret")
	}
}

// Purchases against the real SQLite store: receipt and entitlement commit in
// one SQL transaction, so both are present after the request or neither is.
func TestPurchasesCommitAtomically(t *testing.T) {
	store, err := datastore.NewProviderFactory(filepath.Join(t.TempDir(), "gomingle.db"))
	if err != nil {
		t.Fatalf("open datastore: %v", err)
	}
	t.Cleanup(func() { _ = store.NonTx().Close() })
	h := NewHandler(store, NewTokenIssuer("test-secret"))

	token := registerUser(t, h, "buyer")

	rec := doJSON(t, h, http.MethodPost, "/api/monetization/subscribe", token,
		map[string]string{"plan": "global"})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/monetization/buy-coins", token,
		map[string]string{"pack": "coins_100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("buy-coins: status %d body %s", rec.Code, rec.Body.String())
	}

	acc, err := store.NonTx().GetAccountByUsername("buyer")
	if err != nil || acc == nil {
		t.Fatalf("GetAccountByUsername: %v %v", acc, err)
	}
	if acc.Tier != model.TierGlobal || !acc.IsPremium {
		t.Fatalf("entitlement not applied: tier %v premium %v", acc.Tier, acc.IsPremium)
	}
	if acc.Coins != 100 {
		t.Fatalf("coins: want 100 got %d", acc.Coins)
	}

	txns, err := store.NonTx().ListTransactions(acc.ID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("transactions: want 2 got %d", len(txns))
	}
	for _, txn := range txns {
		if txn.Status != model.TxStatusCompleted {
			t.Fatalf("transaction %d not completed: %s", txn.ID, txn.Status)
		}
	}
}
