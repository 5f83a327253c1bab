// Package api implements the HTTP account and monetization API.
package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/NicolasHaas/gomingle/pkg/datastore"
	"github.com/NicolasHaas/gomingle/pkg/model"
)

// TokenTTL is how long an issued login token stays valid.
const TokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("api: invalid token")

// TokenIssuer issues and verifies HS256 tokens carrying an account id.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer with the default TTL.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: TokenTTL}
}

// Issue signs a token for an account id.
func (i *TokenIssuer) Issue(accountID int64) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(accountID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return token, nil
}

// Verify checks a token's signature and expiry and returns the account id.
func (i *TokenIssuer) Verify(token string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Identity resolves chat login tokens to persisted accounts. It satisfies the
// chat server's account resolver dependency.
type Identity struct {
	issuer *TokenIssuer
	store  datastore.DataProviderFactory
}

// NewIdentity creates an Identity over the given issuer and store.
func NewIdentity(issuer *TokenIssuer, store datastore.DataProviderFactory) *Identity {
	return &Identity{issuer: issuer, store: store}
}

// ResolveToken verifies a token and loads its account.
func (id *Identity) ResolveToken(_ context.Context, token string) (*model.Account, error) {
	accountID, err := id.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	account, err := id.store.NonTx().GetAccountByID(accountID)
	if err != nil {
		return nil, fmt.Errorf("api: resolve token: %w", err)
	}
	if account == nil {
		return nil, ErrInvalidToken
	}
	return account, nil
}
