// Package server implements the GoMingle matchmaking chat server.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasHaas/gomingle/pkg/datastore"
	"github.com/NicolasHaas/gomingle/pkg/model"
)

// Config holds server configuration.
type Config struct {
	ControlAddr string // TCP/TLS bind address (e.g. ":9600")
	WSAddr      string // HTTP bind address for WebSocket clients (e.g. ":9601")
	MetricsAddr string // HTTP bind address for /metrics endpoint (empty = disabled)
	APIAddr     string // HTTP bind address for the account/monetization API (empty = disabled)

	DBPath   string // SQLite database path
	CertFile string // TLS certificate file path
	KeyFile  string // TLS private key file path
	DataDir  string // directory for generated certs and data

	AllowAnonymous bool // allow chat logins without an account token

	// RequireSameCountryFree restricts free users to partners from their own
	// country (a premium user targeting the free user's country still
	// qualifies). Off by default: free users match globally.
	RequireSameCountryFree bool

	JWTSecret string // HMAC secret for API-issued tokens
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store    datastore.DataProviderFactory
	Accounts AccountResolver
	API      http.Handler // account/monetization HTTP API, served on APIAddr
}

// AccountResolver validates a bearer token from a chat login and returns the
// account it belongs to. Implemented by the HTTP API's token issuer.
type AccountResolver interface {
	ResolveToken(ctx context.Context, token string) (*model.Account, error)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ControlAddr:    ":9600",
		WSAddr:         ":9601",
		MetricsAddr:    ":9602",
		APIAddr:        ":9603",
		DBPath:         "gomingle.db",
		DataDir:        ".",
		AllowAnonymous: true,
	}
}

// loadOrGenerateTLS loads TLS cert/key from disk or generates a self-signed pair.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "server.key")
	}

	// Try loading existing cert
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}

	// Generate self-signed certificate
	slog.Info("generating self-signed TLS certificate")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"GoMingle Server"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}

	// Write cert
	certOut, err := os.Create(certPath) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		_ = certOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode cert: %w", err)
	}
	if err := certOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close cert file: %w", err)
	}

	// Write key
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		_ = keyOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode key: %w", err)
	}
	if err := keyOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close key file: %w", err)
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}

// Server is the main GoMingle server.
type Server struct {
	cfg         Config
	coord       *Coordinator
	peers       *peerSet
	metrics     *Metrics
	store       datastore.DataProviderFactory
	accounts    AccountResolver
	api         http.Handler
	controlConn net.Listener
	wsSrv       *http.Server
	apiSrv      *http.Server
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	peers := newPeerSet()
	policy := MatchPolicy{RequireSameCountryFree: cfg.RequireSameCountryFree}
	return &Server{
		cfg:      cfg,
		coord:    NewCoordinator(policy, peers, metrics),
		peers:    peers,
		metrics:  metrics,
		store:    deps.Store,
		accounts: deps.Accounts,
		api:      deps.API,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Coordinator returns the matchmaking coordinator.
func (s *Server) Coordinator() *Coordinator {
	return s.coord
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
