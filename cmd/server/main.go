package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/gomingle/pkg/api"
	"github.com/NicolasHaas/gomingle/pkg/crypto"
	"github.com/NicolasHaas/gomingle/pkg/datastore"
	"github.com/NicolasHaas/gomingle/pkg/logging"
	"github.com/NicolasHaas/gomingle/pkg/server"
	"github.com/NicolasHaas/gomingle/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configFile := flag.String("config", "", "YAML config file (flags override its values)")
	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.StringVar(&cfg.ControlAddr, "control", cfg.ControlAddr, "TCP/TLS control plane bind address")
	flag.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "HTTP bind address for WebSocket clients")
	flag.StringVar(&cfg.APIAddr, "api", cfg.APIAddr, "HTTP bind address for the account API (empty to disable)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", ".", "Data directory for generated files")
	flag.BoolVar(&cfg.AllowAnonymous, "allow-anonymous", cfg.AllowAnonymous, "Allow chat logins without an account")
	flag.BoolVar(&cfg.RequireSameCountryFree, "same-country-free", cfg.RequireSameCountryFree, "Restrict free users to same-country matches")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HMAC secret for API tokens (generated if empty)")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	// Precedence: defaults < config file < explicit flags. The flag vars are
	// bound to cfg, so save the flag values before the file overwrites them.
	if *configFile != "" {
		set := make(map[string]string)
		flag.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

		loaded, err := server.LoadConfigFromYAML(*configFile, server.DefaultConfig())
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
		for name, value := range set {
			_ = flag.Set(name, value)
		}
	}

	if cfg.JWTSecret == "" {
		secret, err := crypto.GenerateToken()
		if err != nil {
			slog.Error("generate jwt secret", "err", err)
			os.Exit(1)
		}
		cfg.JWTSecret = secret
		slog.Warn("jwt secret generated; API tokens will not survive a restart")
	}

	if *printConfig {
		data, err := server.ExportConfigYAML(cfg)
		if err != nil {
			slog.Error("export config", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	slog.Info("starting gomingle", "version", version.String())

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	issuer := api.NewTokenIssuer(cfg.JWTSecret)
	srv := server.New(cfg, server.Dependencies{
		Store:    st,
		Accounts: api.NewIdentity(issuer, st),
		API:      api.NewHandler(st, issuer),
	})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
