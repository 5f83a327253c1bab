package server

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// configYAML mirrors Config for the on-disk YAML file. Booleans are pointers
// so an absent key keeps the default instead of forcing false.
type configYAML struct {
	ControlAddr string `yaml:"control_addr,omitempty"`
	WSAddr      string `yaml:"ws_addr,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	APIAddr     string `yaml:"api_addr,omitempty"`

	DBPath   string `yaml:"db_path,omitempty"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	DataDir  string `yaml:"data_dir,omitempty"`

	AllowAnonymous *bool  `yaml:"allow_anonymous,omitempty"`
	JWTSecret      string `yaml:"jwt_secret,omitempty"`

	Match struct {
		RequireSameCountryFree *bool `yaml:"require_same_country_free,omitempty"`
	} `yaml:"match,omitempty"`
}

// LoadConfigFromYAML reads a YAML config file and overlays it onto base.
// Keys absent from the file keep the base value.
func LoadConfigFromYAML(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg, err := overlayConfigYAML(data, base)
	if err != nil {
		return base, err
	}
	slog.Info("loaded config", "path", path)
	return cfg, nil
}

func overlayConfigYAML(data []byte, base Config) (Config, error) {
	var file configYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("parse config: %w", err)
	}

	cfg := base
	if file.ControlAddr != "" {
		cfg.ControlAddr = file.ControlAddr
	}
	if file.WSAddr != "" {
		cfg.WSAddr = file.WSAddr
	}
	if file.MetricsAddr != "" {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if file.APIAddr != "" {
		cfg.APIAddr = file.APIAddr
	}
	if file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if file.CertFile != "" {
		cfg.CertFile = file.CertFile
	}
	if file.KeyFile != "" {
		cfg.KeyFile = file.KeyFile
	}
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.AllowAnonymous != nil {
		cfg.AllowAnonymous = *file.AllowAnonymous
	}
	if file.JWTSecret != "" {
		cfg.JWTSecret = file.JWTSecret
	}
	if file.Match.RequireSameCountryFree != nil {
		cfg.RequireSameCountryFree = *file.Match.RequireSameCountryFree
	}
	return cfg, nil
}

// ExportConfigYAML renders a config as YAML, suitable for seeding a config file.
func ExportConfigYAML(cfg Config) ([]byte, error) {
	file := configYAML{
		ControlAddr: cfg.ControlAddr,
		WSAddr:      cfg.WSAddr,
		MetricsAddr: cfg.MetricsAddr,
		APIAddr:     cfg.APIAddr,
		DBPath:      cfg.DBPath,
		CertFile:    cfg.CertFile,
		KeyFile:     cfg.KeyFile,
		DataDir:     cfg.DataDir,
		AllowAnonymous: func() *bool {
			v := cfg.AllowAnonymous
			return &v
		}(),
		JWTSecret: cfg.JWTSecret,
	}
	v := cfg.RequireSameCountryFree
	file.Match.RequireSameCountryFree = &v
	return yaml.Marshal(&file)
}
