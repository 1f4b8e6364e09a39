package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/formforge/internal/notification"
)

type Config struct {
	Server       ServerConfig              `json:"server" yaml:"server"`
	Storage      StorageConfig             `json:"storage" yaml:"storage"`
	Redis        RedisConfig               `json:"redis" yaml:"redis"`
	Uploads      UploadsConfig             `json:"uploads" yaml:"uploads"`
	SMTP         notification.SMTPSettings `json:"smtp" yaml:"smtp"`
	JWTSecret    string                    `json:"jwt_secret" yaml:"jwt_secret"`
	PublicURL    string                    `json:"public_url" yaml:"public_url"`
	AllowOrigins []string                  `json:"allow_origins" yaml:"allow_origins"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	// Type selects the backend: "mongodb" or "memory".
	Type     string `json:"type" yaml:"type"`
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type UploadsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Type: "memory", Database: "formforge"},
		Uploads: UploadsConfig{Dir: "uploads"},
	}
}

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		// Try JSON if YAML fails
		file.Seek(0, 0)
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("FORMFORGE_JWT_SECRET")
	}
	return cfg, nil
}
