package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of ServerConfig. Zero values leave the
// underlying setting untouched.
type fileConfig struct {
	Listen    string `yaml:"listen,omitempty"`
	WebSocket string `yaml:"websocket,omitempty"`
	TLS       struct {
		Cert string `yaml:"cert,omitempty"`
		Key  string `yaml:"key,omitempty"`
	} `yaml:"tls,omitempty"`
	Storage struct {
		Driver   string `yaml:"driver,omitempty"`
		Path     string `yaml:"path,omitempty"`
		MongoURI string `yaml:"mongo_uri,omitempty"`
		MongoDB  string `yaml:"mongo_db,omitempty"`
	} `yaml:"storage,omitempty"`
	JWT struct {
		Secret     string `yaml:"secret,omitempty"`
		Issuer     string `yaml:"issuer,omitempty"`
		Expiration string `yaml:"expiration,omitempty"`
	} `yaml:"jwt,omitempty"`
	ReadTimeout   string `yaml:"read_timeout,omitempty"`
	WriteTimeout  string `yaml:"write_timeout,omitempty"`
	MaxFrameBytes int    `yaml:"max_frame_bytes,omitempty"`
	Limits        struct {
		MaxUsername     int `yaml:"max_username,omitempty"`
		MaxPassword     int `yaml:"max_password,omitempty"`
		MaxContent      int `yaml:"max_content,omitempty"`
		MaxGroupName    int `yaml:"max_group_name,omitempty"`
		MaxGroupMembers int `yaml:"max_group_members,omitempty"`
		HistoryLimit    int `yaml:"history_limit,omitempty"`
	} `yaml:"limits,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

func applyFile(cfg *ServerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ListenAddr, fc.Listen)
	setString(&cfg.WebSocketAddr, fc.WebSocket)
	setString(&cfg.TLS.CertFile, fc.TLS.Cert)
	setString(&cfg.TLS.KeyFile, fc.TLS.Key)
	setString(&cfg.Database.Driver, strings.ToLower(fc.Storage.Driver))
	setString(&cfg.Database.Path, fc.Storage.Path)
	setString(&cfg.Database.MongoURI, fc.Storage.MongoURI)
	setString(&cfg.Database.MongoDB, fc.Storage.MongoDB)
	setString(&cfg.JWT.Secret, fc.JWT.Secret)
	setString(&cfg.JWT.Issuer, fc.JWT.Issuer)

	for _, d := range []struct {
		dst  *time.Duration
		raw  string
		name string
	}{
		{&cfg.JWT.Expiration, fc.JWT.Expiration, "jwt.expiration"},
		{&cfg.ReadTimeout, fc.ReadTimeout, "read_timeout"},
		{&cfg.WriteTimeout, fc.WriteTimeout, "write_timeout"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config %s: %s: %w", path, d.name, err)
		}
		*d.dst = parsed
	}

	setInt(&cfg.MaxFrameBytes, fc.MaxFrameBytes)
	setInt(&cfg.Limits.MaxUsername, fc.Limits.MaxUsername)
	setInt(&cfg.Limits.MaxPassword, fc.Limits.MaxPassword)
	setInt(&cfg.Limits.MaxContent, fc.Limits.MaxContent)
	setInt(&cfg.Limits.MaxGroupName, fc.Limits.MaxGroupName)
	setInt(&cfg.Limits.MaxGroupMembers, fc.Limits.MaxGroupMembers)
	setInt(&cfg.Limits.HistoryLimit, fc.Limits.HistoryLimit)
	if fc.LogLevel != "" {
		cfg.LogLevel = ParseLevel(fc.LogLevel)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
