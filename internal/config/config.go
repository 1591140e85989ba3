package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers understood by the server.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// ServerConfig holds settings for the chat relay runtime.
type ServerConfig struct {
	ListenAddr    string
	WebSocketAddr string
	TLS           TLSConfig
	Database      DatabaseConfig
	JWT           JWTConfig
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
	Limits        Limits
	LogLevel      slog.Level
}

// TLSConfig enables TLS on the TCP listener when both files are set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether a certificate pair is configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Driver   string
	Path     string
	MongoURI string
	MongoDB  string
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// Limits bounds request sizes and history replies.
type Limits struct {
	MaxUsername     int
	MaxPassword     int
	MaxContent      int
	MaxGroupName    int
	MaxGroupMembers int
	HistoryLimit    int
}

// DefaultLimits returns the limits used when no override is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxUsername:     50,
		MaxPassword:     200,
		MaxContent:      2000,
		MaxGroupName:    60,
		MaxGroupMembers: 100,
		HistoryLimit:    500,
	}
}

// WithDefaults fills every non-positive limit from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&l.MaxUsername, def.MaxUsername)
	fill(&l.MaxPassword, def.MaxPassword)
	fill(&l.MaxContent, def.MaxContent)
	fill(&l.MaxGroupName, def.MaxGroupName)
	fill(&l.MaxGroupMembers, def.MaxGroupMembers)
	fill(&l.HistoryLimit, def.HistoryLimit)
	return l
}

// DefaultServerConfig returns the configuration used when nothing is overridden.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":9999",
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Path:     "chatrelay.db",
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "chatdb",
		},
		JWT: JWTConfig{
			Secret:     "replace-me",
			Issuer:     "chatrelay",
			Expiration: 24 * time.Hour,
		},
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  15 * time.Second,
		MaxFrameBytes: 256 << 10,
		Limits:        DefaultLimits(),
		LogLevel:      slog.LevelInfo,
	}
}

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	return applyEnv(DefaultServerConfig())
}

// LoadServerConfigFile layers a YAML file over the defaults; environment
// variables still take precedence over the file.
func LoadServerConfigFile(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := applyFile(&cfg, path); err != nil {
		return ServerConfig{}, err
	}
	return applyEnv(cfg), nil
}

func applyEnv(base ServerConfig) ServerConfig {
	cfg := base
	cfg.ListenAddr = envOrDefault("CHATRELAY_LISTEN_ADDR", base.ListenAddr)
	cfg.WebSocketAddr = envOrDefault("CHATRELAY_WS_ADDR", base.WebSocketAddr)
	cfg.TLS = TLSConfig{
		CertFile: envOrDefault("CHATRELAY_TLS_CERT", base.TLS.CertFile),
		KeyFile:  envOrDefault("CHATRELAY_TLS_KEY", base.TLS.KeyFile),
	}
	cfg.Database = DatabaseConfig{
		Driver:   strings.ToLower(envOrDefault("CHATRELAY_STORAGE", base.Database.Driver)),
		Path:     envOrDefault("CHATRELAY_DB_PATH", base.Database.Path),
		MongoURI: envOrDefault("CHATRELAY_MONGO_URI", base.Database.MongoURI),
		MongoDB:  envOrDefault("CHATRELAY_MONGO_DB", base.Database.MongoDB),
	}
	cfg.JWT = JWTConfig{
		Secret:     envOrDefault("CHATRELAY_JWT_SECRET", base.JWT.Secret),
		Issuer:     envOrDefault("CHATRELAY_JWT_ISSUER", base.JWT.Issuer),
		Expiration: envDuration("CHATRELAY_JWT_EXPIRATION", base.JWT.Expiration),
	}
	cfg.ReadTimeout = envDuration("CHATRELAY_READ_TIMEOUT", base.ReadTimeout)
	cfg.WriteTimeout = envDuration("CHATRELAY_WRITE_TIMEOUT", base.WriteTimeout)
	cfg.MaxFrameBytes = envInt("CHATRELAY_MAX_FRAME_BYTES", base.MaxFrameBytes)
	cfg.Limits.MaxGroupMembers = envInt("CHATRELAY_MAX_GROUP_MEMBERS", base.Limits.MaxGroupMembers)
	cfg.Limits.HistoryLimit = envInt("CHATRELAY_HISTORY_LIMIT", base.Limits.HistoryLimit)
	if level, ok := os.LookupEnv("CHATRELAY_LOG_LEVEL"); ok {
		cfg.LogLevel = ParseLevel(level)
	}
	return cfg
}

// ParseLevel maps a level name onto slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}
