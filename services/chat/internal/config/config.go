package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when neither an explicit path nor CONFIG_PATH is set.
const ConfigPath = "config.yaml"

const minJWTSecretLength = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisKeyPrefix string `yaml:"redisKeyPrefix"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	SessionTTL  string `yaml:"sessionTTL"`

	HistoryLimit           int    `yaml:"historyLimit"`
	StreamBuffer           int    `yaml:"streamBuffer"`
	HeartbeatInterval      string `yaml:"heartbeatInterval"`
	SendRateLimitPerMinute int    `yaml:"sendRateLimitPerMinute"`
	TrustedProxies         string `yaml:"trustedProxies"`
	CORSOrigins            string `yaml:"corsOrigins"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	ExportStream   string `yaml:"exportStream"`
}

// Load reads config from path, falling back to CONFIG_PATH and then config.yaml.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	envString(&cfg.Port, "PORT")
	envString(&cfg.DatabaseURL, "DATABASE_URL")
	envString(&cfg.LogLevel, "LOG_LEVEL")
	envString(&cfg.RedisAddr, "REDIS_ADDR")
	envString(&cfg.RedisPassword, "REDIS_PASSWORD")
	envString(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	envString(&cfg.JWTSecret, "JWT_SECRET")
	envString(&cfg.JWTIssuer, "JWT_ISSUER")
	envString(&cfg.JWTAudience, "JWT_AUDIENCE")
	envString(&cfg.SessionTTL, "SESSION_TTL")
	envString(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL")
	envString(&cfg.TrustedProxies, "TRUSTED_PROXIES")
	envString(&cfg.CORSOrigins, "CORS_ORIGINS")
	envString(&cfg.AMQPURL, "AMQP_URL")
	envString(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	envString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	envString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	envString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	envString(&cfg.MinioBucket, "MINIO_BUCKET")
	envString(&cfg.ExportStream, "EXPORT_STREAM")

	for _, iv := range []struct {
		dst *int
		key string
	}{
		{&cfg.HistoryLimit, "HISTORY_LIMIT"},
		{&cfg.StreamBuffer, "STREAM_BUFFER"},
		{&cfg.SendRateLimitPerMinute, "SEND_RATE_LIMIT_PER_MINUTE"},
	} {
		v := os.Getenv(iv.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", iv.key, err)
		}
		*iv.dst = n
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MINIO_USE_SSL must be a boolean: %w", err)
		}
		cfg.MinioUseSSL = b
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *FileConfig) {
	setDefault(&cfg.LogLevel, "info")
	setDefault(&cfg.RedisKeyPrefix, "roomchat")
	setDefault(&cfg.JWTIssuer, "roomchat")
	setDefault(&cfg.JWTAudience, "roomchat-api")
	setDefault(&cfg.SessionTTL, "24h")
	setDefault(&cfg.HeartbeatInterval, "25s")
	setDefault(&cfg.AMQPExchange, "roomchat.events")
	setDefault(&cfg.ExportStream, "roomchat:exports")
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 5
	}
	if cfg.StreamBuffer == 0 {
		cfg.StreamBuffer = 64
	}
}

func setDefault(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if len(cfg.JWTSecret) < minJWTSecretLength {
		return errors.New("config: jwtSecret must be at least 32 characters (set in config.yaml or JWT_SECRET)")
	}
	if cfg.HistoryLimit < 1 || cfg.HistoryLimit > 50 {
		return errors.New("config: historyLimit must be between 1 and 50")
	}
	if cfg.StreamBuffer < 1 {
		return errors.New("config: streamBuffer must be > 0")
	}
	if cfg.SendRateLimitPerMinute < 0 {
		return errors.New("config: sendRateLimitPerMinute must be >= 0")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseHeartbeatInterval(cfg.HeartbeatInterval); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for transcript exports")
		}
	}
	return nil
}

// ExportsEnabled reports whether both the export queue and object storage are configured.
func (c FileConfig) ExportsEnabled() bool {
	return c.RedisAddr != "" && c.MinioEndpoint != ""
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseDuration("sessionTTL", ttlStr)
}

// ParseHeartbeatInterval parses the SSE keep-alive interval; zero disables it.
func ParseHeartbeatInterval(intervalStr string) (time.Duration, error) {
	return parseDuration("heartbeatInterval", intervalStr)
}

// ParseList splits a comma separated list, dropping blanks.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", field)
	}
	return dur, nil
}
