package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	dErrors "mismobridge/pkg/domain-errors"
	strutil "mismobridge/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	DefaultMode    string
	Modes          map[string]string
	PackDir        string
	MappingDir     string
	SinkDir        string
	DatabaseURL    string
	Redis          RedisConfig
	KafkaBrokers   []string
	AuditTopic     string
	AuditBuffer    int
	HarnessWorkers int
	LogLevel       string
}

// RedisConfig holds connection settings for the quarantine store.
type RedisConfig struct {
	URL           string
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	QuarantineTTL time.Duration
}

const (
	DefaultModes       = "generic=mismo34-generic,gse=mismo34-gse"
	DefaultAuditTopic  = "mismobridge.audit"
	DefaultAuditBuffer = 256
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	modes, err := ParseModes(getEnv("MISMOBRIDGE_MODES", DefaultModes))
	if err != nil {
		return Server{}, err
	}
	workers, err := getInt("HARNESS_WORKERS", 0)
	if err != nil {
		return Server{}, err
	}
	buffer, err := getInt("AUDIT_BUFFER", DefaultAuditBuffer)
	if err != nil {
		return Server{}, err
	}
	redisCfg, err := redisFromEnv()
	if err != nil {
		return Server{}, err
	}

	return Server{
		Addr:           getEnv("MISMOBRIDGE_ADDR", ":8080"),
		DefaultMode:    getEnv("MISMOBRIDGE_DEFAULT_MODE", "generic"),
		Modes:          modes,
		PackDir:        os.Getenv("MISMOBRIDGE_PACK_DIR"),
		MappingDir:     os.Getenv("MISMOBRIDGE_MAPPING_DIR"),
		SinkDir:        os.Getenv("MISMOBRIDGE_SINK_DIR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Redis:          redisCfg,
		KafkaBrokers:   strutil.SplitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:     getEnv("AUDIT_TOPIC", DefaultAuditTopic),
		AuditBuffer:    buffer,
		HarnessWorkers: workers,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}, nil
}

func redisFromEnv() (RedisConfig, error) {
	cfg := RedisConfig{
		URL:           os.Getenv("REDIS_URL"),
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		QuarantineTTL: 30 * 24 * time.Hour,
	}
	var err error
	if cfg.PoolSize, err = getInt("REDIS_POOL_SIZE", cfg.PoolSize); err != nil {
		return cfg, err
	}
	if cfg.QuarantineTTL, err = getDuration("QUARANTINE_TTL", cfg.QuarantineTTL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseModes reads "name=pack,name=pack". Mode names are case-insensitive.
func ParseModes(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strutil.SplitList(s) {
		name, packID, ok := strings.Cut(pair, "=")
		name, packID = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(packID)
		if !ok || name == "" || packID == "" {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("invalid mode binding %q", pair))
		}
		if _, dup := out[name]; dup {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("mode %s bound twice", name))
		}
		out[name] = packID
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeConfiguration, key+" must be a duration")
	}
	return d, nil
}
