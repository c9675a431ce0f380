package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"gopkg.in/yaml.v3"
)

const overlayEnv = "ECGDESK_CONFIG"

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	// Server
	ServerPort      string
	ServerHost      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxRequestBody  int64
	AllowedOrigins  []string
	RateLimitRPS    int
	RateLimitBurst  int

	// Analysis service
	AnalysisURL             string
	AnalysisTimeout         time.Duration
	AnalysisAttempts        int
	AnalysisBreakerFailures int
	AnalysisBreakerCooldown time.Duration

	// Record persistence
	StoreBackend string
	SlotName     string
	DataDir      string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	MetricsNamespace string
}

// EventsEnabled reports whether record events should be published.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// Load reads the environment over the optional YAML file named by
// ECGDESK_CONFIG. An unreadable file is logged and ignored.
func Load() *Config {
	cfg, err := LoadFrom(os.LookupEnv, os.Getenv(overlayEnv))
	if err != nil {
		logger.Log.WithError(err).Warn("Ignoring config overlay")
		cfg, _ = LoadFrom(os.LookupEnv, "")
	}
	return cfg
}

// LoadFrom builds a Config from lookup, falling back to the YAML overlay at
// path and then to built-in defaults.
func LoadFrom(lookup func(string) (string, bool), path string) (*Config, error) {
	overlay, err := readOverlay(path)
	if err != nil {
		return nil, err
	}
	s := source{lookup: lookup, overlay: overlay}

	return &Config{
		ServerPort:      s.getEnv("SERVER_PORT", "8080"),
		ServerHost:      s.getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:     s.getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    s.getDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: s.getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxRequestBody:  int64(s.getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),
		AllowedOrigins:  s.getStringSliceEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:    s.getIntEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst:  s.getIntEnv("RATE_LIMIT_BURST", 40),

		AnalysisURL:             s.getEnv("ANALYSIS_URL", "http://127.0.0.1:5000/predict"),
		AnalysisTimeout:         s.getDuration("ANALYSIS_TIMEOUT", 30*time.Second),
		AnalysisAttempts:        s.getIntEnv("ANALYSIS_ATTEMPTS", 2),
		AnalysisBreakerFailures: s.getIntEnv("ANALYSIS_BREAKER_FAILURES", 5),
		AnalysisBreakerCooldown: s.getDuration("ANALYSIS_BREAKER_COOLDOWN", 30*time.Second),

		StoreBackend: strings.ToLower(s.getEnv("STORE_BACKEND", BackendFile)),
		SlotName:     s.getEnv("STORE_SLOT", "patients"),
		DataDir:      s.getEnv("DATA_DIR", "./data"),

		PostgresHost:     s.getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     s.getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     s.getEnv("POSTGRES_USER", "ecgdesk"),
		PostgresPassword: s.getEnv("POSTGRES_PASSWORD", "ecgdesk"),
		PostgresDB:       s.getEnv("POSTGRES_DB", "ecgdesk"),
		PostgresSSLMode:  s.getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     s.getEnv("REDIS_HOST", "localhost"),
		RedisPort:     s.getEnv("REDIS_PORT", "6379"),
		RedisPassword: s.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       s.getIntEnv("REDIS_DB", 0),

		KafkaBrokers: s.getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaTopic:   s.getEnv("KAFKA_TOPIC", "ecg.records"),
		KafkaGroupID: s.getEnv("KAFKA_GROUP_ID", "ecgdesk-audit"),

		MetricsNamespace: s.getEnv("METRICS_NAMESPACE", "ecgdesk"),
	}, nil
}

// readOverlay decodes a flat YAML mapping whose keys are the lower-cased
// environment variable names.
func readOverlay(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToLower(key)] = strings.Join(parts, ",")
		default:
			values[strings.ToLower(key)] = fmt.Sprint(v)
		}
	}
	return values, nil
}

type source struct {
	lookup  func(string) (string, bool)
	overlay map[string]string
}

func (s source) value(key string) string {
	if value, ok := s.lookup(key); ok && value != "" {
		return value
	}
	return s.overlay[strings.ToLower(key)]
}

func (s source) getEnv(key, defaultValue string) string {
	if value := s.value(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getIntEnv(key string, defaultValue int) int {
	if value := s.value(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (s source) getStringSliceEnv(key string, defaultValue []string) []string {
	value := s.value(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s source) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.value(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
