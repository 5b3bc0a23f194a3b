package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv    string
	LogLevel  string
	LogFormat string

	// Analysis module sources
	ModulePath           string
	ModuleAltPath        string
	ModuleChecksum       string
	ModulePlugin         string
	ModulePluginChecksum string
	ModuleURL            string
	WebDAVURL            string
	WebDAVPath           string
	WebDAVUser           string
	WebDAVPassword       string
	OAuthClientID        string
	OAuthClientSecret    string
	OAuthTokenURL        string
	SelfTestPolicy       string

	// Cache
	CacheTTL                time.Duration
	CacheFastCapacity       int
	CacheSlowCapacity       int
	CachePromotionThreshold int
	RedisURL                string

	// Health
	HealthFailingThreshold int
	HealthCriticalEngines  []string

	// Checks
	CheckTimeout time.Duration

	// Feedback
	DatabaseURL            string
	SQLitePath             string
	RabbitMQURL            string
	FeedbackCapacity       int
	FeedbackCycleThreshold int
	FeedbackLearningRate   float64
	FeedbackSalt           string
	FeedbackAutoLearn      bool

	// Assistant engine
	AnthropicAPIKey string
	AssistantModel  string

	// Servers
	APIAddr          string
	GRPCAddr         string
	MCPAddr          string
	MCPAuthToken     string
	WorkerHealthAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()
	return build(values{}), nil
}

// LoadFile loads configuration from a TOML file. Environment variables take
// precedence over file values.
//
// Tables map onto variable names: key "ttl" in table [cache] is CACHE_TTL,
// key "path" in table [module] is PROSECHECK_MODULE_PATH.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	raw := map[string]any{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	file := values{}
	flatten("", raw, file)
	return build(file), nil
}

func build(v values) *Config {
	return &Config{
		AppEnv:    v.getEnv("APP_ENV", "development"),
		LogLevel:  v.getEnv("LOG_LEVEL", "info"),
		LogFormat: v.getEnv("LOG_FORMAT", "text"),

		ModulePath:           v.getEnv("PROSECHECK_MODULE_PATH", ""),
		ModuleAltPath:        v.getEnv("PROSECHECK_MODULE_ALT_PATH", ""),
		ModuleChecksum:       v.getEnv("PROSECHECK_MODULE_CHECKSUM", ""),
		ModulePlugin:         v.getEnv("PROSECHECK_MODULE_PLUGIN", ""),
		ModulePluginChecksum: v.getEnv("PROSECHECK_MODULE_PLUGIN_CHECKSUM", ""),
		ModuleURL:            v.getEnv("PROSECHECK_MODULE_URL", ""),
		WebDAVURL:            v.getEnv("PROSECHECK_MODULE_WEBDAV_URL", ""),
		WebDAVPath:           v.getEnv("PROSECHECK_MODULE_WEBDAV_PATH", "/prosecheck/ruleset.yaml"),
		WebDAVUser:           v.getEnv("PROSECHECK_MODULE_WEBDAV_USER", ""),
		WebDAVPassword:       v.getEnv("PROSECHECK_MODULE_WEBDAV_PASSWORD", ""),
		OAuthClientID:        v.getEnv("PROSECHECK_MODULE_OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:    v.getEnv("PROSECHECK_MODULE_OAUTH_CLIENT_SECRET", ""),
		OAuthTokenURL:        v.getEnv("PROSECHECK_MODULE_OAUTH_TOKEN_URL", ""),
		SelfTestPolicy:       v.getEnv("PROSECHECK_SELFTEST_POLICY", "warn"),

		CacheTTL:                v.getDurationEnv("CACHE_TTL", 5*time.Minute),
		CacheFastCapacity:       v.getIntEnv("CACHE_FAST_CAPACITY", 100),
		CacheSlowCapacity:       v.getIntEnv("CACHE_SLOW_CAPACITY", 1000),
		CachePromotionThreshold: v.getIntEnv("CACHE_PROMOTION_THRESHOLD", 2),
		RedisURL:                v.getEnv("REDIS_URL", ""),

		HealthFailingThreshold: v.getIntEnv("HEALTH_FAILING_THRESHOLD", 3),
		HealthCriticalEngines:  v.getListEnv("HEALTH_CRITICAL_ENGINES"),

		CheckTimeout: v.getDurationEnv("CHECK_TIMEOUT", 10*time.Second),

		DatabaseURL:            v.getEnv("DATABASE_URL", ""),
		SQLitePath:             v.getEnv("SQLITE_PATH", ""),
		RabbitMQURL:            v.getEnv("RABBITMQ_URL", ""),
		FeedbackCapacity:       v.getIntEnv("FEEDBACK_CAPACITY", 10000),
		FeedbackCycleThreshold: v.getIntEnv("FEEDBACK_CYCLE_THRESHOLD", 50),
		FeedbackLearningRate:   v.getFloatEnv("FEEDBACK_LEARNING_RATE", 0.1),
		FeedbackSalt:           v.getEnv("FEEDBACK_SALT", ""),
		FeedbackAutoLearn:      v.getBoolEnv("FEEDBACK_AUTO_LEARN", true),

		AnthropicAPIKey: v.getEnv("ANTHROPIC_API_KEY", ""),
		AssistantModel:  v.getEnv("ASSISTANT_MODEL", ""),

		APIAddr:          v.getEnv("API_ADDR", "127.0.0.1:8080"),
		GRPCAddr:         v.getEnv("GRPC_ADDR", ""),
		MCPAddr:          v.getEnv("MCP_ADDR", "127.0.0.1:8082"),
		MCPAuthToken:     v.getEnv("MCP_AUTH_TOKEN", ""),
		WorkerHealthAddr: v.getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// PersistentFeedback reports whether feedback is stored in a database rather
// than in memory.
func (c *Config) PersistentFeedback() bool {
	return c.DatabaseURL != "" || c.SQLitePath != ""
}

// AssistantEnabled reports whether the LLM assistant engine can be registered.
func (c *Config) AssistantEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// values holds file-provided settings keyed by variable name without the
// PROSECHECK_ prefix.
type values map[string]string

func (v values) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return v[strings.TrimPrefix(key, "PROSECHECK_")]
}

func (v values) getEnv(key, defaultValue string) string {
	if value := v.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (v values) getIntEnv(key string, defaultValue int) int {
	if value := v.lookup(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (v values) getFloatEnv(key string, defaultValue float64) float64 {
	if value := v.lookup(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (v values) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := v.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (v values) getBoolEnv(key string, defaultValue bool) bool {
	if value := v.lookup(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (v values) getListEnv(key string) []string {
	value := v.lookup(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// flatten writes TOML tables into out as upper-case underscore-joined keys.
func flatten(prefix string, raw map[string]any, out values) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ToUpper(k)
		if prefix != "" {
			name = prefix + "_" + name
		}
		switch val := raw[k].(type) {
		case map[string]any:
			flatten(name, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[name] = strings.Join(parts, ",")
		default:
			out[name] = fmt.Sprint(val)
		}
	}
}
