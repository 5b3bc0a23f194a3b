package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"APP_ENV", "LOG_LEVEL", "LOG_FORMAT",
	"PROSECHECK_MODULE_PATH", "PROSECHECK_MODULE_ALT_PATH", "PROSECHECK_MODULE_CHECKSUM",
	"PROSECHECK_MODULE_PLUGIN", "PROSECHECK_MODULE_PLUGIN_CHECKSUM", "PROSECHECK_MODULE_URL",
	"PROSECHECK_MODULE_WEBDAV_URL", "PROSECHECK_MODULE_WEBDAV_PATH",
	"PROSECHECK_MODULE_WEBDAV_USER", "PROSECHECK_MODULE_WEBDAV_PASSWORD",
	"PROSECHECK_MODULE_OAUTH_CLIENT_ID", "PROSECHECK_MODULE_OAUTH_CLIENT_SECRET",
	"PROSECHECK_MODULE_OAUTH_TOKEN_URL", "PROSECHECK_SELFTEST_POLICY",
	"CACHE_TTL", "CACHE_FAST_CAPACITY", "CACHE_SLOW_CAPACITY", "CACHE_PROMOTION_THRESHOLD",
	"REDIS_URL", "HEALTH_FAILING_THRESHOLD", "HEALTH_CRITICAL_ENGINES", "CHECK_TIMEOUT",
	"DATABASE_URL", "SQLITE_PATH", "RABBITMQ_URL",
	"FEEDBACK_CAPACITY", "FEEDBACK_CYCLE_THRESHOLD", "FEEDBACK_LEARNING_RATE",
	"FEEDBACK_SALT", "FEEDBACK_AUTO_LEARN",
	"ANTHROPIC_API_KEY", "ASSISTANT_MODEL",
	"API_ADDR", "GRPC_ADDR", "MCP_ADDR", "MCP_AUTH_TOKEN", "WORKER_HEALTH_ADDR",
}

// clearEnv blanks every prosecheck variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "warn", cfg.SelfTestPolicy)

	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 100, cfg.CacheFastCapacity)
	assert.Equal(t, 1000, cfg.CacheSlowCapacity)
	assert.Equal(t, 2, cfg.CachePromotionThreshold)
	assert.Empty(t, cfg.RedisURL)

	assert.Equal(t, 3, cfg.HealthFailingThreshold)
	assert.Nil(t, cfg.HealthCriticalEngines)
	assert.Equal(t, 10*time.Second, cfg.CheckTimeout)

	assert.Equal(t, 10000, cfg.FeedbackCapacity)
	assert.Equal(t, 50, cfg.FeedbackCycleThreshold)
	assert.InDelta(t, 0.1, cfg.FeedbackLearningRate, 1e-9)
	assert.True(t, cfg.FeedbackAutoLearn)
	assert.False(t, cfg.PersistentFeedback())
	assert.False(t, cfg.AssistantEnabled())

	assert.Equal(t, "127.0.0.1:8080", cfg.APIAddr)
	assert.Equal(t, "127.0.0.1:8082", cfg.MCPAddr)
	assert.Equal(t, "0.0.0.0:8081", cfg.WorkerHealthAddr)
}

func TestLoad_WithCustomEnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("PROSECHECK_MODULE_PATH", "/opt/ruleset.yaml")
	t.Setenv("PROSECHECK_MODULE_URL", "https://rules.example.com/ruleset.yaml")
	t.Setenv("PROSECHECK_MODULE_CHECKSUM", "sha256:aaaa")
	t.Setenv("PROSECHECK_MODULE_PLUGIN_CHECKSUM", "sha256:bbbb")
	t.Setenv("PROSECHECK_SELFTEST_POLICY", "fail")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("CACHE_FAST_CAPACITY", "8")
	t.Setenv("HEALTH_CRITICAL_ENGINES", "grammar, spelling,")
	t.Setenv("FEEDBACK_LEARNING_RATE", "0.25")
	t.Setenv("FEEDBACK_AUTO_LEARN", "false")
	t.Setenv("SQLITE_PATH", "/tmp/feedback.db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/opt/ruleset.yaml", cfg.ModulePath)
	assert.Equal(t, "https://rules.example.com/ruleset.yaml", cfg.ModuleURL)
	assert.Equal(t, "sha256:aaaa", cfg.ModuleChecksum)
	assert.Equal(t, "sha256:bbbb", cfg.ModulePluginChecksum)
	assert.Equal(t, "fail", cfg.SelfTestPolicy)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 8, cfg.CacheFastCapacity)
	assert.Equal(t, []string{"grammar", "spelling"}, cfg.HealthCriticalEngines)
	assert.InDelta(t, 0.25, cfg.FeedbackLearningRate, 1e-9)
	assert.False(t, cfg.FeedbackAutoLearn)
	assert.True(t, cfg.PersistentFeedback())
	assert.True(t, cfg.AssistantEnabled())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("CACHE_FAST_CAPACITY", "many")
	t.Setenv("FEEDBACK_LEARNING_RATE", "fast")
	t.Setenv("FEEDBACK_AUTO_LEARN", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 100, cfg.CacheFastCapacity)
	assert.InDelta(t, 0.1, cfg.FeedbackLearningRate, 1e-9)
	assert.True(t, cfg.FeedbackAutoLearn)
}

const sampleFile = `
app_env = "staging"
database_url = "postgres://prosecheck@localhost/prosecheck"

[log]
level = "debug"

[module]
path = "/srv/ruleset.yaml"
checksum = "abc123"

[cache]
ttl = "1m"
slow_capacity = 50

[health]
critical_engines = ["grammar", "spelling"]

[feedback]
learning_rate = 0.2
auto_learn = false

[mcp]
auth_token = "secret"
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prosecheck.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(writeFile(t, sampleFile))
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.AppEnv)
	assert.Equal(t, "postgres://prosecheck@localhost/prosecheck", cfg.DatabaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/ruleset.yaml", cfg.ModulePath)
	assert.Equal(t, "abc123", cfg.ModuleChecksum)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 50, cfg.CacheSlowCapacity)
	assert.Equal(t, []string{"grammar", "spelling"}, cfg.HealthCriticalEngines)
	assert.InDelta(t, 0.2, cfg.FeedbackLearningRate, 1e-9)
	assert.False(t, cfg.FeedbackAutoLearn)
	assert.Equal(t, "secret", cfg.MCPAuthToken)

	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.CacheFastCapacity)
}

func TestLoadFile_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PROSECHECK_MODULE_PATH", "/env/ruleset.yaml")

	cfg, err := LoadFile(writeFile(t, sampleFile))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "/env/ruleset.yaml", cfg.ModulePath)
	assert.Equal(t, "abc123", cfg.ModuleChecksum)
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "[cache\nttl = "))
	assert.Error(t, err)
}

func TestFlatten(t *testing.T) {
	out := values{}
	flatten("", map[string]any{
		"app_env": "test",
		"cache": map[string]any{
			"ttl":  "2m",
			"fast": map[string]any{"capacity": int64(4)},
		},
		"list": []any{"a", int64(1)},
	}, out)

	assert.Equal(t, values{
		"APP_ENV":             "test",
		"CACHE_TTL":           "2m",
		"CACHE_FAST_CAPACITY": "4",
		"LIST":                "a,1",
	}, out)
}

func TestValuesLookup(t *testing.T) {
	clearEnv(t)
	v := values{"MODULE_PATH": "/file/path", "CACHE_TTL": "3s"}

	assert.Equal(t, "/file/path", v.getEnv("PROSECHECK_MODULE_PATH", "default"))
	assert.Equal(t, 3*time.Second, v.getDurationEnv("CACHE_TTL", time.Second))
	assert.Equal(t, "default", v.getEnv("PROSECHECK_MODULE_URL", "default"))
	assert.Equal(t, 7, v.getIntEnv("CACHE_FAST_CAPACITY", 7))
	assert.True(t, v.getBoolEnv("FEEDBACK_AUTO_LEARN", true))

	t.Setenv("PROSECHECK_MODULE_PATH", "/env/path")
	assert.Equal(t, "/env/path", v.getEnv("PROSECHECK_MODULE_PATH", "default"))
}
