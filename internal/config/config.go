// Package config loads the translation gateway configuration from a YAML file,
// a .env file and TRANSLATOR_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "TRANSLATOR"

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig holds durable cache store settings
type RedisConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	PoolSize         int           `mapstructure:"pool_size"`
}

// CacheConfig holds multi-tier cache settings
type CacheConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	MemorySize         int           `mapstructure:"memory_size"`
	MemoryTTL          time.Duration `mapstructure:"memory_ttl"`
	JanitorInterval    time.Duration `mapstructure:"janitor_interval"`
	CompressionEnabled bool          `mapstructure:"compression_enabled"`
	CompressionMinSize int           `mapstructure:"compression_min_size"`
	CompressionLevel   int           `mapstructure:"compression_level"`
	Codec              string        `mapstructure:"codec"`
}

// TranslatorConfig holds upstream dispatch settings
type TranslatorConfig struct {
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MaxBatchSize          int           `mapstructure:"max_batch_size"`
	MaxBatchItems         int           `mapstructure:"max_batch_items"`
	MaxTextLength         int           `mapstructure:"max_text_length"`
	UpstreamTimeout       time.Duration `mapstructure:"upstream_timeout"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	RetryBase             time.Duration `mapstructure:"retry_base"`
}

// CoalescerConfig holds request merging settings
type CoalescerConfig struct {
	MergeWindow        time.Duration `mapstructure:"merge_window"`
	ResultCacheTTL     time.Duration `mapstructure:"result_cache_ttl"`
	ResultCacheSize    int           `mapstructure:"result_cache_size"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	GroupTimeoutFactor int           `mapstructure:"group_timeout_factor"`
}

// ProviderConfig holds upstream provider credentials
type ProviderConfig struct {
	AppID     string  `mapstructure:"app_id"`
	SecretKey string  `mapstructure:"secret_key"`
	BaseURL   string  `mapstructure:"base_url"`
	QPS       float64 `mapstructure:"qps"`
	Burst     int     `mapstructure:"burst"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config holds the complete application configuration
type Config struct {
	Environment   string                      `mapstructure:"environment"`
	Server        ServerConfig                `mapstructure:"server"`
	Redis         RedisConfig                 `mapstructure:"redis"`
	Cache         CacheConfig                 `mapstructure:"cache"`
	Translator    TranslatorConfig            `mapstructure:"translator"`
	Coalescer     CoalescerConfig             `mapstructure:"coalescer"`
	Provider      ProviderConfig              `mapstructure:"provider"`
	Logging       LoggingConfig               `mapstructure:"logging"`
	Tracing       observability.TracingConfig `mapstructure:"tracing"`
	LanguagesFile string                      `mapstructure:"languages_file"`
}

// Load reads configuration from path (optional), .env and the environment.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by docker-compose files
	_ = v.BindEnv("redis.addr", EnvPrefix+"_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("provider.app_id", EnvPrefix+"_PROVIDER_APP_ID", "BAIDU_APP_ID")
	_ = v.BindEnv("provider.secret_key", EnvPrefix+"_PROVIDER_SECRET_KEY", "BAIDU_SECRET_KEY")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "error reading config file %s", path)
			}
		}
	}

	processEnvExpansion(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}

	return &cfg, nil
}

// Validate checks the scalars the core depends on
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return errors.Wrap(ErrInvalidConfig, "server.port must be positive")
	case c.Cache.MemorySize <= 0:
		return errors.Wrap(ErrInvalidConfig, "cache.memory_size must be positive")
	case c.Cache.TTL <= 0 || c.Cache.MemoryTTL <= 0:
		return errors.Wrap(ErrInvalidConfig, "cache ttl values must be positive")
	case c.Cache.Codec != "gzip" && c.Cache.Codec != "zstd":
		return errors.Wrapf(ErrInvalidConfig, "unknown cache.codec %q", c.Cache.Codec)
	case c.Translator.MaxConcurrentRequests <= 0:
		return errors.Wrap(ErrInvalidConfig, "translator.max_concurrent_requests must be positive")
	case c.Translator.MaxAttempts <= 0:
		return errors.Wrap(ErrInvalidConfig, "translator.max_attempts must be positive")
	case c.Translator.UpstreamTimeout <= 0:
		return errors.Wrap(ErrInvalidConfig, "translator.upstream_timeout must be positive")
	case c.Coalescer.MergeWindow <= 0 || c.Coalescer.SweepInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "coalescer durations must be positive")
	case c.Coalescer.GroupTimeoutFactor <= 0:
		return errors.Wrap(ErrInvalidConfig, "coalescer.group_timeout_factor must be positive")
	case c.Provider.AppID == "" || c.Provider.SecretKey == "":
		return errors.Wrap(ErrInvalidConfig, "provider.app_id and provider.secret_key are required")
	}
	return nil
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// processEnvExpansion expands ${VAR} and ${VAR:-default} in string values
func processEnvExpansion(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok || !strings.Contains(value, "${") {
			continue
		}
		if expanded := expandEnvVars(value); expanded != value {
			v.Set(key, expanded)
		}
	}
}

func expandEnvVars(value string) string {
	result := value
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			return result
		}
		rel := strings.Index(result[start:], "}")
		if rel == -1 {
			return result
		}
		end := start + rel

		envVar, defaultVal, _ := strings.Cut(result[start+2:end], ":-")
		envVal := os.Getenv(envVar)
		if envVal == "" {
			envVal = defaultVal
		}

		result = result[:start] + envVal + result[end+1:]
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("languages_file", "configs/languages.yaml")

	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "translator:")
	v.SetDefault("redis.connect_timeout", 5*time.Second)
	v.SetDefault("redis.operation_timeout", 2*time.Second)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("cache.ttl", 86400*time.Second)
	v.SetDefault("cache.memory_size", 1000)
	v.SetDefault("cache.memory_ttl", 300*time.Second)
	v.SetDefault("cache.janitor_interval", time.Minute)
	v.SetDefault("cache.compression_enabled", true)
	v.SetDefault("cache.compression_min_size", 1024)
	v.SetDefault("cache.compression_level", 6)
	v.SetDefault("cache.codec", "gzip")

	v.SetDefault("translator.max_concurrent_requests", 50)
	v.SetDefault("translator.max_batch_size", 100)
	v.SetDefault("translator.max_batch_items", 50)
	v.SetDefault("translator.max_text_length", 5000)
	v.SetDefault("translator.upstream_timeout", 2*time.Second)
	v.SetDefault("translator.max_attempts", 3)
	v.SetDefault("translator.retry_base", 500*time.Millisecond)

	v.SetDefault("coalescer.merge_window", 100*time.Millisecond)
	v.SetDefault("coalescer.result_cache_ttl", 5*time.Second)
	v.SetDefault("coalescer.result_cache_size", 10000)
	v.SetDefault("coalescer.sweep_interval", 10*time.Second)
	v.SetDefault("coalescer.group_timeout_factor", 10)

	v.SetDefault("provider.base_url", "https://fanyi-api.baidu.com/api/trans/vip/translate")
	v.SetDefault("provider.qps", 10.0)
	v.SetDefault("provider.burst", 10)
	v.SetDefault("provider.app_id", "")
	v.SetDefault("provider.secret_key", "")

	v.SetDefault("logging.level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "translation-gateway")
	v.SetDefault("tracing.endpoint", "")
}
