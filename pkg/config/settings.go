package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/zoff-tech/order-events/schema"
)

type Settings struct {
	Database      DbSettings      `mapstructure:"database"`
	Broker        BrokerSettings  `mapstructure:"broker"`
	Cache         CacheSettings   `mapstructure:"cache"`
	Worker        WorkerSettings  `mapstructure:"worker"`
	Gateway       GatewaySettings `mapstructure:"gateway"`
	Observability Observability   `mapstructure:"observability"` // Observability settings
	Logging       LogSettings     `mapstructure:"logging"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func setDefaults() {
	viper.SetDefault("database.type", "mongo")
	viper.SetDefault("database.name", "farmmarket")
	viper.SetDefault("broker.type", "rabbitmq")
	viper.SetDefault("broker.pool_size", 4)
	viper.SetDefault("broker.queue_max_length", schema.DefaultQueueMaxLength)
	viper.SetDefault("broker.reconnect_interval", 5*time.Second)
	viper.SetDefault("cache.default_ttl", 5*time.Minute)
	viper.SetDefault("cache.op_timeout", 2*time.Second)
	viper.SetDefault("worker.prefetch", 1)
	viper.SetDefault("worker.resubscribe_max_interval", 30*time.Second)
	viper.SetDefault("gateway.addr", ":8080")
	viper.SetDefault("gateway.rate_limit_rps", 50)
	viper.SetDefault("gateway.rate_limit_burst", 100)
	viper.SetDefault("observability.service_name", "order-events")
	viper.SetDefault("logging.level", "info")
}

// LoadFromFile reads pipeline.yaml (and pipeline.<ENVIRONMENT>.yaml when
// present) from filePath, then applies environment overrides. A missing file
// is not an error: every setting has a default or an env binding.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	setDefaults()
	viper.SetConfigType("yaml") // Set the config type to YAML
	viper.SetConfigName("pipeline")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := mergeConfig(filePath, "pipeline."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	cfg := &Settings{}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	setDefaults()
	viper.AutomaticEnv()
	viper.SetEnvPrefix("PIPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like PIPELINE_BROKER_URL

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.name")
	viper.BindEnv("broker.type")
	viper.BindEnv("broker.url", "PIPELINE_BROKER_URL", "RABBITMQ_URL")
	viper.BindEnv("broker.project_id")
	viper.BindEnv("broker.brokers")
	viper.BindEnv("broker.pool_size")
	viper.BindEnv("broker.queue_max_length")
	viper.BindEnv("broker.reconnect_interval")
	viper.BindEnv("cache.url", "PIPELINE_CACHE_URL", "REDIS_URL")
	viper.BindEnv("cache.default_ttl")
	viper.BindEnv("cache.op_timeout")
	viper.BindEnv("worker.prefetch")
	viper.BindEnv("worker.consume_analytics")
	viper.BindEnv("worker.resubscribe_max_interval")
	viper.BindEnv("gateway.addr")
	viper.BindEnv("gateway.rate_limit_rps")
	viper.BindEnv("gateway.rate_limit_burst")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("logging.level")

	if err := viper.Unmarshal(c); err != nil {
		return err
	}
	return nil
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
