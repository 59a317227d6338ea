package config

import "time"

// DbSettings selects the document store.
type DbSettings struct {
	Type string `mapstructure:"type" validate:"omitempty,oneof=mongo postgres spanner"`
	DSN  string `mapstructure:"dsn"`  // postgres
	URI  string `mapstructure:"uri"`  // mongo connection string or spanner database path
	Name string `mapstructure:"name"` // mongo database
}

// CacheSettings points at the Redis instance used as the shared cache.
type CacheSettings struct {
	URL        string        `mapstructure:"url" validate:"omitempty,url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
}

// WorkerSettings configures the order-event worker. Prefetch is pinned to 1:
// each queue holds at most one unacknowledged message.
type WorkerSettings struct {
	Prefetch               int           `mapstructure:"prefetch" validate:"eq=1"`
	ConsumeAnalytics       bool          `mapstructure:"consume_analytics"`
	ResubscribeMaxInterval time.Duration `mapstructure:"resubscribe_max_interval"`
}

type GatewaySettings struct {
	Addr           string `mapstructure:"addr"`
	RateLimitRPS   int    `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int    `mapstructure:"rate_limit_burst" validate:"gte=0"`
}
