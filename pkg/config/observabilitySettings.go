package config

type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	TracingURL  string `mapstructure:"tracing_url"` // empty disables the exporter
}

type LogSettings struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}
