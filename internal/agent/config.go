package agent

import (
	"net/http"
	"time"

	"github.com/moweilong/widgetauth/pkg/schedule"
)

// Tenant is one widget configuration: the owner token of a tenant and the
// API base its widget talks to.
type Tenant struct {
	Name       string `json:"name" mapstructure:"name" validate:"required,hostname_rfc1123"`
	APIBase    string `json:"api-base" mapstructure:"api-base" validate:"required,url"`
	OwnerToken string `json:"owner-token" mapstructure:"owner-token" validate:"required"`
}

// RedisConfig enables publishing token events on a Redis channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// TracingConfig enables exporting mint and refresh spans.
type TracingConfig struct {
	// Exporter is "stdout" or empty for no tracing.
	Exporter string
}

// Config contains the agent configuration.
type Config struct {
	Addr    string
	Tenants []Tenant

	Policy           schedule.Policy
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// OperationTimeout bounds each mint or refresh call. Zero disables the bound.
	OperationTimeout time.Duration
	IdleTimeout      time.Duration
	// Prefetch mints every tenant's token when the agent starts.
	Prefetch bool

	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	EventHistory      int

	Redis   *RedisConfig
	Tracing *TracingConfig

	// HTTPClient is used for credential calls and proxied requests.
	HTTPClient *http.Client
}
