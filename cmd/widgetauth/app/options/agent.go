package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/moweilong/widgetauth/internal/agent"
	"github.com/moweilong/widgetauth/pkg/broadcast"
	"github.com/moweilong/widgetauth/pkg/log"
	"github.com/moweilong/widgetauth/pkg/schedule"
)

// AgentOptions contains the options of the agent command.
type AgentOptions struct {
	Addr    string         `json:"addr" mapstructure:"addr" validate:"required"`
	Tenants []agent.Tenant `json:"tenants" mapstructure:"tenants" validate:"dive"`

	RefreshBuffer    time.Duration `json:"refresh-buffer" mapstructure:"refresh-buffer" validate:"gte=0"`
	MinRefresh       time.Duration `json:"min-refresh" mapstructure:"min-refresh" validate:"gt=0"`
	FallbackRefresh  time.Duration `json:"fallback-refresh" mapstructure:"fallback-refresh" validate:"gt=0"`
	InitialBackoff   time.Duration `json:"initial-backoff" mapstructure:"initial-backoff" validate:"gt=0"`
	MaxBackoff       time.Duration `json:"max-backoff" mapstructure:"max-backoff" validate:"gtefield=InitialBackoff"`
	OperationTimeout time.Duration `json:"operation-timeout" mapstructure:"operation-timeout" validate:"gte=0"`
	IdleTimeout      time.Duration `json:"idle-timeout" mapstructure:"idle-timeout" validate:"gte=0"`
	Prefetch         bool          `json:"prefetch" mapstructure:"prefetch"`

	AllowedOrigins    []string      `json:"allowed-origins" mapstructure:"allowed-origins"`
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval" validate:"gt=0"`
	EventHistory      int           `json:"event-history" mapstructure:"event-history" validate:"gte=0"`
	TraceExporter     string        `json:"trace-exporter" mapstructure:"trace-exporter" validate:"omitempty,oneof=stdout"`

	Redis *RedisOptions `json:"redis" mapstructure:"redis"`
	Log   *log.Options  `json:"log" mapstructure:"log"`

	// tenantFlags holds the raw --tenant values.
	tenantFlags []string
}

// NewAgentOptions returns AgentOptions with the default refresh timing.
func NewAgentOptions() *AgentOptions {
	policy := schedule.DefaultPolicy()
	return &AgentOptions{
		Addr:              ":8080",
		RefreshBuffer:     policy.Buffer,
		MinRefresh:        policy.Min,
		FallbackRefresh:   policy.Fallback,
		InitialBackoff:    schedule.DefaultInitialBackoff,
		MaxBackoff:        schedule.DefaultMaxBackoff,
		OperationTimeout:  30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		EventHistory:      64,
		Redis:             &RedisOptions{Channel: broadcast.DefaultChannel},
		Log:               log.NewOptions(),
	}
}

// Flags returns the agent flags grouped by concern.
func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	var fss cliflag.NamedFlagSets

	fs := fss.FlagSet("agent")
	fs.StringVar(&o.Addr, "addr", o.Addr, "Address the agent listens on.")
	fs.StringArrayVar(&o.tenantFlags, "tenant", o.tenantFlags, ""+
		"Tenant as `NAME,API_BASE,OWNER_TOKEN`. Repeatable. Adds to the tenants of the config file.")
	fs.BoolVar(&o.Prefetch, "prefetch", o.Prefetch, "Acquire every tenant's token at startup.")
	fs.DurationVar(&o.IdleTimeout, "idle-timeout", o.IdleTimeout, ""+
		"Destroy token managers unused for this long that have no subscribers. 0 keeps them forever.")

	fs = fss.FlagSet("refresh")
	fs.DurationVar(&o.RefreshBuffer, "refresh-buffer", o.RefreshBuffer, "Refresh this long before the token expires.")
	fs.DurationVar(&o.MinRefresh, "min-refresh", o.MinRefresh, "Shortest delay before a refresh.")
	fs.DurationVar(&o.FallbackRefresh, "fallback-refresh", o.FallbackRefresh, "Refresh delay for tokens without a readable expiry.")
	fs.DurationVar(&o.InitialBackoff, "initial-backoff", o.InitialBackoff, "First retry delay after a failed refresh.")
	fs.DurationVar(&o.MaxBackoff, "max-backoff", o.MaxBackoff, "Longest retry delay after failed refreshes.")
	fs.DurationVar(&o.OperationTimeout, "operation-timeout", o.OperationTimeout, "Timeout of each mint or refresh call. 0 disables it.")

	fs = fss.FlagSet("events")
	fs.StringSliceVar(&o.AllowedOrigins, "allowed-origins", o.AllowedOrigins, "CORS origins allowed to call the agent. Empty allows all.")
	fs.DurationVar(&o.HeartbeatInterval, "heartbeat-interval", o.HeartbeatInterval, "Interval of keep-alive comments on event streams.")
	fs.IntVar(&o.EventHistory, "event-history", o.EventHistory, "Events retained for Last-Event-ID replay.")
	fs.StringVar(&o.TraceExporter, "trace-exporter", o.TraceExporter, "Export mint and refresh spans. Supported: stdout.")
	o.Redis.AddFlags(fs, "redis")
	fs.StringVar(&o.Redis.Channel, "redis.channel", o.Redis.Channel, "Redis channel token events are published on.")

	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// AddFlags adds every agent flag to fs.
func (o *AgentOptions) AddFlags(fs *pflag.FlagSet) {
	for _, f := range o.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
}

// Complete adds the tenants given with --tenant to those of the config file.
func (o *AgentOptions) Complete() error {
	for _, v := range o.tenantFlags {
		fields, err := splitFields(v, 3)
		if err != nil {
			return fmt.Errorf("--tenant %w", err)
		}
		o.Tenants = append(o.Tenants, agent.Tenant{Name: fields[0], APIBase: fields[1], OwnerToken: fields[2]})
	}
	return nil
}

// Reload builds completed and validated options from a re-read
// configuration. The --tenant flags of o are kept.
func (o *AgentOptions) Reload(unmarshal func(any) error) (*AgentOptions, error) {
	n := NewAgentOptions()
	n.tenantFlags = o.tenantFlags
	if err := unmarshal(n); err != nil {
		return nil, err
	}
	if err := n.Complete(); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks the options.
func (o *AgentOptions) Validate() error {
	errs := validateStruct(o)
	if o.Log != nil {
		errs = append(errs, o.Log.Validate()...)
	}

	seen := make(map[string]bool, len(o.Tenants))
	for _, t := range o.Tenants {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("duplicate tenant %q", t.Name))
		}
		seen[t.Name] = true
	}
	if len(o.Tenants) == 0 {
		errs = append(errs, errors.New("at least one tenant is required"))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds the agent configuration.
func (o *AgentOptions) Config() (*agent.Config, error) {
	cfg := &agent.Config{
		Addr:    o.Addr,
		Tenants: o.Tenants,
		Policy: schedule.Policy{
			Buffer:   o.RefreshBuffer,
			Min:      o.MinRefresh,
			Fallback: o.FallbackRefresh,
		},
		InitialBackoff:    o.InitialBackoff,
		MaxBackoff:        o.MaxBackoff,
		OperationTimeout:  o.OperationTimeout,
		IdleTimeout:       o.IdleTimeout,
		Prefetch:          o.Prefetch,
		AllowedOrigins:    o.AllowedOrigins,
		HeartbeatInterval: o.HeartbeatInterval,
		EventHistory:      o.EventHistory,
	}
	if o.Redis.Enabled() {
		cfg.Redis = &agent.RedisConfig{
			Addr:     o.Redis.Addr,
			Password: o.Redis.Password,
			DB:       o.Redis.DB,
			Channel:  o.Redis.Channel,
		}
	}
	if o.TraceExporter != "" {
		cfg.Tracing = &agent.TracingConfig{Exporter: o.TraceExporter}
	}
	return cfg, nil
}
