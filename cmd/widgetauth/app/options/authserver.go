package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/moweilong/widgetauth/internal/authserver"
	"github.com/moweilong/widgetauth/pkg/jwt"
	"github.com/moweilong/widgetauth/pkg/jwt/store"
	"github.com/moweilong/widgetauth/pkg/log"
)

// AuthServerOptions contains the options of the auth-server command.
type AuthServerOptions struct {
	Addr            string              `json:"addr" mapstructure:"addr" validate:"required"`
	SigningKey      string              `json:"signing-key" mapstructure:"signing-key" validate:"min=16"`
	TokenTTL        time.Duration       `json:"token-ttl" mapstructure:"token-ttl" validate:"gt=0"`
	RenewGrace      time.Duration       `json:"renew-grace" mapstructure:"renew-grace" validate:"gte=0"`
	CleanupInterval time.Duration       `json:"cleanup-interval" mapstructure:"cleanup-interval" validate:"gte=0"`
	AllowedOrigins  []string            `json:"allowed-origins" mapstructure:"allowed-origins"`
	Tenants         []authserver.Tenant `json:"tenants" mapstructure:"tenants" validate:"min=1,dive"`
	StoreType       string              `json:"store" mapstructure:"store" validate:"oneof=memory redis"`
	Redis           *RedisOptions       `json:"redis" mapstructure:"redis"`
	Log             *log.Options        `json:"log" mapstructure:"log"`

	tenantFlags []string
}

// NewAuthServerOptions returns AuthServerOptions with an in-memory revocation store.
func NewAuthServerOptions() *AuthServerOptions {
	return &AuthServerOptions{
		Addr:            ":8090",
		TokenTTL:        jwt.DefaultTTL,
		RenewGrace:      jwt.DefaultRenewGrace,
		CleanupInterval: time.Minute,
		StoreType:       string(store.TypeMemory),
		Redis:           &RedisOptions{},
		Log:             log.NewOptions(),
	}
}

// Flags returns the auth server flags grouped by concern.
func (o *AuthServerOptions) Flags() cliflag.NamedFlagSets {
	var fss cliflag.NamedFlagSets

	fs := fss.FlagSet("server")
	fs.StringVar(&o.Addr, "addr", o.Addr, "Address the auth server listens on.")
	fs.StringSliceVar(&o.AllowedOrigins, "allowed-origins", o.AllowedOrigins, "CORS origins allowed to call the server. Empty allows all.")
	fs.StringArrayVar(&o.tenantFlags, "tenant", o.tenantFlags, ""+
		"Accepted owner token as `NAME,OWNER_TOKEN`. Repeatable. Adds to the tenants of the config file.")

	fs = fss.FlagSet("token")
	fs.StringVar(&o.SigningKey, "signing-key", o.SigningKey, "HMAC key widget tokens are signed with. At least 16 characters.")
	fs.DurationVar(&o.TokenTTL, "token-ttl", o.TokenTTL, "Lifetime of issued widget tokens.")
	fs.DurationVar(&o.RenewGrace, "renew-grace", o.RenewGrace, "How long after expiry a token can still be refreshed.")

	fs = fss.FlagSet("store")
	fs.StringVar(&o.StoreType, "store", o.StoreType, "Revocation store, memory or redis.")
	fs.DurationVar(&o.CleanupInterval, "cleanup-interval", o.CleanupInterval, "Interval of lapsed revocation cleanup. 0 disables it.")
	o.Redis.AddFlags(fs, "redis")

	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// AddFlags adds every auth server flag to fs.
func (o *AuthServerOptions) AddFlags(fs *pflag.FlagSet) {
	for _, f := range o.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
}

// Complete adds the tenants given with --tenant to those of the config file.
func (o *AuthServerOptions) Complete() error {
	for _, v := range o.tenantFlags {
		fields, err := splitFields(v, 2)
		if err != nil {
			return fmt.Errorf("--tenant %w", err)
		}
		o.Tenants = append(o.Tenants, authserver.Tenant{Name: fields[0], OwnerToken: fields[1]})
	}
	return nil
}

// Validate checks the options.
func (o *AuthServerOptions) Validate() error {
	errs := validateStruct(o)
	if o.StoreType == string(store.TypeRedis) && !o.Redis.Enabled() {
		errs = append(errs, errors.New("--redis.addr is required by the redis store"))
	}
	if o.Log != nil {
		errs = append(errs, o.Log.Validate()...)
	}

	owners := make(map[string]string, len(o.Tenants))
	for _, t := range o.Tenants {
		if prev, ok := owners[t.OwnerToken]; ok {
			errs = append(errs, fmt.Errorf("tenants %q and %q share an owner token", prev, t.Name))
		}
		owners[t.OwnerToken] = t.Name
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds the auth server configuration.
func (o *AuthServerOptions) Config() (*authserver.Config, error) {
	storeConfig := store.DefaultConfig()
	if o.StoreType == string(store.TypeRedis) {
		redisConfig := store.DefaultRedisConfig()
		redisConfig.Addr = o.Redis.Addr
		redisConfig.Password = o.Redis.Password
		redisConfig.DB = o.Redis.DB
		storeConfig = store.NewRedisConfig(redisConfig)
	}

	return &authserver.Config{
		Addr:            o.Addr,
		SigningKey:      o.SigningKey,
		TokenTTL:        o.TokenTTL,
		RenewGrace:      o.RenewGrace,
		Tenants:         o.Tenants,
		Store:           storeConfig,
		AllowedOrigins:  o.AllowedOrigins,
		CleanupInterval: o.CleanupInterval,
	}, nil
}
