// Package options holds the command line and configuration file options of
// the widgetauth commands.
package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/moweilong/widgetauth/pkg/gin/validator"
)

var structValidator = validator.NewCustomValidator("validate")

// RedisOptions configures a Redis connection.
type RedisOptions struct {
	Addr     string `json:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db" validate:"gte=0"`
	// Channel is the pub/sub channel of token events. The auth server ignores it.
	Channel string `json:"channel" mapstructure:"channel"`
}

// AddFlags adds the Redis flags under prefix.
func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefix string) {
	fs.StringVar(&o.Addr, prefix+".addr", o.Addr, "Redis `HOST:PORT`. Empty disables Redis.")
	fs.StringVar(&o.Password, prefix+".password", o.Password, "Redis password.")
	fs.IntVar(&o.DB, prefix+".db", o.DB, "Redis database number.")
}

// Enabled reports whether a Redis address is configured.
func (o *RedisOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

// validateStruct runs the validate tags of obj and returns one error per
// failed field.
func validateStruct(obj any) []error {
	if err := structValidator.ValidateStruct(obj); err != nil {
		return []error{err}
	}
	return nil
}

// splitFields splits a comma separated flag value into exactly n trimmed
// fields.
func splitFields(s string, n int) ([]string, error) {
	fields := strings.SplitN(s, ",", n)
	if len(fields) != n {
		return nil, fmt.Errorf("%q: expected %d comma separated fields", s, n)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}
