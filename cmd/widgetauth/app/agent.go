package app

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/moweilong/widgetauth/cmd/widgetauth/app/options"
	"github.com/moweilong/widgetauth/internal/agent"
	"github.com/moweilong/widgetauth/pkg/log"
)

// NewAgentCommand creates the agent command.
func NewAgentCommand() *cobra.Command {
	opts := options.NewAgentOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the token agent",
		Long: `Run the token agent.

The agent holds one token manager per tenant and serves:

  GET    /v1/tenants                   tenant states
  GET    /v1/tenants/NAME/token        the tenant's widget token
  DELETE /v1/tenants/NAME              destroy the tenant's manager
  ANY    /v1/tenants/NAME/proxy/PATH   forward to the tenant API with its token
  GET    /v1/events?tenant=NAME        widget-token events as Server-Sent Events

Tenants come from the config file or --tenant. Tenant changes in the config
file are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadOptions(opts); err != nil {
				return err
			}

			log.Init(opts.Log)
			defer log.Sync()

			return runAgent(genericapiserver.SetupSignalContext(), opts)
		},
	}

	bindServerFlags(cmd, opts, &configFile, "WIDGETAUTH_AGENT", "agent.yaml")
	return cmd
}

func runAgent(ctx context.Context, opts *options.AgentOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := cfg.New()
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadAgent(a, opts, e)
		})
		viper.WatchConfig()
	}

	return a.Run(ctx)
}

// reloadAgent applies the tenants and log options of a changed config file.
// An invalid file is logged and ignored.
func reloadAgent(a *agent.Agent, opts *options.AgentOptions, e fsnotify.Event) {
	reloaded, err := opts.Reload(func(o any) error { return viper.Unmarshal(o) })
	if err != nil {
		log.Errorw(err, "Ignoring invalid configuration change", "file", e.Name)
		return
	}

	log.Init(reloaded.Log)
	a.UpdateTenants(reloaded.Tenants)
	log.Infow("Configuration reloaded", "file", e.Name, "op", e.Op.String(), "tenants", len(reloaded.Tenants))
}
