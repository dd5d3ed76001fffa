package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/moweilong/widgetauth/cmd/widgetauth/app/options"
	"github.com/moweilong/widgetauth/pkg/log"
)

// NewAuthServerCommand creates the auth-server command.
func NewAuthServerCommand() *cobra.Command {
	opts := options.NewAuthServerOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:   "auth-server",
		Short: "Run a local credential server",
		Long: `Run a credential server implementing POST /auth/widget-token and
POST /auth/widget-refresh, with GET /api/v1/whoami as a protected resource.

Use it to develop against the agent without the tenant backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadOptions(opts); err != nil {
				return err
			}

			log.Init(opts.Log)
			defer log.Sync()

			return runAuthServer(genericapiserver.SetupSignalContext(), opts)
		},
	}

	bindServerFlags(cmd, opts, &configFile, "WIDGETAUTH_AUTHSERVER", "auth-server.yaml")
	return cmd
}

func runAuthServer(ctx context.Context, opts *options.AuthServerOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	s, err := cfg.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return s.Run(ctx)
}
