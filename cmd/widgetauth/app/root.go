// Package app builds the widgetauth command line.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"

	"github.com/moweilong/widgetauth/pkg/core"
	"github.com/moweilong/widgetauth/pkg/version"
)

// defaultHomeDir is where configuration files are looked up besides the
// working directory.
const defaultHomeDir = ".widgetauth"

// NewWidgetAuthCommand creates the widgetauth root command.
func NewWidgetAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "widgetauth",
		Short: "Widget credential lifecycle manager",
		Long: fmt.Sprintf(`widgetauth keeps short-lived widget tokens fresh for embedded widgets.

It exchanges each tenant's long-lived owner token for widget tokens, refreshes
them ahead of expiry and shares them over HTTP and Server-Sent Events.

Run %s for the token agent, %s for a local credential server.`,
			color.HiCyanString("widgetauth agent"),
			color.HiCyanString("widgetauth auth-server")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			version.PrintAndExitIfRequested()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	version.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		NewAgentCommand(),
		NewAuthServerCommand(),
		NewWatchCommand(),
		NewInspectCommand(),
	)
	return cmd
}

// configured holds what a server command reads from flags, its config file
// and the environment.
type configured interface {
	Flags() cliflag.NamedFlagSets
	Complete() error
	Validate() error
}

// bindServerFlags adds the flag sets of opts and the --config flag to cmd and
// loads the config file before the command runs.
func bindServerFlags(cmd *cobra.Command, opts configured, configFile *string, envPrefix, defaultConfigName string) {
	fss := opts.Flags()
	fss.FlagSet("global").StringVarP(configFile, "config", "c", "", ""+
		"Path to the configuration file. Defaults to "+defaultConfigName+" in ~/"+defaultHomeDir+" or the working directory.")

	fs := cmd.Flags()
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		core.OnInitialize(configFile, envPrefix, searchDirs(), defaultConfigName)()
		return viper.BindPFlags(cmd.Flags())
	}
}

// loadOptions fills opts from viper, then completes and validates them.
func loadOptions(opts configured) error {
	if err := viper.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := opts.Complete(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func searchDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, defaultHomeDir)}, dirs...)
	}
	return dirs
}
