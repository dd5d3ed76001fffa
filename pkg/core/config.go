package core

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/moweilong/widgetauth/pkg/log"
)

// OnInitialize returns a cobra initializer that loads configFile (or the first
// defaultName found in searchDirs) into viper and binds environment variables
// under envPrefix. A missing config file is not an error.
func OnInitialize(configFile *string, envPrefix string, searchDirs []string, defaultName string) func() {
	return func() {
		if configFile != nil && *configFile != "" {
			viper.SetConfigFile(*configFile)
		} else {
			for _, dir := range searchDirs {
				viper.AddConfigPath(dir)
			}
			viper.SetConfigType("yaml")
			viper.SetConfigName(strings.TrimSuffix(defaultName, filepath.Ext(defaultName)))
		}

		setupEnvironmentVariables(envPrefix)

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
				log.Debugw("No configuration file found, using flags and environment", "prefix", envPrefix)
				return
			}
			log.Warnw("Failed to read configuration file", "file", viper.ConfigFileUsed(), "err", err)
			return
		}
		log.Debugw("Using config file", "file", viper.ConfigFileUsed())
	}
}

// setupEnvironmentVariables maps keys like "redis.addr" to PREFIX_REDIS_ADDR.
func setupEnvironmentVariables(prefix string) {
	viper.AutomaticEnv()
	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}
