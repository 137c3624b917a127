// Copyright © 2024 Stratus
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:               "stratus",
	Short:             "EVM-compatible execution node with leader/follower replication",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// setup resolves configuration before any subcommand runs. Precedence is
// flags over environment variables over the optional TOML file.
func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	}
	if err := configureLogging(); err != nil {
		return err
	}
	log.WithField("command", cmd.CalledAs()).Info("----- Starting stratus -----")
	return nil
}

func configureLogging() error {
	lvl, err := log.ParseLevel(viper.GetString(LOGRUS_LEVEL_TOML))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	log.SetLevel(lvl)
	if lvl > log.InfoLevel {
		log.SetReportCaller(true)
	}

	out, err := logOutput(viper.GetString(LOGRUS_FILE_TOML))
	if err != nil {
		return err
	}
	log.SetOutput(out)
	return nil
}

// logOutput opens the configured log file, defaulting to stdout.
func logOutput(path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return file, nil
}

// bind ties one setting's TOML key, env variable and CLI flag together in a
// single call, so the three names cannot drift apart.
func bind(flags *pflag.FlagSet, tomlKey, env, cli string) {
	viper.BindPFlag(tomlKey, flags.Lookup(cli))
	viper.BindEnv(tomlKey, env)
}

func init() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file location")
	flags.String(LOGRUS_LEVEL_CLI, log.InfoLevel.String(), "log level (trace, debug, info, warn, error, fatal, panic)")
	flags.String(LOGRUS_FILE_CLI, "", "file path for logging")

	bind(flags, LOGRUS_LEVEL_TOML, LOGRUS_LEVEL, LOGRUS_LEVEL_CLI)
	bind(flags, LOGRUS_FILE_TOML, LOGRUS_FILE, LOGRUS_FILE_CLI)
}
