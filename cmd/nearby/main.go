package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescp17/nearby/internal/config"
	"github.com/rescp17/nearby/internal/logging"
	"github.com/rescp17/nearby/pkg/discovery"
)

func main() {
	v := config.New()
	cmd := newRootCmd(v)
	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "Find peers on the local network and exchange messages with them",
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./nearby.yaml or $XDG_CONFIG_HOME/nearby/nearby.yaml)")
	flags.String("service", config.DefaultService, "Application service name shared by all peers")
	flags.String("name", "", "Display name announced to peers (default host name)")
	flags.String("listen", ":0", "Address of the local signaling endpoint")
	flags.Int("max-peers", 8, "Maximum number of peers to connect to automatically")
	flags.Bool("auto-connect", true, "Invite discovered peers into the session")
	flags.String("log-file", config.DefaultLogFile, "File to write logs to")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")

	for key, flag := range map[string]string{
		config.KeyService:     "service",
		config.KeyName:        "name",
		config.KeyListen:      "listen",
		config.KeyMaxPeers:    "max-peers",
		config.KeyAutoConnect: "auto-connect",
		config.KeyLogFile:     "log-file",
		config.KeyLogLevel:    "log-level",
	} {
		// Flag names are fixed above, so binding cannot fail.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	load := func() (*config.Config, *slog.Logger, io.Closer, error) {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, nil, nil, err
		}
		logger, closer, err := logging.Setup(cfg.LogFile, cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, err
		}
		return cfg, logger, closer, nil
	}

	cmd.AddCommand(newDescriptorCmd())
	cmd.AddCommand(newChatCmd(load))
	cmd.AddCommand(newWatchCmd(load))
	return cmd
}

// loader resolves the configuration and installs logging for a subcommand.
type loader func() (*config.Config, *slog.Logger, io.Closer, error)

func closeLog(c io.Closer) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

func newDescriptorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor <service-name>",
		Short: "Print the discovery descriptor derived from a service name",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := discovery.FormatServiceDescriptor(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", d, d.BrowseName())
		},
	}
}
