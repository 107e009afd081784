package main

import (
	"github.com/effective-security/mcpagent/config"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "cmd")

type globalFlags struct {
	config  string
	server  string
	verbose bool
	debug   bool
}

func newRootCmd() *cobra.Command {
	flags := new(globalFlags)

	root := &cobra.Command{
		Use:           "mcpagent",
		Short:         "Agent runtime for stdio tool servers",
		Long:          "mcpagent starts a tool server, discovers its tools and lets a model call them",
		Version:       mcp.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := xlog.WARNING
			if flags.debug {
				level = xlog.DEBUG
			}
			xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
			xlog.SetGlobalLogLevel(level)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "mcpagent.yaml", "Config file: yaml, json or toml")
	pf.StringVarP(&flags.server, "server", "s", "", "Tool server name, the first configured server by default")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Print tool inputs and outputs")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logs")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newToolsCmd(flags))
	root.AddCommand(newCallCmd(flags))
	return root
}

// load returns the config and the selected server
func (f *globalFlags) load() (*config.Config, *serverConfig, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, nil, err
	}
	desc, err := cfg.Server(f.server)
	if err != nil {
		return nil, nil, err
	}
	logger.KV(xlog.DEBUG,
		"status", "config_loaded",
		"file", f.config,
		"server", desc.DisplayName(),
	)
	return cfg, &serverConfig{desc: desc, opts: cfg.Session.Options()}, nil
}
