package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/hw"
	"github.com/rjboer/quadlo/internal/hw/remote"
	"github.com/rjboer/quadlo/internal/logging"
)

type lookupFunc func(string) (string, bool)

// rootOptions holds the global flags. Every flag defaults to its QUADLO_*
// environment variable when set.
type rootOptions struct {
	logLevel   string
	logFormat  string
	backend    string
	addr       string
	ledger     string
	webAddr    string
	configRoot string
	sshHost    string
	sshUser    string
	sshKey     string

	log  logging.Logger
	mock *hw.Mock
}

func newRootCommand(lookup lookupFunc) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "quadlo",
		Short: "Quad-LO pulse instrument controller",
		Long: `quadlo provisions arbitrary waveform generators and digitizers in a
chassis, compiles the synchronized trigger program and runs it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			format, err := logging.ParseFormat(opts.logFormat)
			if err != nil {
				return err
			}
			opts.log = logging.New(level, format, cmd.ErrOrStderr())
			logging.SetDefault(opts.log)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", envString(lookup, "QUADLO_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	pf.StringVar(&opts.logFormat, "log-format", envString(lookup, "QUADLO_LOG_FORMAT", "text"), "log format (text|json)")
	pf.StringVar(&opts.backend, "backend", envString(lookup, "QUADLO_BACKEND", "mock"), "chassis backend (mock|remote)")
	pf.StringVar(&opts.addr, "addr", envString(lookup, "QUADLO_ADDR", "localhost:5025"), "chassis daemon address for the remote backend")
	pf.StringVar(&opts.ledger, "ledger", envString(lookup, "QUADLO_LEDGER", ""), "SQLite run ledger path (empty disables)")
	pf.StringVar(&opts.webAddr, "web-addr", envString(lookup, "QUADLO_WEB_ADDR", ""), "run event web server address (e.g. :8080)")
	pf.StringVar(&opts.configRoot, "config-root", envString(lookup, "QUADLO_CONFIG_ROOT", "."), "directory holding config_default.yaml and config_hist/")
	pf.StringVar(&opts.sshHost, "ssh-host", envString(lookup, "QUADLO_SSH_HOST", ""), "chassis controller for sandbox register fallback")
	pf.StringVar(&opts.sshUser, "ssh-user", envString(lookup, "QUADLO_SSH_USER", "root"), "SSH user for register fallback")
	pf.StringVar(&opts.sshKey, "ssh-key", envString(lookup, "QUADLO_SSH_KEY", ""), "SSH private key for register fallback")

	cmd.AddCommand(
		newRunCommand(opts),
		newCompileCommand(opts),
		newSynthCommand(opts),
		newEncodeCommand(lookup),
		newDiscoverCommand(opts, lookup),
		newRunsCommand(opts),
	)
	return cmd
}

// loadConfig resolves a configuration name ("", "latest", a history number
// or a path) and loads it.
func (o *rootOptions) loadConfig(args []string) (config.Config, string, error) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	path := config.Resolve(o.configRoot, name)
	cfg, err := config.Load(path)
	return cfg, path, err
}

// openChassis connects the selected backend.
func (o *rootOptions) openChassis(ctx context.Context) (hw.Chassis, error) {
	switch o.backend {
	case "mock":
		if o.mock != nil {
			return o.mock, nil
		}
		return hw.NewMock(), nil
	case "remote":
		conn, err := remote.Dial(ctx, o.addr, remote.Options{Logger: o.log})
		if err != nil {
			return nil, err
		}
		var fallback remote.RegisterWriter
		if o.sshHost != "" {
			w, err := remote.NewSSHRegisterWriter(remote.SSHConfig{Host: o.sshHost, User: o.sshUser, KeyPath: o.sshKey})
			if err != nil {
				conn.Close()
				return nil, err
			}
			fallback = w
		}
		return remote.NewChassis(conn, fallback, o.log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (mock|remote)", o.backend)
	}
}

func envString(lookup lookupFunc, key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envFloat(lookup lookupFunc, key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup lookupFunc, key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
