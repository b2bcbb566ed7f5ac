package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
)

// options holds the command line.
type options struct {
	deployment     string
	fork           string
	exitClass      string
	manifestChecks string
	logLevel       string
	trustAll       bool
	trustNone      bool
	noSecurity     bool
	server         bool
	status         bool
	dev            bool
	listCache      bool
	clearCache     bool
	help           bool

	descriptor string
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	var o options
	fs := pflag.NewFlagSet("netlaunch", pflag.ContinueOnError)
	fs.StringVar(&o.deployment, "config", "", "TOML deployment file")
	fs.StringVar(&o.fork, "fork", "", "forking strategy: never, always or if_descriptor_requires")
	fs.StringVar(&o.exitClass, "exit-class", "", "class whose exit shuts the launcher down")
	fs.StringVar(&o.manifestChecks, "manifest-checks", "", "ALL, NONE or a comma list of PERMISSIONS,CODEBASE,TRUSTED,ALAC,ENTRYPOINT")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&o.trustAll, "trust-all", false, "answer every security prompt with allow")
	fs.BoolVar(&o.trustNone, "trust-none", false, "answer every security prompt with deny")
	fs.BoolVar(&o.noSecurity, "no-security", false, "run without the security manager (debugging only)")
	fs.BoolVar(&o.server, "server", false, "serve the control API")
	fs.BoolVar(&o.status, "status", false, "print the application status as JSON after launching")
	fs.BoolVar(&o.dev, "dev", false, "development logging")
	fs.BoolVar(&o.listCache, "list-cache", false, "list cached resources and exit")
	fs.BoolVar(&o.clearCache, "clear-cache", false, "remove every cached resource and exit")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if rest := fs.Args(); len(rest) > 1 {
		return nil, fs, fmt.Errorf("unexpected argument: %s", rest[1])
	} else if len(rest) == 1 {
		o.descriptor = rest[0]
	}
	if o.trustAll && o.trustNone {
		return nil, fs, fmt.Errorf("--trust-all and --trust-none are mutually exclusive")
	}
	if !o.help && !o.listCache && !o.clearCache && !o.server && o.descriptor == "" {
		return nil, fs, fmt.Errorf("no descriptor given")
	}
	return &o, fs, nil
}

// apply overrides cfg with the flags that were set.
func (o *options) apply(cfg *config.Config) error {
	if o.fork != "" {
		cfg.Launch.ForkingStrategy = strings.ToUpper(o.fork)
	}
	if o.manifestChecks != "" {
		cfg.Security.ManifestChecks = o.manifestChecks
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.dev {
		cfg.Logging.Development = true
	}
	if o.trustAll {
		cfg.Security.TrustAll, cfg.Security.TrustNone = true, false
	}
	if o.trustNone {
		cfg.Security.TrustAll, cfg.Security.TrustNone = false, true
	}
	if o.noSecurity {
		cfg.Security.Enabled = false
	}
	if o.server {
		cfg.Server.Enabled = true
	}
	return cfg.Validate()
}
