package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/netlaunch/internal/api/http"
	"github.com/GriffinCanCode/netlaunch/internal/cache"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/server"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/launcher"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/trust"
)

// exitError carries the status passed to exit by the exit class.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

func main() {
	if err := run(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "netlaunch: %s\n", errs.Chain(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(fs)
			return nil
		}
		printHelp(fs)
		return err
	}
	if opts.help {
		printHelp(fs)
		return nil
	}

	if opts.deployment != "" {
		if err := os.Setenv(config.EnvPrefix+"_DEPLOYMENT_FILE", opts.deployment); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheSvc, err := cache.NewHTTPService(cfg.Cache, logger, metrics)
	if err != nil {
		return err
	}
	if opts.listCache || opts.clearCache {
		return maintainCache(ctx, cacheSvc, opts, os.Stdout)
	}

	tp, err := trust.NewStoreProvider(ctx, cfg.Trust, logger)
	if err != nil {
		return err
	}
	if err := cacheSvc.Client().ConfigureTransport(trust.TLSConfig(tp), tp.ProxySelector().Proxy); err != nil {
		return err
	}

	// The queue publishes through the runtime's event bus, which exists
	// only once the runtime does.
	var events *launcher.Events
	var queue *prompt.Queue
	answerer := newAnswerer(cfg, func(req prompt.Request) {
		if events != nil {
			events.Publish(launcher.Event{Type: launcher.EventPrompt, Detail: map[string]string{
				"id": req.ID, "kind": string(req.Kind), "title": req.Title,
			}})
		}
	})
	if q, ok := answerer.(*prompt.Queue); ok {
		queue = q
	}
	prompts := prompt.NewDispatcher(answerer, logger, metrics)
	defer prompts.Close()

	tracer := tracing.New("netlaunch", logger)
	defer tracer.Close()

	rt := launcher.NewRuntimeContext(cfg, cacheSvc, tp, prompts, logger, metrics)
	rt.Tracer = tracer
	events = rt.Events

	exe, _ := os.Executable()
	exitStatus := make(chan int, 1)
	l, err := launcher.New(rt, launcher.Options{
		Desktop:   instance.ShortcutDesktop{Dir: cfg.Launch.DesktopDir, Exec: exe, Logger: logger},
		ExitClass: opts.exitClass,
		OnExit: func(status int) {
			select {
			case exitStatus <- status:
			default:
			}
			stop()
		},
	})
	if err != nil {
		return err
	}
	defer l.Shutdown()

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(server.Options{
			Config:      cfg.Server,
			Development: cfg.Logging.Development,
			Deps: apihttp.Deps{
				Apps:         l,
				Audit:        l.Security(),
				Certificates: tp,
				Prompts:      promptsOrNil(queue),
			},
			Events:   rt.Events,
			Gatherer: reg,
			Tracer:   tracer,
			Logger:   logger,
			Metrics:  metrics,
		})
		go func() { serverErr <- srv.Run(ctx) }()
	}

	if opts.descriptor != "" {
		if err := launchAndWait(ctx, l, opts, cfg.Server.Enabled); err != nil {
			return err
		}
	}
	if cfg.Server.Enabled {
		if err := <-serverErr; err != nil {
			return fmt.Errorf("control api: %w", err)
		}
	}

	select {
	case status := <-exitStatus:
		if status != 0 {
			return exitError(status)
		}
	default:
	}
	logger.Info("netlaunch exiting", zap.Int("applications", len(l.List())))
	return nil
}

func launchAndWait(ctx context.Context, l *launcher.Launcher, opts *options, serving bool) error {
	d, err := l.Load(ctx, opts.descriptor)
	if err != nil {
		return err
	}
	h, err := l.Launch(ctx, d)
	if err != nil {
		return err
	}
	if opts.status {
		if st, ok := l.Get(h); ok {
			if err := printJSON(os.Stdout, st); err != nil {
				return err
			}
		}
	}
	if serving {
		return nil
	}
	if err := l.Wait(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newAnswerer picks who answers security prompts: a fixed policy, the
// control API queue, or the terminal.
func newAnswerer(cfg *config.Config, notify func(prompt.Request)) prompt.Answerer {
	switch {
	case cfg.Security.TrustAll:
		return prompt.Fixed(prompt.Allow)
	case cfg.Security.TrustNone:
		return prompt.Fixed(prompt.Deny)
	case cfg.Server.Enabled:
		return prompt.NewQueue(notify)
	default:
		return prompt.NewTerminal(os.Stdin, os.Stderr)
	}
}

// promptsOrNil keeps a nil queue from becoming a non-nil interface.
func promptsOrNil(q *prompt.Queue) apihttp.Prompts {
	if q == nil {
		return nil
	}
	return q
}

func maintainCache(ctx context.Context, svc *cache.HTTPService, opts *options, out io.Writer) error {
	if opts.clearCache {
		if err := svc.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	if !opts.listCache {
		return nil
	}
	entries, err := svc.Inventory(ctx)
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}
	if entries == nil {
		entries = []cache.Entry{}
	}
	return printJSON(out, entries)
}

func printJSON(out io.Writer, v any) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `netlaunch launches network-deployed applications.

Usage:
  netlaunch [flags] <descriptor URL or path>
  netlaunch --server
  netlaunch --list-cache | --clear-cache

Flags:
%s`, fs.FlagUsages())
}
