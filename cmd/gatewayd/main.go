// Command gatewayd runs the printer gateway: the host-link Unix socket,
// the request multiplexer, the six-tier subscription engine, and the
// HTTP/WebSocket surface, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/auth"
	"github.com/printbridge/gateway/internal/config"
	"github.com/printbridge/gateway/internal/events"
	"github.com/printbridge/gateway/internal/hostlink"
	"github.com/printbridge/gateway/internal/logging"
	"github.com/printbridge/gateway/internal/multiplexer"
	"github.com/printbridge/gateway/internal/subscription"
	"github.com/printbridge/gateway/internal/supervisor"
	"github.com/printbridge/gateway/internal/surface"
	"github.com/printbridge/gateway/internal/tempstore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliFlags holds the flags spec.md §6 names; defaults match it exactly
// (-a 0.0.0.0, -p 7125, -s /tmp/moonraker, -l /tmp/moonraker.log), with
// -config added for the gateway's own local bootstrap file.
type cliFlags struct {
	Addr       string
	Port       int
	SocketPath string
	LogFile    string
	ConfigPath string
}

// parseFlags registers and parses spec.md §6's CLI flags, returning
// which were explicitly set so the caller can apply the teacher's
// "CLI flags always override file values" rule without the zero value
// of an unset flag masking a config-file value.
func parseFlags(args []string, stderr io.Writer) (cliFlags, map[string]bool, error) {
	fs := flag.NewFlagSet("gatewayd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	flags := cliFlags{}
	fs.StringVar(&flags.Addr, "a", "0.0.0.0", "listen address")
	fs.IntVar(&flags.Port, "p", 7125, "listen port")
	fs.StringVar(&flags.SocketPath, "s", "/tmp/moonraker", "host-link unix socket path")
	fs.StringVar(&flags.LogFile, "l", "/tmp/moonraker.log", "log file path")
	fs.StringVar(&flags.ConfigPath, "config", "", "path to local bootstrap config file (default: ~/.printbridge/gateway.toml)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gatewayd [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return flags, nil, err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	return flags, explicit, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, explicit, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if explicit["a"] || explicit["p"] {
		cfg.Addr = fmt.Sprintf("%s:%d", flags.Addr, flags.Port)
	}
	if explicit["s"] {
		cfg.SocketPath = flags.SocketPath
	}
	if explicit["l"] {
		cfg.LogFile = flags.LogFile
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
		return 1
	}

	if err := runGateway(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("gateway exited with error")
		return 1
	}
	return 0
}

func runGateway(cfg *config.Config, logger zerolog.Logger) error {
	bus := events.New(nil)
	defer bus.Close()

	registry := hostlink.NewRegistry()

	link := hostlink.New(cfg.SocketPath, registry, nil, bus, logging.Component(logger, "hostlink"), hostlink.BreakerConfig{})
	mux := multiplexer.New(multiplexer.Config{}, registry, link, link)
	link.SetRouter(mux)

	temps := tempstore.NewStore()
	engine := subscription.New(subscription.Config{}, mux, temps, nil, logging.Component(logger, "subscription"))

	keys := auth.NewAPIKeyStore(cfg.APIKeyPath)
	if _, err := keys.Load(); err != nil {
		return fmt.Errorf("failed to load api key: %w", err)
	}
	oneshot := auth.NewOneShotTokens()
	gate := &auth.Gate{RequireAuth: true, APIKeys: keys, OneShot: oneshot}

	surfaceCfg := surface.Config{
		FilesRoot:    "/tmp",
		EnableCORS:   false,
		RateLimitRPM: 0,
		ShutdownCmd:  []string{"sudo", "shutdown", "-h", "now"},
		RebootCmd:    []string{"sudo", "reboot"},
		Version:      "dev",
	}
	srf := surface.New(surfaceCfg, registry, mux, gate, keys, oneshot, temps, engine, link, logging.Component(logger, "surface"))
	engine.SetNotifier(srf)

	tree := supervisor.New(logger, supervisor.DefaultTreeConfig())
	tree.Add(supervisor.HostLinkService(link.Run))
	for tier := 1; tier <= 6; tier++ {
		tree.Add(supervisor.TierPollerService(tier, engine.RunTier))
	}
	tree.Add(supervisor.TempStoreFillService(temps.RunFillLoop))
	tree.Add(supervisor.GenericService("config-applier", func(stop <-chan struct{}) error {
		return runConfigApplier(stop, bus, mux, engine, gate, logging.Component(logger, "config-applier"))
	}))
	tree.Add(supervisor.GenericService("event-router", func(stop <-chan struct{}) error {
		return runEventRouter(stop, bus, srf, logging.Component(logger, "event-router"))
	}))
	tree.Add(supervisor.GenericService("pending-requests-sampler", func(stop <-chan struct{}) error {
		runPendingRequestsSampler(stop, mux)
		return nil
	}))

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srf.Router(),
	}
	tree.Add(supervisor.HTTPServerService(httpServer, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logger.Info().Str("addr", cfg.Addr).Str("socket", cfg.SocketPath).Msg("gateway starting")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("supervisor tree error")
		}
	}

	logger.Info().Msg("gateway stopped")
	return nil
}
