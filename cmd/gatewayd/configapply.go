package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/auth"
	"github.com/printbridge/gateway/internal/events"
	"github.com/printbridge/gateway/internal/hostlink"
	"github.com/printbridge/gateway/internal/multiplexer"
	"github.com/printbridge/gateway/internal/subscription"
)

// runConfigApplier subscribes to events.TopicConfigPushed and applies each
// host-pushed protocol config (spec.md §6) to the multiplexer's timeout
// table, the subscription engine's tier assignment, and the auth gate's
// admission rules, until stop is closed. This is the one place that
// bridges the host-link's wire-level config push to every other package
// that needs a piece of it — none of hostlink, multiplexer, subscription,
// or auth know about each other directly.
func runConfigApplier(stop <-chan struct{}, bus *events.Bus, mux *multiplexer.Multiplexer, engine *subscription.Engine, gate *auth.Gate, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	msgs, err := bus.Subscribe(ctx, events.TopicConfigPushed)
	if err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			applyConfig(msg.Payload, mux, engine, gate, logger)
			msg.Ack()
		}
	}
}

func applyConfig(payload []byte, mux *multiplexer.Multiplexer, engine *subscription.Engine, gate *auth.Gate, logger zerolog.Logger) {
	var cfg hostlink.ProtocolConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		logger.Warn().Err(err).Msg("failed to decode pushed protocol config")
		return
	}

	gate.RequireAuth = cfg.RequireAuth
	if len(cfg.TrustedClients) > 0 {
		subnets, err := auth.NewTrustedSubnets(cfg.TrustedClients)
		if err != nil {
			logger.Warn().Err(err).Msg("rejected trusted_clients from pushed config, keeping previous subnets")
		} else {
			gate.Subnets = subnets
		}
	}

	longRequests := make(map[string]time.Duration, len(cfg.LongRunningRequests))
	for path, seconds := range cfg.LongRunningRequests {
		longRequests[path] = secondsToDuration(seconds)
	}
	longGcodes := make(map[string]time.Duration, len(cfg.LongRunningGcodes))
	for name, seconds := range cfg.LongRunningGcodes {
		longGcodes[strings.ToUpper(name)] = secondsToDuration(seconds)
	}
	mux.SetConfig(multiplexer.Config{
		BaseTimeout:         secondsToDuration(cfg.RequestTimeout),
		GcodeEndpoint:       "/printer/gcode",
		LongRunningRequests: longRequests,
		LongRunningGcodes:   longGcodes,
	})

	var subCfg subscription.Config
	subCfg.TickTime = secondsToDuration(cfg.TickTime)
	subCfg.Tiers = cfg.StatusTiers()
	engine.SetConfig(subCfg)

	logger.Info().
		Bool("require_auth", cfg.RequireAuth).
		Dur("tick_time", subCfg.TickTime).
		Msg("applied pushed protocol config")
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
