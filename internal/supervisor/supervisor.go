// Package supervisor assembles the gateway's independently restartable
// background services into a suture.Supervisor tree, adapted from
// cartographus/internal/supervisor/tree.go's three-layer shape and
// collapsed to a single layer of peer services: cmd/gatewayd attaches
// the host-link accept loop, the six subscription tier pollers, the
// temperature store's 1Hz fill loop, the config applier, the event
// router, the pending-requests sampler and the HTTP server.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/printbridge/gateway/internal/logging"
)

// TreeConfig tunes suture's failure-backoff behavior, mirrored from
// cartographus's DefaultTreeConfig with the same field names.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig matches suture's own built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5.0
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30.0
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Tree is the gateway's supervisor tree: one root with every service
// attached directly (the gateway has no layered sub-supervisors the way
// cartographus's data/messaging/api split does, since the services are
// peers with no ordering dependency between them).
type Tree struct {
	root *suture.Supervisor
}

// New builds a Tree. logger backs both the gateway's own zerolog
// component log and, bridged via internal/logging.NewSlogLogger and
// sutureslog, suture's own service-lifecycle events.
func New(logger zerolog.Logger, cfg TreeConfig) *Tree {
	cfg = cfg.withDefaults()

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger(logger)}
	spec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	return &Tree{root: suture.New("gateway", spec)}
}

// Add attaches a service to the root supervisor.
func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.root.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a background goroutine, returning a
// channel that receives the terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
