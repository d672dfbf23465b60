// Package events is the gateway's in-process event bus, decoupling the
// host-link's inbound dispatch from its consumers (cmd/gatewayd's event
// router and config applier). It is grounded in spirit on the teacher's
// Server.runBroadcaster (internal/server/server_broadcast.go: per-client
// non-blocking send, drop-on-full) but moves the fan-out behind a
// publish/subscribe bus instead of a direct method call, so
// internal/hostlink does not import the packages that consume its
// notifications. Backed by watermill's
// gochannel implementation — no broker, since nothing here crosses a
// process boundary.
package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic names, one per notification kind spec.md §4.2/§4.5 names.
const (
	TopicGcodeResponse     = "gcode_response"
	TopicFilelistChange    = "filelist_change"
	TopicStatusUpdate      = "status_update"
	TopicKlippyStateChange = "klippy_state_changed"

	// TopicConfigPushed carries the host's protocol config (spec.md §6:
	// require_auth, trusted_clients, tick_time, ...) whenever the host
	// pushes it after connect. cmd/gatewayd subscribes to apply it to the
	// multiplexer, subscription engine, and auth gate.
	TopicConfigPushed = "config_pushed"
)

// Bus wraps a watermill gochannel pub/sub with the gateway's publish
// conventions.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates a Bus. Each subscription gets its own buffered channel
// (watermill's default gochannel behavior); a slow subscriber blocks its
// own channel only, matching the "slow consumer does not block others"
// requirement at the bus layer (internal/surface enforces the
// connection-local send-timeout-then-close rule on top of this).
func New(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
		}, logger),
	}
}

// Publish sends payload on topic. Errors are programmer errors (bad
// topic, closed bus) and are returned rather than swallowed so callers
// can log them with context.
func (b *Bus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of messages for topic. The caller must
// Ack() or Nack() each message (watermill's contract); cmd/gatewayd's
// event router and config applier always Ack immediately since there is
// no redelivery semantics to honor in-process.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts down the underlying pub/sub, closing all subscriber
// channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
