package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/events"
)

// notifier is the subset of *surface.Surface the event router needs to
// fan a host-originated event out to every connected WebSocket.
type notifier interface {
	BroadcastNotification(method string, params json.RawMessage)
}

// runEventRouter implements spec.md §4.5's event router: it subscribes
// to every topic internal/hostlink forwards a host-originated frame
// onto and rebroadcasts each as the matching JSON-RPC notification,
// until stop is closed. This is the one place that connects
// internal/hostlink's dispatch to internal/surface's connection hub —
// neither package imports the other.
func runEventRouter(stop <-chan struct{}, bus *events.Bus, n notifier, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	gcodeMsgs, err := bus.Subscribe(ctx, events.TopicGcodeResponse)
	if err != nil {
		return err
	}
	filelistMsgs, err := bus.Subscribe(ctx, events.TopicFilelistChange)
	if err != nil {
		return err
	}
	statusMsgs, err := bus.Subscribe(ctx, events.TopicStatusUpdate)
	if err != nil {
		return err
	}
	klippyMsgs, err := bus.Subscribe(ctx, events.TopicKlippyStateChange)
	if err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil

		case msg, ok := <-gcodeMsgs:
			if !ok {
				return nil
			}
			n.BroadcastNotification("notify_gcode_response", json.RawMessage(msg.Payload))
			msg.Ack()

		case msg, ok := <-filelistMsgs:
			if !ok {
				return nil
			}
			n.BroadcastNotification("notify_filelist_changed", json.RawMessage(msg.Payload))
			msg.Ack()

		case msg, ok := <-statusMsgs:
			if !ok {
				return nil
			}
			n.BroadcastNotification("notify_status_update", json.RawMessage(msg.Payload))
			msg.Ack()

		case msg, ok := <-klippyMsgs:
			if !ok {
				return nil
			}
			state, err := klippyStateParam(msg.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("malformed klippy state change payload")
				msg.Ack()
				continue
			}
			n.BroadcastNotification("notify_klippy_state_changed", state)
			msg.Ack()
		}
	}
}

// klippyStateParam unwraps publishState's {"state": "..."} envelope into
// the bare JSON string notify_klippy_state_changed's single param is,
// per spec.md §8 Scenario 6's notify_klippy_state_changed("ready").
func klippyStateParam(payload []byte) (json.RawMessage, error) {
	var body struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	return json.Marshal(body.State)
}
