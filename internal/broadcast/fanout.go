package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
)

// RelayTopic carries frames between instances sharing one deployment.
const RelayTopic = "chat:fanout"

// Fanout delivers server frames to local connections and, when a bus is
// configured, to the connections of every other instance.
type Fanout struct {
	hub      *hub.Hub
	bus      pubsub.PubSub
	instance string
}

// NewFanout builds a Fanout. bus may be nil for a single instance.
func NewFanout(h *hub.Hub, bus pubsub.PubSub, instanceID string) *Fanout {
	return &Fanout{hub: h, bus: bus, instance: instanceID}
}

// ToRoom pushes frame to every connection in room except those of
// excludeUser and returns the number of local pushes queued.
func (f *Fanout) ToRoom(ctx context.Context, room string, frame *domain.ServerFrame, excludeUser string) int {
	data, ok := encode(ctx, frame)
	if !ok {
		return 0
	}
	n := f.hub.BroadcastRaw(room, data, excludeUser)
	f.relay(ctx, &pubsub.Event{Type: frame.Type, Room: room, Exclude: excludeUser, Payload: data})
	return n
}

// ToUser pushes frame to every connection of userID. excludeConn only
// applies locally; connection ids are not shared between instances.
func (f *Fanout) ToUser(ctx context.Context, userID string, frame *domain.ServerFrame, excludeConn string) int {
	data, ok := encode(ctx, frame)
	if !ok {
		return 0
	}
	n := f.hub.SendToUserRaw(userID, data, excludeConn)
	f.relay(ctx, &pubsub.Event{Type: frame.Type, UserID: userID, Payload: data})
	return n
}

func encode(ctx context.Context, frame *domain.ServerFrame) ([]byte, bool) {
	data, err := json.Marshal(frame)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldEvent, frame.Type).Msg("failed to encode frame")
		return nil, false
	}
	return data, true
}

func (f *Fanout) relay(ctx context.Context, event *pubsub.Event) {
	if f.bus == nil {
		return
	}
	event.Origin = f.instance
	event.Timestamp = time.Now()
	if err := f.bus.Publish(ctx, RelayTopic, event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEvent, event.Type).Msg("relay publish failed")
		return
	}
	metrics.RelayEvents.WithLabelValues("out").Inc()
}

// Run delivers frames relayed by other instances until ctx is done. It
// returns immediately when no bus is configured.
func (f *Fanout) Run(ctx context.Context) error {
	if f.bus == nil {
		return nil
	}

	events, err := f.bus.Subscribe(ctx, RelayTopic)
	if err != nil {
		return err
	}

	l := log.L()
	l.Info().Str("instance", f.instance).Msg("relay subscriber started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			f.deliver(event)
		}
	}
}

func (f *Fanout) deliver(event *pubsub.Event) {
	if event == nil || event.Origin == f.instance {
		return
	}
	metrics.RelayEvents.WithLabelValues("in").Inc()

	switch {
	case event.Room != "":
		f.hub.BroadcastRaw(event.Room, event.Payload, event.Exclude)
	case event.UserID != "":
		f.hub.SendToUserRaw(event.UserID, event.Payload, "")
	}
}
