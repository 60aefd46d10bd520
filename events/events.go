// Package events publishes changes of the authorization flags.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/kardianos/oemlock/lockdef"
)

// Event topic constants
const (
	TopicCarrierChanged = "oemlock.carrier.changed"
	TopicDeviceChanged  = "oemlock.device.changed"

	// TopicAll matches every oemlock topic.
	TopicAll = "oemlock.>"
)

// TopicFor returns the change topic of field.
func TopicFor(f lockdef.Field) string {
	if f == lockdef.FieldDevice {
		return TopicDeviceChanged
	}
	return TopicCarrierChanged
}

// FlagChanged is published after a flag was set successfully.
type FlagChanged struct {
	Field   string    `json:"field"`
	Allowed bool      `json:"allowed"`
	Backend string    `json:"backend"`
	At      time.Time `json:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Notify publishes a FlagChanged event. A failure is logged and otherwise
// ignored; it never changes the outcome of the set that caused it.
func Notify(ctx context.Context, pub Publisher, log *slog.Logger, backend string, f lockdef.Field, allowed bool) {
	if pub == nil {
		return
	}
	ev := FlagChanged{
		Field:   f.String(),
		Allowed: allowed,
		Backend: backend,
		At:      time.Now().UTC(),
	}
	if err := pub.Publish(ctx, TopicFor(f), ev); err != nil {
		log.WarnContext(ctx, "publish flag change", "field", ev.Field, "err", err)
	}
}
