// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package notify publishes artifact lifecycle events onto a structured
// pubsub hub. Delivery is best effort: a failed publish is logged and
// the API request carries on.
package notify

import (
	"time"

	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/domain/artifact"
)

var logger = loggo.GetLogger("glare.notify")

// TopicPrefix is prepended to the event name to form the hub topic,
// e.g. "artifact.create".
const TopicPrefix = "artifact."

// Event is the payload published for every lifecycle transition.
type Event struct {
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id"`
	TenantID  string         `json:"tenant_id"`
	At        string         `json:"at"`
	TypeName  string         `json:"type_name"`
	Artifact  map[string]any `json:"artifact"`
}

// Notifier emits artifact events. The zero value is not usable; use
// NewNotifier.
type Notifier struct {
	hub *pubsub.StructuredHub
}

// NewNotifier returns a Notifier publishing on hub.
func NewNotifier(hub *pubsub.StructuredHub) *Notifier {
	return &Notifier{hub: hub}
}

// NewHub returns a structured hub configured for artifact events.
func NewHub() *pubsub.StructuredHub {
	return pubsub.NewStructuredHub(&pubsub.StructuredHubConfig{
		Logger: loggo.GetLogger("glare.notify.hub"),
	})
}

// Emit publishes one event. snapshot is the rendered artifact as the
// API would show it to its owner.
func (n *Notifier) Emit(who identity.Identity, event string, af *artifact.Artifact, snapshot map[string]any, at time.Time) {
	if n == nil || n.hub == nil {
		return
	}
	payload := Event{
		EventType: event,
		UserID:    who.UserID,
		TenantID:  who.TenantID,
		At:        at.UTC().Format(time.RFC3339Nano),
		TypeName:  af.TypeName,
		Artifact:  snapshot,
	}
	if _, err := n.hub.Publish(TopicPrefix+event, payload); err != nil {
		logger.Errorf("publishing %s event for artifact %q: %v", event, af.ID, err)
	}
}

// Recorder subscribes to every artifact event and keeps them in
// arrival order. It exists for tests.
type Recorder struct {
	unsub  func()
	events chan Event
}

// NewRecorder subscribes a Recorder to hub.
func NewRecorder(hub *pubsub.StructuredHub) (*Recorder, error) {
	r := &Recorder{events: make(chan Event, 64)}
	unsub, err := hub.SubscribeMatch(pubsub.MatchRegexp("artifact[.].*"), func(topic string, ev Event, err error) {
		if err != nil {
			logger.Errorf("decoding event on %q: %v", topic, err)
			return
		}
		r.events <- ev
	})
	if err != nil {
		return nil, err
	}
	r.unsub = unsub
	return r, nil
}

// Events is the stream of recorded events in publish order.
func (r *Recorder) Events() <-chan Event {
	return r.events
}

// Close unsubscribes the recorder.
func (r *Recorder) Close() {
	r.unsub()
}
