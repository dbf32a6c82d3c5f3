package engine

import (
	"github.com/google/uuid"

	"github.com/taskforge/engine/internal/events"
)

// EventHandler receives one event delivered to a subscription.
type EventHandler func(events.Event)

// Subscribe registers handler to receive every event whose EventType is
// in kinds (spec §6 subscribe(eventKinds, handler) -> subscriptionId); an
// empty kinds list receives every event. internal/events.Bus has no
// subscription-lifecycle concept of its own (only Subscribe/SubscribeAll/
// Publish/Close), so the engine owns the per-subscription goroutine and
// stop channel here rather than extending Bus for one caller.
func (e *Engine) Subscribe(kinds []string, handler EventHandler) string {
	id := uuid.NewString()
	stop := make(chan struct{})

	e.subsMu.Lock()
	e.subs[id] = stop
	e.subsMu.Unlock()

	var kindSet map[string]struct{}
	if len(kinds) > 0 {
		kindSet = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			kindSet[k] = struct{}{}
		}
	}

	ch := e.bus.SubscribeAll(256)
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if kindSet != nil {
					if _, match := kindSet[ev.EventType()]; !match {
						continue
					}
				}
				handler(ev)
			}
		}
	}()

	return id
}

// Unsubscribe stops delivery to a subscription created by Subscribe
// (spec §6 unsubscribe(subscriptionId)). Unsubscribing an unknown or
// already-removed id is a no-op.
func (e *Engine) Unsubscribe(subscriptionID string) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if stop, ok := e.subs[subscriptionID]; ok {
		close(stop)
		delete(e.subs, subscriptionID)
	}
}
