// Package events fans committed engine events out to the consumers that live
// outside the engine: websocket rooms, the Kafka bus, metrics and caches.
package events

import (
	"context"

	"parlay-pool/internal/model"
)

// Publisher matches engine.Publisher so sinks can be composed without
// importing the engine.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Func adapts a plain function to Publisher.
type Func func(ctx context.Context, ev model.Event)

func (f Func) Publish(ctx context.Context, ev model.Event) { f(ctx, ev) }

// Fanout delivers every event to each sink in order. Sinks must not block.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev model.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}
