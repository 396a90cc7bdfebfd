/*
Package event provides a type-safe pub/sub event bus for the server.

Publishers emit typed events; subscribers receive them over channels
without direct dependencies between components.

# Delivery semantics

Publish is synchronous fan-out: by the time it returns, the event has been
enqueued for every matching subscriber, so each subscriber observes events
in publish order. Every subscription owns a bounded buffer (DefaultBuffer
entries unless overridden); when a subscriber falls behind, its oldest
buffered events are evicted and a single Dropped marker event carrying the
eviction count is delivered before the next regular event. Publishers are
never blocked by slow subscribers.

# Usage

Publishing:

	bus.Publish(event.MessageUpdated, event.MessageUpdatedData{Info: msg})

Subscribing to specific types:

	sub := bus.Subscribe(0, event.SessionUpdated, event.SessionDeleted)
	defer sub.Close()
	for e := range sub.Events() {
		// ...
	}

Subscribing to everything (as the SSE endpoint does):

	sub := bus.SubscribeAll()
	defer sub.Close()

# Integration with watermill

Every event is mirrored into an internal watermill GoChannel, keyed by
event type. PubSub exposes it for middleware, routing, or a future switch
to a distributed broker.
*/
package event
