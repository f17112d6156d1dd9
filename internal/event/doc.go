/*
Package event provides a type-safe, pub/sub event system for threadbridge.

The session manager publishes lifecycle events; the HTTP server streams them
to clients over SSE; the branch watcher publishes branch changes that the
session layer shows in the session header.

# Event Types

Session Events:
  - session.created: session started or resumed
  - session.updated: header status or allow-list changed
  - session.deleted: session ended
  - session.status: lifecycle state changed
  - session.error: agent process lost or a fatal error occurred

VCS Events:
  - vcs.branch.updated: the branch of a watched worktree changed

# Delivery

In-process subscribers get events with their Go types intact:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.SessionStatus, func(e event.Event) {
	    data := e.Data.(event.SessionStatusData)
	    log.Info().Str("to", data.To).Msg("state changed")
	})
	defer unsubscribe()

Publish calls each subscriber in its own goroutine. PublishSync calls them
in the publisher's goroutine, so subscribers must return quickly and must
never publish themselves.

Every event is also published, JSON encoded, on a watermill gochannel topic.
Stream subscribes to it and decodes Data as json.RawMessage, which is what
the SSE endpoint forwards.
*/
package event
