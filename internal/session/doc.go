// Package session binds chat threads to agent processes.
//
// A Session is the unit of isolation: one thread, one agent process, one
// message.Manager sequencing that agent's output into posts. The Manager is
// the registry of live sessions. It enforces the concurrency limit, routes
// inbound messages and reactions to the owning session, runs idle timers and
// the periodic reclamation pass, and persists a resume snapshot when a
// session is paused so the next mention in the thread can pick it up.
//
// # Lifecycle
//
//	starting -> active <-> processing
//	active|processing -> interrupted | paused | restarting | cancelling | ending
//	cancelling -> ending
//
// Every state change goes through Manager.transitionTo, which validates the
// edge and publishes a session.status event. restarting and cancelling mark
// a deliberate teardown so the agent's exit is not mistaken for a crash.
//
// # Commands
//
// Inside a session thread, allowed users can send:
//
//	!stop            end the session
//	!kill            end the session immediately
//	!escape          interrupt the agent's current turn
//	!restart         restart the agent process, resuming its conversation
//	!invite @user    allow a user to talk to the agent
//	!kick @user      revoke a user
//	!help            list commands
package session
