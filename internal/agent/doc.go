// Package agent is the boundary to the AI agent process bound to a session.
//
// A [Process] accepts instructions and produces a stream of
// [types.Operation]s. [CommandSpawner] runs an external command that speaks
// JSON lines: instructions are written to its stdin and operations are read
// from its stdout, one envelope per line:
//
//	{"type":"session","resumeToken":"abc"}
//	{"type":"append_content","data":{"text":"Looking at the tests"}}
//	{"type":"question","data":{"toolUseID":"tu1","questions":[...]}}
//
// The "session" line is a control message carrying the token used to
// resume the conversation after a restart. Lines that fail to decode are
// skipped.
//
// A process that exits without Kill having been called reports
// [ErrProcessLost] from Err.
package agent
