// Package server provides the HTTP admin API for threadbridge.
//
// The server is a chi router with request-ID, logging, recovery and CORS
// middleware. It exposes three groups of endpoints:
//
//   - /status and /session/*: list live sessions, inspect one with its
//     recent history, and stop, kill, interrupt, restart or pause it
//   - /event: Server-Sent Events stream of session lifecycle events from
//     the event bus, optionally filtered with ?sessionID=
//   - /thread/* and /post/*: the in-process chat platform, for driving
//     sessions locally without a chat service (post messages, add and
//     remove reactions, read thread history)
//
// Errors are JSON objects of the form {"error":{"code":...,"message":...}}.
package server
