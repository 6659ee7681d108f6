// Package orchestrator dispatches commands against task sessions.
//
// # Overview
//
// Every interaction with taskmaster is one Command: a member of a closed set
// of typed payloads, each naming an Action. Transports decode a FlatRequest,
// convert it with FlatRequest.Command, and hand the result to
// Dispatcher.Dispatch, which always answers with a Response envelope.
//
// # Command lifecycle
//
// Each command runs to completion under a per-session lock:
//
//	resolve → load → check → mutate → verify → persist → publish → respond
//
// The session is loaded fresh from the store for every command, so a failed
// commit leaves nothing behind in memory. Commits carry the version the
// session was loaded at; the store rejects stale commits with STALE_SESSION.
//
// # Task lifecycle
//
// Tasks move through three phases while in progress:
//
//	pending → planning → execution → validation → completed
//	                                      ↘ blocked (validation_error, exhausted review)
//
// execute_next advances the phase pointer. Entering execution re-checks the
// task's tool assignments against declared capabilities. Leaving execution
// runs the adversarial review loop when the task requires one. execute_next
// never leaves validation; only a passing validate_task does.
//
// # Errors
//
// Handlers return taskerr errors naming the unmet precondition. The
// dispatcher turns every error, and every recovered panic, into a Response
// with status "error".
package orchestrator
