// Package logging provides structured logging on zap with OpenTelemetry
// correlation.
//
// Logger methods take a context and prepend the trace, session, task and
// request ids it carries:
//
//	ctx = logging.WithSessionID(ctx, s.ID)
//	logger.Info(ctx, "task completed", zap.String("task.id", t.ID))
//
// produces
//
//	{"level":"info","ts":"2026-03-01T10:15:30Z","msg":"task completed",
//	 "service":"taskmaster","trace_id":"…","session.id":"3f0e9b1d-…","task.id":"6f1c…"}
//
// When taskmaster serves MCP over stdio, set Output.Stderr so log lines never
// interleave with protocol frames on stdout.
//
// The console encoder hides values of RedactKeys and passes every other string
// through Config.Scrubber, so agent-supplied evidence that reaches a log line
// is scrubbed the same way it is before it is persisted. Entries below Error
// are sampled; errors never are.
//
// Tests use NewTestLogger and its Assert helpers.
package logging
