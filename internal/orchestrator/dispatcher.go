package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/events"
	"github.com/fyrsmithlabs/taskmaster/internal/logging"
	"github.com/fyrsmithlabs/taskmaster/internal/review"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/store"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/validation"
)

// Redactor scrubs secrets from agent-supplied text before it is persisted.
type Redactor interface {
	Redact(string) string
}

type passthrough struct{}

func (passthrough) Redact(s string) string { return s }

// Dispatcher routes commands to handlers and commits the result.
//
// Commands on one session are serialized; commands on different sessions run
// in parallel. Each command loads the session, mutates a private copy, checks
// invariants and commits through the store, so a rejected command never
// leaves partial state behind.
type Dispatcher struct {
	store     store.Store
	engine    *validation.Engine
	reviews   *review.Controller
	publisher events.Publisher
	redactor  Redactor
	metrics   *Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
	locks     *lockTable
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEngine sets the validation engine.
func WithEngine(e *validation.Engine) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.engine = e
		}
	}
}

// WithReviewController sets the adversarial review controller.
func WithReviewController(c *review.Controller) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.reviews = c
		}
	}
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.publisher = p
		}
	}
}

// WithRedactor sets the secret scrubber applied to agent text.
func WithRedactor(r Redactor) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.redactor = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the instruments. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Dispatcher over st.
func New(st store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		publisher: events.Noop{},
		redactor:  passthrough{},
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		locks:     newLockTable(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.engine == nil {
		d.engine = validation.NewEngine(validation.WithLogger(d.logger.Underlying()))
	}
	if d.reviews == nil {
		d.reviews = review.NewController(review.WithLogger(d.logger.Underlying()), review.WithClock(d.now))
	}
	return d
}

// HandleFlat decodes the wire form and dispatches it.
func (d *Dispatcher) HandleFlat(ctx context.Context, f FlatRequest) *Response {
	if d.logger.Enabled(logging.TraceLevel) {
		// As a byte string so the log scrubber sees it.
		if payload, err := json.Marshal(f); err == nil {
			d.logger.Trace(ctx, "command payload", zap.ByteString("payload", payload))
		}
	}
	req, err := f.Command()
	if err != nil {
		action := Action(strings.ToLower(strings.TrimSpace(f.Action)))
		d.logger.Warn(ctx, "command rejected",
			zap.String("action", string(action)),
			zap.String("code", string(taskerr.CodeOf(err))),
		)
		d.metrics.recordCommand(ctx, action, StatusError, 0, err)
		return errorResponse(action, nil, err)
	}
	return d.Dispatch(ctx, req)
}

// Dispatch runs one command and always returns a response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp *Response) {
	if req.Command == nil {
		return errorResponse("", nil, missing("action"))
	}
	action := req.Command.Action()
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "taskmaster."+string(action),
		trace.WithAttributes(attribute.String("taskmaster.action", string(action))))
	defer span.End()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = taskerr.Internal(fmt.Errorf("panic: %v", r), "command %s failed unexpectedly", action)
			d.logger.Error(ctx, "command panicked",
				zap.String("action", string(action)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			resp = errorResponse(action, nil, err)
		}
		if req.Quiet {
			resp.Guidance = ""
			resp.ToolGuidance = nil
		}
		span.SetAttributes(attribute.String("taskmaster.status", string(resp.Status)))
		if resp.SessionID != "" {
			span.SetAttributes(attribute.String("taskmaster.session_id", resp.SessionID))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(taskerr.CodeOf(err)))
		}
		d.metrics.recordCommand(ctx, action, resp.Status, time.Since(start), err)
	}()

	resp, err = d.dispatch(ctx, req)
	if err != nil {
		d.logger.Info(ctx, "command rejected",
			zap.String("action", string(action)),
			zap.String("code", string(taskerr.CodeOf(err))),
			zap.String("error", err.Error()),
		)
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Response, error) {
	action := req.Command.Action()
	if c, ok := req.Command.(CreateSession); ok {
		return d.createSession(ctx, c)
	}

	id := req.SessionID
	if id == "" {
		latest, err := d.store.Latest(ctx)
		if err != nil {
			return errorResponse(action, nil, err), err
		}
		id = latest.ID
	}
	if err := store.ValidateID(id); err != nil {
		return errorResponse(action, nil, err), err
	}
	ctx = logging.WithSessionID(ctx, id)

	unlock := d.locks.lock(id)
	defer unlock()

	s, err := d.store.Load(ctx, id)
	if err != nil {
		return errorResponse(action, nil, err), err
	}
	if err := admit(s, action); err != nil {
		return errorResponse(action, s, err), err
	}
	if t := s.CurrentTask(); t != nil && logging.ValidID(t.ID) {
		ctx = logging.WithTaskID(ctx, t.ID)
	}

	pristine, err := s.Clone()
	if err != nil {
		err = taskerr.Internal(err, "snapshot session %s", id)
		return errorResponse(action, s, err), err
	}

	out := &outcome{status: StatusSuccess}
	if err := d.apply(ctx, s, req.Command, out); err != nil {
		return errorResponse(action, pristine, err), err
	}
	if action.ReadOnly() {
		return d.respond(s, action, out), nil
	}

	if err := s.CheckInvariants(); err != nil {
		d.logger.Error(ctx, "command would break session invariants",
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return errorResponse(action, pristine, err), err
	}
	if err := d.commit(ctx, s, action, out); err != nil {
		return errorResponse(action, pristine, err), err
	}
	return d.respond(s, action, out), nil
}

// admit rejects commands the session's lifecycle state does not allow.
func admit(s *session.Session, action Action) error {
	switch s.Status {
	case session.StatusCompleted:
		if action != ActionGetStatus {
			return taskerr.SessionError(taskerr.CodeSessionCompleted,
				"session %s is completed", s.ID)
		}
	case session.StatusPaused:
		if !action.AllowedWhilePaused() {
			return taskerr.SessionError(taskerr.CodeSessionPaused,
				"session %s is paused; %s is not allowed until user_response", s.ID, action).
				WithDetail("reason", s.PauseReason)
		}
	}
	return nil
}

func (d *Dispatcher) createSession(ctx context.Context, c CreateSession) (*Response, error) {
	s := session.New(strings.TrimSpace(c.Name), d.now().UTC())
	ctx = logging.WithSessionID(ctx, s.ID)
	out := &outcome{status: StatusSuccess}
	out.say("session %q created", s.Name)

	if err := d.commit(ctx, s, ActionCreateSession, out); err != nil {
		return errorResponse(ActionCreateSession, nil, err), err
	}
	return d.respond(s, ActionCreateSession, out), nil
}

// commit records the command in the history, persists s and announces it.
func (d *Dispatcher) commit(ctx context.Context, s *session.Session, action Action, out *outcome) error {
	now := d.now().UTC()
	s.Record(string(action), string(out.status), out.taskID(), now)
	s.UpdatedAt = now

	if err := d.store.Save(ctx, s); err != nil {
		d.logger.Error(ctx, "failed to persist session",
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return err
	}
	d.logger.Debug(ctx, "session committed",
		zap.String("action", string(action)),
		zap.String("status", string(out.status)),
		zap.Int64("version", s.Version),
	)

	e := events.Event{
		SessionID: s.ID,
		Action:    string(action),
		Status:    string(out.status),
		Version:   s.Version,
		At:        now,
	}
	if out.task != nil {
		e.TaskID = out.task.ID
		e.Phase = string(out.task.CurrentPhase)
	}
	if err := d.publisher.Publish(ctx, e); err != nil {
		d.logger.Warn(ctx, "failed to publish session event",
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
	return nil
}

func (d *Dispatcher) respond(s *session.Session, action Action, out *outcome) *Response {
	resp := &Response{
		Status:      out.status,
		Action:      action,
		SessionID:   s.ID,
		Session:     s,
		CurrentTask: s.CurrentTask(),
		Messages:    out.messages,
		Warnings:    out.warnings,
		Validation:  out.report,
	}
	if resp.Messages == nil {
		resp.Messages = []string{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	if out.notice != nil {
		resp.Error = newErrorBody(out.notice)
	}
	resp.NextAction, resp.Guidance, resp.ToolGuidance = guide(s)
	return resp
}

// outcome accumulates what a handler wants reported.
type outcome struct {
	status   Status
	task     *session.Task
	messages []string
	warnings []string
	report   *validation.Report
	// notice is reported in the error body of an accepted command, such as
	// review exhaustion.
	notice error
}

func (o *outcome) say(format string, args ...any) {
	o.messages = append(o.messages, fmt.Sprintf(format, args...))
}

func (o *outcome) warn(format string, args ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, args...))
}

func (o *outcome) taskID() string {
	if o.task == nil {
		return ""
	}
	return o.task.ID
}
