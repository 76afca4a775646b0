package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"AgentHost/pkg/logger"
)

// ErrorPrefix starts every reply produced from a failed command.
const ErrorPrefix = "Error processing command: "

const maxLoggedCommand = 256

// Reply is the outcome of one dispatch.
type Reply struct {
	Agent    string        `json:"agent"`
	Text     string        `json:"response"`
	Failed   bool          `json:"failed"`
	Kind     ResultKind    `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Dispatcher sends commands to agents and turns every outcome, including
// errors and panics, into text.
type Dispatcher struct {
	format    Format
	logger    *slog.Logger
	audit     *slog.Logger
	telemetry *telemetry
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFormat selects the serialization used for structured results.
func WithFormat(f Format) DispatcherOption {
	return func(d *Dispatcher) {
		if f != "" {
			d.format = f
		}
	}
}

// WithDispatchLogger overrides the diagnostic logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithAuditLogger overrides the logger dispatch records are written to.
func WithAuditLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.audit = l
		}
	}
}

// NewDispatcher returns a Dispatcher rendering structured results as JSON.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		format:    FormatJSON,
		logger:    logger.Named("agent-dispatch"),
		audit:     logger.Audit(),
		telemetry: newTelemetry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Format returns the structured result format in use.
func (d *Dispatcher) Format() Format { return d.format }

// Dispatch runs command against a and returns the reply text. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, a *Agent, command string) string {
	return d.Run(ctx, a, command).Text
}

// Run is Dispatch with the full outcome. Commands are not retried.
func (d *Dispatcher) Run(ctx context.Context, a *Agent, command string) Reply {
	return d.run(ctx, a, "agent.dispatch", command, func() (any, error) {
		return a.process(a, command)
	})
}

// Status calls the agent's GetStatus hook and normalizes its result. The
// boolean is false when the agent has no GetStatus hook.
func (d *Dispatcher) Status(ctx context.Context, a *Agent) (Reply, bool) {
	if a == nil || a.status == nil {
		return Reply{}, false
	}
	return d.run(ctx, a, "agent.status", SymbolGetStatus, func() (any, error) {
		return a.status(a)
	}), true
}

func (d *Dispatcher) run(ctx context.Context, a *Agent, op, command string, call func() (any, error)) (reply Reply) {
	start := time.Now()
	if a != nil {
		reply.Agent = a.Name()
	}
	ctx, span := d.telemetry.start(ctx, op,
		attribute.String("agent.name", reply.Agent), attribute.Int("command.length", len(command)))
	defer func() {
		reply.Duration = time.Since(start)
		d.telemetry.endDispatch(ctx, span, reply.Agent, reply.Failed, reply.Duration)
		d.record(ctx, op, command, reply)
	}()

	if a == nil {
		return failed(reply, errors.New("no agent selected"))
	}
	value, err := guard(call)
	if err != nil {
		return failed(reply, err)
	}
	kind, text, err := d.render(value)
	if err != nil {
		return failed(reply, err)
	}
	reply.Kind = kind
	reply.Text = text
	return reply
}

func (d *Dispatcher) render(v any) (kind ResultKind, text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render result: panic: %v", r)
		}
	}()
	res := Normalize(v)
	return res.Kind(), res.Render(d.format), nil
}

func guard(call func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return call()
}

func failed(reply Reply, err error) Reply {
	reply.Failed = true
	reply.Kind = KindText
	reply.Text = ErrorPrefix + errorText(err)
	return reply
}

// errorText reads err.Error() without letting a broken implementation escape.
func errorText(err error) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fmt.Sprintf("%T (Error panicked: %v)", err, r)
		}
	}()
	return err.Error()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func (d *Dispatcher) record(ctx context.Context, op, command string, reply Reply) {
	command = truncate(command, maxLoggedCommand)
	attrs := []any{
		slog.String("op", op),
		slog.String("agent", reply.Agent),
		slog.String("command", command),
		slog.Bool("failed", reply.Failed),
		slog.Duration("duration", reply.Duration),
	}
	if reply.Failed {
		d.logger.WarnContext(ctx, "agent command failed", append(attrs, slog.String("reply", reply.Text))...)
	}
	d.audit.InfoContext(ctx, "agent dispatch", attrs...)
}
