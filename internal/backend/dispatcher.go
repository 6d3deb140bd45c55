package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/ashureev/schoolinfo/internal/query"
	"github.com/google/uuid"
)

// Recorder persists the operational trace of each dispatch.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) error
}

// Trace identifies who triggered a dispatch, for logs and records.
type Trace struct {
	ConversationKey string
	RequestID       string
}

type traceKey struct{}

// ContextWithTrace attaches trace identifiers to ctx.
func ContextWithTrace(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFromContext extracts trace identifiers from ctx.
func TraceFromContext(ctx context.Context) Trace {
	if t, ok := ctx.Value(traceKey{}).(Trace); ok {
		return t
	}
	return Trace{}
}

// answer is the expected shape of a successful reply body.
type answer struct {
	Response *string `json:"response"`
	Error    *string `json:"error"`
}

// Dispatcher sends requests over a Sender and classifies the result.
type Dispatcher struct {
	sender   Sender
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecorder stores a DispatchRecord for every dispatch.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher over sender.
func NewDispatcher(sender Sender, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transport returns the name of the underlying channel.
func (d *Dispatcher) Transport() string {
	return d.sender.Name()
}

// Dispatch performs exactly one exchange and never fails: every failure is
// returned as an Outcome variant. There is no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, req query.Request) (out Outcome) {
	start := d.now()
	defer func() {
		if r := recover(); r != nil {
			out = TransportError(fmt.Sprintf("backend sender panicked: %v", r))
		}
		d.finish(ctx, req, out, d.now().Sub(start))
	}()

	reply, err := d.sender.Send(ctx, req)
	if err != nil {
		return TransportError(err.Error())
	}
	if reply == nil {
		return TransportError("backend sender returned no reply")
	}
	return classifyReply(reply)
}

func classifyReply(reply *Reply) Outcome {
	if !reply.OK {
		return BackendError(diagnostic(reply.Body))
	}

	trimmed := bytes.TrimSpace(reply.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return MalformedOutput(string(reply.Body))
	}

	var a answer
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return MalformedOutput(string(reply.Body))
	}

	switch {
	case a.Response != nil && *a.Response != "":
		return Success(*a.Response)
	case a.Error != nil:
		return BackendError(*a.Error)
	default:
		return BackendError("")
	}
}

// diagnostic extracts the most specific error text from a failed reply:
// a string "detail" field, then a string "error" field, then the raw body.
func diagnostic(body []byte) string {
	var fields struct {
		Detail any `json:"detail"`
		Error  any `json:"error"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		if s, ok := fields.Detail.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
		if s, ok := fields.Error.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return strings.TrimSpace(string(body))
}

func (d *Dispatcher) finish(ctx context.Context, req query.Request, out Outcome, elapsed time.Duration) {
	trace := TraceFromContext(ctx)
	ref := domain.ConversationRef(trace.ConversationKey)
	attrs := []any{
		"transport", d.sender.Name(),
		"query_type", req.Type,
		"outcome", out.Kind.String(),
		"duration_ms", elapsed.Milliseconds(),
		"conversation_ref", ref,
		"request_id", trace.RequestID,
	}

	var diag string
	switch out.Kind {
	case OutcomeSuccess:
		d.logger.Info("Backend dispatch completed", attrs...)
	case OutcomeBackendError:
		diag = out.Text
		d.logger.Warn("Backend declined query", append(attrs, "diagnostic", diag)...)
	case OutcomeTransportError:
		diag = out.Text
		d.logger.Error("Backend channel failed", append(attrs, "error", diag)...)
	case OutcomeMalformedOutput:
		diag = out.Text
		d.logger.Error("Backend reply malformed", append(attrs, "raw", diag)...)
	}

	if d.recorder == nil {
		return
	}
	rec := &domain.DispatchRecord{
		ID:              uuid.NewString(),
		ConversationRef: ref,
		RequestID:       trace.RequestID,
		QueryType:       string(req.Type),
		Transport:       d.sender.Name(),
		Outcome:         out.Kind.String(),
		Diagnostic:      diag,
		Duration:        elapsed,
		CreatedAt:       d.now().UTC(),
	}
	if err := d.recorder.RecordDispatch(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("Failed to record dispatch", "error", err, "outcome", rec.Outcome)
	}
}
