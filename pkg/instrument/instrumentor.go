package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

const tracerName = "github.com/polisai/polis-signals/pkg/instrument"

// Custom metric keys reported in InstrumentationResult.CustomMetrics.
const (
	MetricSLAViolated          = "sla_violated"
	MetricResponseStatus       = "response_status"
	MetricErrorOccurred        = "error_occurred"
	MetricJourneyStepCompleted = "journey_step_completed"
	MetricJourneyStepFailed    = "journey_step_failed"
	MetricStepDurationMS       = "step_duration_ms"
)

// Clock supplies the wall-clock time used to measure operations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Instrumentor wraps the operations of one domain. It is immutable and safe for
// concurrent use.
type Instrumentor struct {
	cfg      domain.DomainConfig
	uc       domain.UserContext
	sink     domain.EventSink
	executor Executor
	clock    Clock
	tracer   trace.Tracer
	logger   *slog.Logger
	newID    func() string
	journeys map[string][]string
}

// Option customises an Instrumentor.
type Option func(*Instrumentor)

// WithExecutor replaces the executor used by InstrumentAPICall.
func WithExecutor(e Executor) Option {
	return func(i *Instrumentor) {
		if e != nil {
			i.executor = e
		}
	}
}

// WithClock replaces the clock used for timestamps and durations.
func WithClock(c Clock) Option {
	return func(i *Instrumentor) {
		if c != nil {
			i.clock = c
		}
	}
}

// WithTracer pins the tracer. By default the global provider is consulted on
// every call.
func WithTracer(t trace.Tracer) Option {
	return func(i *Instrumentor) {
		i.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instrumentor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithIDGenerator replaces the event ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(i *Instrumentor) {
		if fn != nil {
			i.newID = fn
		}
	}
}

// New builds an instrumentor bound to cfg and a snapshot of uc. sink may be nil.
// Without WithExecutor, API calls run on a SimulatedExecutor whose failure rate
// is the domain's error threshold.
func New(cfg domain.DomainConfig, uc domain.UserContext, sink domain.EventSink, opts ...Option) *Instrumentor {
	i := &Instrumentor{
		cfg:      cfg.Clone(),
		uc:       uc.Clone(),
		sink:     sink,
		executor: NewSimulatedExecutor(cfg.ErrorThreshold),
		clock:    systemClock{},
		logger:   slog.Default(),
		newID:    newEventID,
		journeys: journeySteps(cfg.Journeys),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// newEventID returns a time-ordered UUIDv7: a millisecond timestamp followed by
// random bits.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CallOption adds optional context to a single call.
type CallOption func(*callOptions)

type callOptions struct {
	journey string
	feature string
	attrs   map[string]any
}

// WithJourney links the call to a user journey.
func WithJourney(journey string) CallOption {
	return func(o *callOptions) { o.journey = journey }
}

// WithFeature tags the event with a domain feature.
func WithFeature(feature string) CallOption {
	return func(o *callOptions) { o.feature = feature }
}

// WithAttributes adds caller-supplied attributes to the event.
func WithAttributes(attrs map[string]any) CallOption {
	return func(o *callOptions) {
		if o.attrs == nil {
			o.attrs = make(map[string]any, len(attrs))
		}
		maps.Copy(o.attrs, attrs)
	}
}

func collect(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Domain returns the domain name.
func (i *Instrumentor) Domain() string { return i.cfg.Name }

// UserContext returns the captured user context.
func (i *Instrumentor) UserContext() domain.UserContext { return i.uc.Clone() }

// InstrumentAPICall executes the API call through the executor and reports it.
// The returned result carries the error; the method never panics on failure.
func (i *Instrumentor) InstrumentAPICall(ctx context.Context, name, endpoint, method string, opts ...CallOption) domain.InstrumentationResult {
	o := collect(opts)
	eventName := i.cfg.Name + ".api." + name

	ctx, span := i.startSpan(ctx, eventName, trace.SpanKindClient)
	defer span.End()

	call := Call{Name: name, Endpoint: endpoint, Method: strings.ToUpper(method)}
	start := i.clock.Now()
	resp, err := safeExecute(ctx, i.executor, call)
	duration := nonNegative(i.clock.Now().Sub(start))

	attrs := i.baseAttributes(o)
	attrs["api.name"] = name
	attrs["http.method"] = call.Method
	attrs[domain.AttrHTTPURL] = endpoint
	attrs[domain.AttrDurationMS] = duration.Milliseconds()
	if resp.StatusCode != 0 {
		attrs["http.status_code"] = resp.StatusCode
	}

	business := domain.BusinessContext{
		Domain:      i.cfg.Name,
		Feature:     o.feature,
		UserJourney: o.journey,
		Impact:      APIImpact(name),
	}

	if err != nil {
		metrics := map[string]float64{MetricErrorOccurred: 1}
		business.CustomMetrics = metrics
		addErrorAttributes(attrs, err)

		event := i.newEvent(domain.EventError, eventName, attrs, business, domain.SeverityError, start)
		i.finishSpan(span, event, err)
		i.emit(event)
		recordCall(ctx, callOutcome{domain: i.cfg.Name, kind: "api", name: name, duration: duration})

		return domain.InstrumentationResult{Success: false, Duration: duration, Err: err, CustomMetrics: metrics}
	}

	target := i.cfg.SLATarget
	violated := target > 0 && duration > target

	attrs["sla.target_ms"] = target.Milliseconds()
	attrs["sla.violated"] = violated
	severity := domain.SeverityInfo
	metrics := map[string]float64{
		MetricSLAViolated:    0,
		MetricResponseStatus: float64(resp.StatusCode),
	}
	if violated {
		bucket := ViolationSeverity(duration.Seconds() / target.Seconds())
		attrs["sla.violation_severity"] = bucket
		metrics[MetricSLAViolated] = 1
		severity = domain.SeverityWarn
		recordSLAViolation(ctx, i.cfg.Name, name, bucket)
	}
	business.CustomMetrics = metrics

	event := i.newEvent(domain.EventSpan, eventName, attrs, business, severity, start)
	i.finishSpan(span, event, nil)
	i.emit(event)
	recordCall(ctx, callOutcome{domain: i.cfg.Name, kind: "api", name: name, success: true, duration: duration})

	return domain.InstrumentationResult{Success: true, Duration: duration, CustomMetrics: metrics}
}

// InstrumentUserJourney runs one step of a journey. A failing or panicking op
// produces an error event and an unsuccessful result.
func (i *Instrumentor) InstrumentUserJourney(ctx context.Context, journey, step string, op func(context.Context) error, opts ...CallOption) domain.InstrumentationResult {
	o := collect(opts)
	o.journey = journey
	eventName := i.cfg.Name + ".journey." + journey + "." + step

	ctx, span := i.startSpan(ctx, eventName, trace.SpanKindInternal)
	defer span.End()

	start := i.clock.Now()
	err := safeRun(ctx, op)
	duration := nonNegative(i.clock.Now().Sub(start))

	attrs := i.baseAttributes(o)
	attrs["journey.step"] = step
	attrs["journey.step_number"] = stepNumber(i.journeys, journey, step)
	attrs[domain.AttrDurationMS] = duration.Milliseconds()

	business := domain.BusinessContext{
		Domain:      i.cfg.Name,
		Feature:     o.feature,
		UserJourney: journey,
		Impact:      JourneyImpact(journey),
	}

	if err != nil {
		metrics := map[string]float64{MetricJourneyStepFailed: 1}
		business.CustomMetrics = metrics
		addErrorAttributes(attrs, err)

		event := i.newEvent(domain.EventError, eventName, attrs, business, domain.SeverityError, start)
		i.finishSpan(span, event, err)
		i.emit(event)
		recordCall(ctx, callOutcome{domain: i.cfg.Name, kind: "journey", name: journey, duration: duration})

		return domain.InstrumentationResult{Success: false, Duration: duration, Err: err, CustomMetrics: metrics}
	}

	metrics := map[string]float64{
		MetricJourneyStepCompleted: 1,
		MetricStepDurationMS:       float64(duration.Milliseconds()),
	}
	business.CustomMetrics = metrics

	event := i.newEvent(domain.EventSpan, eventName, attrs, business, domain.SeverityInfo, start)
	i.finishSpan(span, event, nil)
	i.emit(event)
	recordCall(ctx, callOutcome{domain: i.cfg.Name, kind: "journey", name: journey, success: true, duration: duration})

	return domain.InstrumentationResult{Success: true, Duration: duration, CustomMetrics: metrics}
}

// RecordBusinessMetric emits a metric event carrying value.
func (i *Instrumentor) RecordBusinessMetric(ctx context.Context, name string, value float64, opts ...CallOption) {
	o := collect(opts)

	attrs := i.baseAttributes(o)
	attrs["metric.name"] = name
	attrs[domain.AttrMetricValue] = value

	event := i.newEvent(domain.EventMetric, i.cfg.Name+".metric."+name, attrs, domain.BusinessContext{
		Domain:        i.cfg.Name,
		Feature:       o.feature,
		UserJourney:   o.journey,
		Impact:        MetricImpact(name),
		CustomMetrics: map[string]float64{name: value},
	}, "", i.clock.Now())

	recordBusinessMetric(ctx, i.cfg.Name, name, value)
	i.emit(event)
}

// TrackError emits an error event for err. A nil err is ignored.
func (i *Instrumentor) TrackError(ctx context.Context, err error, opts ...CallOption) {
	if err == nil {
		return
	}
	o := collect(opts)

	attrs := i.baseAttributes(o)
	addErrorAttributes(attrs, err)

	event := i.newEvent(domain.EventError, i.cfg.Name+".error", attrs, domain.BusinessContext{
		Domain:      i.cfg.Name,
		Feature:     o.feature,
		UserJourney: o.journey,
		Impact:      domain.ImpactReliability,
	}, domain.SeverityError, i.clock.Now())

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(telemetry.BusinessAttributes(event)...))
	}
	i.emit(event)
}

// UserSummary is the part of the user context exposed in Stats.
type UserSummary struct {
	SessionID       string            `json:"sessionId"`
	UserSegment     string            `json:"userSegment"`
	IsAuthenticated bool              `json:"isAuthenticated"`
	DeviceType      domain.DeviceType `json:"deviceType"`
}

// Stats describes the instrumentor for diagnostics.
type Stats struct {
	Domain         string          `json:"domain"`
	Priority       domain.Priority `json:"priority"`
	SLATarget      time.Duration   `json:"slaTarget"`
	ErrorThreshold float64         `json:"errorThreshold"`
	Features       []string        `json:"features"`
	Journeys       []string        `json:"journeys"`
	User           UserSummary     `json:"userContext"`
}

// Stats returns a read-only snapshot of the domain and captured user context.
func (i *Instrumentor) Stats() Stats {
	journeys := make([]string, 0, len(i.journeys))
	for name := range i.journeys {
		journeys = append(journeys, name)
	}
	slices.Sort(journeys)

	return Stats{
		Domain:         i.cfg.Name,
		Priority:       i.cfg.Priority,
		SLATarget:      i.cfg.SLATarget,
		ErrorThreshold: i.cfg.ErrorThreshold,
		Features:       slices.Clone(i.cfg.Features),
		Journeys:       journeys,
		User: UserSummary{
			SessionID:       i.uc.SessionID,
			UserSegment:     i.uc.UserSegment,
			IsAuthenticated: i.uc.IsAuthenticated,
			DeviceType:      i.uc.DeviceType,
		},
	}
}

func (i *Instrumentor) startSpan(ctx context.Context, name string, kind trace.SpanKind) (context.Context, trace.Span) {
	tracer := i.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(kind))
}

func (i *Instrumentor) finishSpan(span trace.Span, event domain.TelemetryEvent, err error) {
	telemetry.AnnotateSpan(span, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (i *Instrumentor) baseAttributes(o callOptions) map[string]any {
	attrs := make(map[string]any, 16+len(o.attrs)+len(i.cfg.CustomAttributes))
	maps.Copy(attrs, i.cfg.CustomAttributes)

	attrs["domain.name"] = i.cfg.Name
	if i.cfg.Priority != "" {
		attrs["domain.priority"] = string(i.cfg.Priority)
	}
	attrs["user.session_id"] = i.uc.SessionID
	attrs["user.segment"] = i.uc.UserSegment
	attrs["user.authenticated"] = i.uc.IsAuthenticated
	if i.uc.DeviceType != "" {
		attrs["user.device_type"] = string(i.uc.DeviceType)
	}
	if i.uc.UserID != "" {
		attrs["user.id"] = i.uc.UserID
	}
	if o.journey != "" {
		attrs["journey.name"] = o.journey
	}
	if o.feature != "" {
		attrs["feature.name"] = o.feature
	}

	maps.Copy(attrs, o.attrs)
	return attrs
}

func (i *Instrumentor) newEvent(typ domain.EventType, name string, attrs map[string]any, business domain.BusinessContext, severity domain.Severity, at time.Time) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		ID:         i.newID(),
		Timestamp:  at.UTC(),
		Domain:     i.cfg.Name,
		Type:       typ,
		Name:       name,
		Attributes: attrs,
		Business:   business,
		Severity:   severity,
	}
}

// emit hands event to the sink. A panicking sink is logged and ignored so the
// instrumented call still returns its result.
func (i *Instrumentor) emit(event domain.TelemetryEvent) {
	if i.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("event sink panicked",
				slog.String("domain", i.cfg.Name),
				slog.String("event", event.Name),
				slog.Any("panic", r))
		}
	}()
	i.sink.OnEvent(event)
}

// PanicError wraps a value recovered from a panicking operation.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

func safeRun(ctx context.Context, op func(context.Context) error) (err error) {
	if op == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return op(ctx)
}

func safeExecute(ctx context.Context, executor Executor, call Call) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return executor.Execute(ctx, call)
}

func addErrorAttributes(attrs map[string]any, err error) {
	attrs[domain.AttrErrorType] = errorType(err)
	attrs[domain.AttrErrorMessage] = err.Error()

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		attrs[domain.AttrErrorStack] = panicErr.Stack
	}
}

func errorType(err error) string {
	var statusErr *HTTPStatusError
	switch {
	case errors.As(err, &statusErr):
		return "HTTPStatusError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case errors.Is(err, context.Canceled):
		return "CanceledError"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
