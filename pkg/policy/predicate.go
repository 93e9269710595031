package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/polis-signals/pkg/domain"
)

// Mode decides what happens to an event when evaluation fails.
type Mode string

const (
	// ModeFailOpen keeps the event when the policy errors.
	ModeFailOpen Mode = "fail-open"
	// ModeFailClosed drops the event when the policy errors.
	ModeFailClosed Mode = "fail-closed"
)

const (
	defaultQuery   = "data.signals.filter.keep"
	defaultTimeout = 50 * time.Millisecond
)

// Options control predicate construction.
type Options struct {
	// Module is a single Rego module. It is merged with Modules under the name
	// "inline.rego".
	Module string
	// Modules maps file names to Rego sources.
	Modules map[string]string
	// Query is the decision path, e.g. "data.signals.filter.keep".
	Query string
	// Mode selects the posture on evaluation errors. Defaults to fail-open.
	Mode Mode
	// Timeout bounds a single evaluation.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Predicate is a prepared Rego query over telemetry events.
type Predicate struct {
	query    string
	prepared rego.PreparedEvalQuery
	mode     Mode
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPredicate parses and compiles the modules in opts and prepares the query.
func NewPredicate(ctx context.Context, opts Options) (*Predicate, error) {
	modules := make(map[string]string, len(opts.Modules)+1)
	for name, src := range opts.Modules {
		modules[name] = src
	}
	if strings.TrimSpace(opts.Module) != "" {
		modules["inline.rego"] = opts.Module
	}
	if len(modules) == 0 {
		return nil, errors.New("policy predicate requires at least one rego module")
	}

	mode, err := parseMode(opts.Mode)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		query = defaultQuery
	}
	if !strings.HasPrefix(query, "data.") {
		query = "data." + strings.ReplaceAll(strings.Trim(query, "/"), "/", ".")
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query(query))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Predicate{
		query:    query,
		prepared: prepared,
		mode:     mode,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Evaluate runs the query against event and uc. An undefined result keeps the
// event; a non-boolean result is an error.
func (p *Predicate) Evaluate(ctx context.Context, event domain.TelemetryEvent, uc domain.UserContext) (bool, error) {
	results, err := p.prepared.Eval(ctx, rego.EvalInput(Input(event, uc)))
	if err != nil {
		return false, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return true, nil
	}
	keep, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("opa decision: %s must be boolean, got %T", p.query, results[0].Expressions[0].Value)
	}
	return keep, nil
}

// Func adapts the predicate to the filter engine. Errors are logged and resolved
// by the configured mode.
func (p *Predicate) Func() domain.Predicate {
	return func(event domain.TelemetryEvent, uc domain.UserContext) bool {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		keep, err := p.Evaluate(ctx, event, uc)
		if err != nil {
			p.logger.Warn("rego filter evaluation failed",
				slog.String("query", p.query),
				slog.String("event", event.Name),
				slog.String("mode", string(p.mode)),
				slog.Any("error", err))
			return p.mode == ModeFailOpen
		}
		return keep
	}
}

// Input builds the document a module sees as `input`.
func Input(event domain.TelemetryEvent, uc domain.UserContext) map[string]any {
	ev := map[string]any{
		"id":         event.ID,
		"domain":     event.Domain,
		"type":       string(event.Type),
		"name":       event.Name,
		"severity":   string(event.Severity),
		"url":        event.URL(),
		"attributes": cloneAnyMap(event.Attributes),
		"business": map[string]any{
			"domain":      event.Business.Domain,
			"feature":     event.Business.Feature,
			"userJourney": event.Business.UserJourney,
			"impact":      string(event.Business.Impact),
		},
	}
	if !event.Timestamp.IsZero() {
		ev["timestamp"] = event.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	return map[string]any{
		"event": ev,
		"user": map[string]any{
			"sessionId":        uc.SessionID,
			"userId":           uc.UserID,
			"segment":          uc.UserSegment,
			"authenticated":    uc.IsAuthenticated,
			"deviceType":       string(uc.DeviceType),
			"customAttributes": cloneAnyMap(uc.CustomAttributes),
		},
	}
}

func parseMode(m Mode) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(string(m)))) {
	case "", ModeFailOpen:
		return ModeFailOpen, nil
	case ModeFailClosed:
		return ModeFailClosed, nil
	default:
		return "", fmt.Errorf("unsupported policy mode %q", m)
	}
}

func cloneAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
