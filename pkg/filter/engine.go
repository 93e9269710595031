package filter

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/probe"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// Rule names reported in decisions and pipeline metrics.
const (
	RuleSeverityOverride = "severity_override"
	RuleBotSession       = "bot_session"
	RuleDomainWhitelist  = "domain_whitelist"
	RuleNoiseURL         = "noise_url"
	RuleBrowserExtension = "browser_extension"
	RuleThirdPartyError  = "third_party_error"
	RuleCustomFilter     = "custom_filter"
	RuleSampling         = "sampling"
	RuleDefault          = "default"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted bool
	Rule     string
}

// Engine is the admission engine. It is safe for concurrent use; configuration is
// held as an immutable snapshot and replaced wholesale on update.
type Engine struct {
	cfg    atomic.Pointer[domain.FilterConfig]
	env    probe.Environment
	random func() float64
	logger *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithRandom replaces the uniform [0,1) source used for sampling.
func WithRandom(fn func() float64) Option {
	return func(e *Engine) {
		if fn != nil {
			e.random = fn
		}
	}
}

// WithLogger sets the logger used for predicate failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an engine for cfg. env may be nil when no client environment is
// available; the session is then never classified as real.
func New(cfg domain.FilterConfig, env probe.Environment, opts ...Option) *Engine {
	e := &Engine{
		env:    env,
		random: rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	normalized := cfg.Normalized()
	e.cfg.Store(&normalized)
	return e
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() domain.FilterConfig {
	return *e.cfg.Load()
}

// ShouldProcess reports whether event is admitted for the given user context.
func (e *Engine) ShouldProcess(event domain.TelemetryEvent, uc domain.UserContext) bool {
	return e.Decide(context.Background(), event, uc).Admitted
}

// Decide runs the admission rules in order and reports which rule decided.
func (e *Engine) Decide(ctx context.Context, event domain.TelemetryEvent, uc domain.UserContext) Decision {
	d := e.decide(event, uc)
	telemetry.RecordFilterDecision(ctx, telemetry.FilterDecision{
		Domain:    event.Domain,
		EventType: event.Type,
		Rule:      d.Rule,
		Admitted:  d.Admitted,
	})
	return d
}

func (e *Engine) decide(event domain.TelemetryEvent, uc domain.UserContext) Decision {
	if event.Severity.Overrides() {
		return Decision{Admitted: true, Rule: RuleSeverityOverride}
	}

	cfg := e.cfg.Load()

	if cfg.EnableBotDetection && e.isBotSession() {
		return Decision{Rule: RuleBotSession}
	}

	pageHost := e.hostname()
	if len(cfg.DomainWhitelist) > 0 && pageHost != "" && !whitelisted(cfg.DomainWhitelist, pageHost) {
		return Decision{Rule: RuleDomainWhitelist}
	}

	eventURL := event.URL()
	if matchesAny(noiseURLPatterns, eventURL) {
		return Decision{Rule: RuleNoiseURL}
	}

	if cfg.ExcludeExtensions && (matchesAny(extensionPatterns, eventURL) || matchesAny(extensionPatterns, event.Stack())) {
		return Decision{Rule: RuleBrowserExtension}
	}

	if cfg.ExcludeThirdPartyErrors && event.Type == domain.EventError && isThirdParty(event, pageHost, cfg.DomainWhitelist) {
		return Decision{Rule: RuleThirdPartyError}
	}

	for i, predicate := range cfg.CustomFilters {
		if !e.runPredicate(i, predicate, event, uc) {
			return Decision{Rule: RuleCustomFilter}
		}
	}

	if e.random() >= cfg.SamplingRate {
		return Decision{Rule: RuleSampling}
	}

	return Decision{Admitted: true, Rule: RuleDefault}
}

// runPredicate isolates the engine from panicking predicates. A panic counts as
// "no signal" and the event proceeds.
func (e *Engine) runPredicate(index int, predicate domain.Predicate, event domain.TelemetryEvent, uc domain.UserContext) (keep bool) {
	if predicate == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("custom filter panicked",
				slog.Int("filter_index", index),
				slog.String("event", event.Name),
				slog.Any("panic", r))
			keep = true
		}
	}()
	return predicate(event, uc)
}

// IsRealUserSession reports whether the current client environment belongs to a
// real user. Without an environment it returns false; otherwise any bot signal
// makes it false and the default is true.
func (e *Engine) IsRealUserSession() bool {
	if e.env == nil {
		return false
	}
	return !e.isBotSession()
}

// BotSignals lists the bot signals currently observed, for diagnostics.
func (e *Engine) BotSignals() []string {
	return DetectBotSignals(e.env)
}

func (e *Engine) isBotSession() bool {
	return len(DetectBotSignals(e.env)) > 0
}

func (e *Engine) hostname() string {
	if e.env == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(e.env.Hostname()))
}

// AddCustomFilter appends a predicate to the live configuration.
func (e *Engine) AddCustomFilter(p domain.Predicate) {
	if p == nil {
		return
	}
	for {
		current := e.cfg.Load()
		next := *current
		next.CustomFilters = append(slices.Clone(current.CustomFilters), p)
		if e.cfg.CompareAndSwap(current, &next) {
			return
		}
	}
}

// UpdateConfig shallow-merges u into the live configuration. Pattern tables are
// static, so nothing else needs recomputing.
func (e *Engine) UpdateConfig(u domain.FilterConfigUpdate) {
	for {
		current := e.cfg.Load()
		next := current.Apply(u)
		if e.cfg.CompareAndSwap(current, &next) {
			return
		}
	}
}

// ConfigView is the redacted configuration exposed in Stats.
type ConfigView struct {
	EnableBotDetection      bool     `json:"enableBotDetection"`
	DomainWhitelist         []string `json:"domainWhitelist,omitempty"`
	ExcludeExtensions       bool     `json:"excludeExtensions"`
	ExcludeThirdPartyErrors bool     `json:"excludeThirdPartyErrors"`
	CustomFilters           int      `json:"customFilters"`
}

// Stats summarises the engine for diagnostics.
type Stats struct {
	BotPatterns        int        `json:"botPatterns"`
	HeadlessPatterns   int        `json:"headlessPatterns"`
	AutomationPatterns int        `json:"automationPatterns"`
	NoisePatterns      int        `json:"noisePatterns"`
	ExtensionPatterns  int        `json:"extensionPatterns"`
	SamplingRate       float64    `json:"samplingRate"`
	Config             ConfigView `json:"config"`
}

// Stats returns pattern counts, the effective sampling rate and a config view.
func (e *Engine) Stats() Stats {
	cfg := e.cfg.Load()
	return Stats{
		BotPatterns:        len(botUserAgentSubstrings),
		HeadlessPatterns:   len(headlessGlobals),
		AutomationPatterns: len(automationGlobals),
		NoisePatterns:      len(noiseURLPatterns),
		ExtensionPatterns:  len(extensionPatterns),
		SamplingRate:       cfg.SamplingRate,
		Config: ConfigView{
			EnableBotDetection:      cfg.EnableBotDetection,
			DomainWhitelist:         slices.Clone(cfg.DomainWhitelist),
			ExcludeExtensions:       cfg.ExcludeExtensions,
			ExcludeThirdPartyErrors: cfg.ExcludeThirdPartyErrors,
			CustomFilters:           len(cfg.CustomFilters),
		},
	}
}

func whitelisted(list []string, host string) bool {
	for _, allowed := range list {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return true
		}
	}
	return false
}

// isThirdParty reports whether the script that raised an error event was served
// from a host other than the page (and not explicitly allowed).
func isThirdParty(event domain.TelemetryEvent, pageHost string, allowed []string) bool {
	if pageHost == "" {
		return false
	}
	source := event.StringAttr(domain.AttrErrorSource)
	if source == "" {
		source = event.URL()
	}
	u, err := url.Parse(source)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != pageHost && !whitelisted(allowed, host)
}
