package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/eventlog"
	"github.com/polisai/polis-signals/pkg/exporter"
	"github.com/polisai/polis-signals/pkg/filter"
	"github.com/polisai/polis-signals/pkg/instrument"
	"github.com/polisai/polis-signals/pkg/probe"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// Well-known domain names used by the shortcut accessors.
const (
	DomainAuthentication = "authentication"
	DomainEcommerce      = "ecommerce"
	DomainContent        = "content"
	DomainPayments       = "payments"
)

const defaultExportTimeout = 10 * time.Second

// State is the lifecycle state of a Coordinator.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	// StateSkipped means Initialize classified the session as automated traffic.
	StateSkipped State = "skipped"
)

// Config is the host-supplied configuration.
type Config struct {
	UserContext      domain.UserContextUpdate
	Domains          []domain.DomainConfig
	Filtering        domain.FilterConfig
	Platforms        []domain.PlatformConfig
	Telemetry        telemetry.Config
	Debug            bool
	EventLogCapacity int
	// ExportTimeout bounds one Export call. Zero means ten seconds.
	ExportTimeout time.Duration
}

// SetupFunc bootstraps the OpenTelemetry SDK.
type SetupFunc func(ctx context.Context, cfg telemetry.Config) (telemetry.ShutdownFunc, error)

// ExporterFactory builds an unconfigured exporter for a platform.
type ExporterFactory func(cfg domain.PlatformConfig, logger *slog.Logger) (domain.Exporter, error)

// Coordinator routes instrumented events through the filter engine to the
// exporters. It is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	env       probe.Environment
	engine    *filter.Engine
	log       *eventlog.Log
	logger    *slog.Logger
	setup     SetupFunc
	factory   ExporterFactory
	prebuilt  []domain.Exporter
	instrOpts []instrument.Option
	filterOpt []filter.Option

	// lifecycle serialises Initialize and Destroy.
	lifecycle sync.Mutex

	mu           sync.RWMutex
	state        State
	uc           domain.UserContext
	instruments  map[string]*instrument.Instrumentor
	exporters    []domain.Exporter
	shutdown     telemetry.ShutdownFunc
	// inflight counts exports of the current generation. Initialize installs
	// a fresh group and Destroy detaches it.
	inflight     *sync.WaitGroup
	processed    atomic.Int64
	dropped      atomic.Int64
	exportErrors atomic.Int64
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithProbe sets the client environment used for session classification, the
// whitelist rule and device inference.
func WithProbe(env probe.Environment) Option {
	return func(c *Coordinator) { c.env = env }
}

// WithExporter registers already configured exporters. They are destroyed with
// the coordinator but never reconfigured.
func WithExporter(exporters ...domain.Exporter) Option {
	return func(c *Coordinator) { c.prebuilt = append(c.prebuilt, exporters...) }
}

// WithExporterFactory replaces exporter.New for Config.Platforms.
func WithExporterFactory(f ExporterFactory) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithExecutor sets the executor of every instrumentor.
func WithExecutor(e instrument.Executor) Option {
	return func(c *Coordinator) { c.instrOpts = append(c.instrOpts, instrument.WithExecutor(e)) }
}

// WithInstrumentOptions passes options to every instrumentor.
func WithInstrumentOptions(opts ...instrument.Option) Option {
	return func(c *Coordinator) { c.instrOpts = append(c.instrOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRandom replaces the sampling source of the filter engine.
func WithRandom(fn func() float64) Option {
	return func(c *Coordinator) { c.filterOpt = append(c.filterOpt, filter.WithRandom(fn)) }
}

// WithSetup replaces telemetry.Setup.
func WithSetup(fn SetupFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.setup = fn
		}
	}
}

// New validates cfg and builds an uninitialized coordinator. The user context
// always gets a session ID, and a device type inferred from the probe's user
// agent when none was supplied.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := domain.ValidateDomains(cfg.Domains); err != nil {
		return nil, err
	}
	for _, p := range cfg.Platforms {
		if p.Type == "" {
			return nil, &domain.ConfigError{Field: "platforms.type", Message: "type is required"}
		}
	}

	c := &Coordinator{
		logger:  slog.Default(),
		setup:   telemetry.Setup,
		factory: exporter.New,
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg.Domains = cloneDomains(cfg.Domains)
	cfg.Platforms = slices.Clone(cfg.Platforms)
	c.cfg = cfg
	c.log = eventlog.New(cfg.EventLogCapacity)
	c.engine = filter.New(cfg.Filtering, c.env, append([]filter.Option{filter.WithLogger(c.logger)}, c.filterOpt...)...)
	c.uc = newUserContext(cfg.UserContext, c.env)
	return c, nil
}

func newUserContext(u domain.UserContextUpdate, env probe.Environment) domain.UserContext {
	uc := domain.UserContext{UserSegment: domain.DefaultUserSegment}.Merge(u)
	if uc.SessionID == "" {
		uc.SessionID = uuid.NewString()
	}
	if uc.UserSegment == "" {
		uc.UserSegment = domain.DefaultUserSegment
	}
	if uc.DeviceType == "" {
		var ua string
		if env != nil {
			ua = env.UserAgent()
		}
		uc.DeviceType = domain.InferDeviceType(ua)
	}
	return uc
}

func cloneDomains(in []domain.DomainConfig) []domain.DomainConfig {
	out := make([]domain.DomainConfig, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}

// Initialize activates instrumentation. Calling it on an initialized
// coordinator only logs a warning. Automated sessions leave the coordinator in
// StateSkipped. Setup and exporter failures are logged and returned.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateInitialized:
		c.mu.Unlock()
		c.logger.Warn("coordinator already initialized")
		return nil
	case StateSkipped:
		c.mu.Unlock()
		c.logger.Debug("coordinator skipped for this session")
		return nil
	}
	c.state = StateInitializing
	c.mu.Unlock()

	if !c.engine.IsRealUserSession() {
		c.setState(StateSkipped)
		c.logger.Info("automated session detected, instrumentation disabled",
			slog.Any("signals", c.engine.BotSignals()))
		return nil
	}

	shutdown, err := c.setup(ctx, c.cfg.Telemetry)
	if err != nil {
		c.setState(StateUninitialized)
		c.logger.Error("telemetry setup failed", slog.Any("error", err))
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	exporters, err := c.buildExporters()
	if err != nil {
		c.setState(StateUninitialized)
		if shutdown != nil {
			_ = shutdown(ctx)
		}
		c.logger.Error("exporter setup failed", slog.Any("error", err))
		return fmt.Errorf("initialize exporters: %w", err)
	}

	c.mu.Lock()
	c.shutdown = shutdown
	c.exporters = exporters
	c.inflight = &sync.WaitGroup{}
	c.instruments = c.buildInstrumentors(c.uc)
	c.state = StateInitialized
	sessionID := c.uc.SessionID
	c.mu.Unlock()

	c.logger.Info("coordinator initialized",
		slog.Any("domains", c.domainNames()),
		slog.Any("exporters", exporterNames(exporters)),
		slog.String("session_id", sessionID))
	return nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) buildExporters() ([]domain.Exporter, error) {
	exporters := slices.Clone(c.prebuilt)
	for _, p := range c.cfg.Platforms {
		exp, err := c.factory(p, c.logger)
		if err == nil {
			err = exp.Configure(p)
		}
		if err != nil {
			destroyAll(context.Background(), exporters[len(c.prebuilt):], c.logger)
			return nil, fmt.Errorf("platform %s: %w", p.DisplayName(), err)
		}
		exporters = append(exporters, exp)
	}
	return exporters, nil
}

func (c *Coordinator) buildInstrumentors(uc domain.UserContext) map[string]*instrument.Instrumentor {
	sink := domain.SinkFunc(c.route)
	opts := append([]instrument.Option{instrument.WithLogger(c.logger)}, c.instrOpts...)
	out := make(map[string]*instrument.Instrumentor, len(c.cfg.Domains))
	for _, d := range c.cfg.Domains {
		out[d.Name] = instrument.New(d, uc, sink, opts...)
	}
	return out
}

// Destroy waits for in-flight exports, destroys the exporters, shuts the SDK
// down and clears the event log. It is safe to call repeatedly.
func (c *Coordinator) Destroy(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	exporters, shutdown, inflight := c.exporters, c.shutdown, c.inflight
	c.state = StateUninitialized
	c.instruments = nil
	c.exporters = nil
	c.shutdown = nil
	c.inflight = nil
	c.mu.Unlock()

	waitErr := waitInflight(ctx, inflight)
	errs := []error{waitErr, destroyAll(ctx, exporters, c.logger)}
	if shutdown != nil {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}

	c.log.Clear()
	c.processed.Store(0)
	c.dropped.Store(0)
	c.exportErrors.Store(0)
	return errors.Join(errs...)
}

func waitInflight(ctx context.Context, inflight *sync.WaitGroup) error {
	if inflight == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight exports: %w", ctx.Err())
	}
}

func destroyAll(ctx context.Context, exporters []domain.Exporter, logger *slog.Logger) error {
	var errs []error
	for _, exp := range exporters {
		d, ok := exp.(domain.Destroyer)
		if !ok {
			continue
		}
		if err := d.Destroy(ctx); err != nil {
			logger.Warn("exporter destroy failed", slog.String("exporter", exp.Name()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("destroy %s: %w", exp.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserContext returns the current user context.
func (c *Coordinator) UserContext() domain.UserContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uc.Clone()
}

// UpdateUserContext merges u into the user context and rebinds every
// instrumentor to the result. Instrumentors obtained earlier keep the old
// snapshot.
func (c *Coordinator) UpdateUserContext(u domain.UserContextUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uc = c.uc.Merge(u)
	if c.instruments != nil {
		c.instruments = c.buildInstrumentors(c.uc)
	}
}

// DomainInstrumentor returns the instrumentor of a configured domain. Unknown
// names yield a *domain.NotFoundError listing the available domains.
func (c *Coordinator) DomainInstrumentor(name string) (*instrument.Instrumentor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateInitialized {
		return nil, fmt.Errorf("domain %q: %w", name, domain.ErrNotInitialized)
	}
	if inst, ok := c.instruments[name]; ok {
		return inst, nil
	}
	available := make([]string, 0, len(c.instruments))
	for n := range c.instruments {
		available = append(available, n)
	}
	slices.Sort(available)
	return nil, &domain.NotFoundError{Kind: "domain", Key: name, Available: available}
}

// Auth returns the "authentication" instrumentor, or "auth" when only that is
// configured.
func (c *Coordinator) Auth() (*instrument.Instrumentor, error) {
	return c.aliased(DomainAuthentication, "auth")
}

// Ecommerce returns the "ecommerce" instrumentor.
func (c *Coordinator) Ecommerce() (*instrument.Instrumentor, error) {
	return c.aliased(DomainEcommerce, "commerce", "shop")
}

// Content returns the "content" instrumentor.
func (c *Coordinator) Content() (*instrument.Instrumentor, error) {
	return c.aliased(DomainContent, "media")
}

// Payments returns the "payments" instrumentor.
func (c *Coordinator) Payments() (*instrument.Instrumentor, error) {
	return c.aliased(DomainPayments, "payment", "billing")
}

func (c *Coordinator) aliased(name string, aliases ...string) (*instrument.Instrumentor, error) {
	inst, err := c.DomainInstrumentor(name)
	if err == nil || !errors.Is(err, domain.ErrDomainNotFound) {
		return inst, err
	}
	for _, alias := range aliases {
		if alt, altErr := c.DomainInstrumentor(alias); altErr == nil {
			return alt, nil
		}
	}
	return nil, err
}

// AddFilter appends a custom predicate to the filter engine.
func (c *Coordinator) AddFilter(p domain.Predicate) {
	c.engine.AddCustomFilter(p)
}

// UpdateFilterConfig merges u into the live filter configuration.
func (c *Coordinator) UpdateFilterConfig(u domain.FilterConfigUpdate) {
	c.engine.UpdateConfig(u)
}

// FilterEngine exposes the admission engine.
func (c *Coordinator) FilterEngine() *filter.Engine {
	return c.engine
}

// Exporter returns the active exporter with the given name.
func (c *Coordinator) Exporter(name string) (domain.Exporter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, exp := range c.exporters {
		if exp.Name() == name {
			return exp, true
		}
	}
	return nil, false
}

// Events returns a snapshot of the admitted events, oldest first.
func (c *Coordinator) Events() []domain.TelemetryEvent {
	return c.log.Events()
}

// Stats is a diagnostic snapshot of the coordinator.
type Stats struct {
	Initialized     bool               `json:"initialized"`
	State           State              `json:"state"`
	Domains         []string           `json:"domains"`
	EventsProcessed int64              `json:"eventsProcessed"`
	EventsDropped   int64              `json:"eventsDropped"`
	ExportFailures  int64              `json:"exportFailures"`
	EventLogSize    int                `json:"eventLogSize"`
	Filter          filter.Stats       `json:"filter"`
	UserContext     domain.UserContext `json:"userContext"`
	Exporters       []string           `json:"exporters"`
}

// Stats aggregates lifecycle, counters, filter statistics and user context.
// Domains are listed in configuration order once initialized.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	state, uc, exporters := c.state, c.uc.Clone(), exporterNames(c.exporters)
	var domains []string
	if c.instruments != nil {
		domains = c.domainNames()
	}
	c.mu.RUnlock()

	if domains == nil {
		domains = []string{}
	}
	return Stats{
		Initialized:     state == StateInitialized,
		State:           state,
		Domains:         domains,
		EventsProcessed: c.processed.Load(),
		EventsDropped:   c.dropped.Load(),
		ExportFailures:  c.exportErrors.Load(),
		EventLogSize:    c.log.Len(),
		Filter:          c.engine.Stats(),
		UserContext:     uc,
		Exporters:       exporters,
	}
}

func (c *Coordinator) domainNames() []string {
	names := make([]string, 0, len(c.cfg.Domains))
	for _, d := range c.cfg.Domains {
		names = append(names, d.Name)
	}
	return names
}

func exporterNames(exporters []domain.Exporter) []string {
	names := make([]string, 0, len(exporters))
	for _, exp := range exporters {
		names = append(names, exp.Name())
	}
	return names
}
