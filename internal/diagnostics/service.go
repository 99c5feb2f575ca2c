package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// Config bounds a diagnostic run.
type Config struct {
	Concurrency  int
	CheckTimeout time.Duration
}

// DefaultConfig returns the default worker pool size and per-check timeout.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		CheckTimeout: 10 * time.Second,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the clock used for report timestamps.
func WithClock(c core.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// Service is an append-only registry of health checks.
type Service struct {
	cfg    Config
	clock  core.Clock
	logger *logging.Logger
	runner *health.Runner

	mu     sync.RWMutex
	checks []health.Check
	index  map[string]int
}

// NewService creates an empty registry.
func NewService(cfg Config, logger *logging.Logger, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Service{
		cfg:    cfg,
		logger: logger.WithComponent("diagnostics"),
		index:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = core.ClockOrReal(s.clock)
	s.runner = health.NewRunner(cfg.CheckTimeout, s.logger)
	return s
}

// Register appends c. Names must be unique.
func (s *Service) Register(c health.Check) error {
	if c == nil {
		return core.ErrValidation(core.CodeInvalidConfig, "check is nil")
	}
	name := c.Name()
	if strings.TrimSpace(name) == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "check name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.index[name]; dup {
		return core.ErrValidation(core.CodeDuplicateCheck,
			fmt.Sprintf("check %q is already registered", name))
	}
	s.index[name] = len(s.checks)
	s.checks = append(s.checks, c)
	return nil
}

// RegisterAll registers each check in order, stopping at the first error.
func (s *Service) RegisterAll(checks ...health.Check) error {
	for _, c := range checks {
		if err := s.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the registered check names in registration order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.checks))
	for i, c := range s.checks {
		names[i] = c.Name()
	}
	return names
}

// Suggest returns registered names that fuzzily match name, best first.
func (s *Service) Suggest(name string) []string {
	matches := fuzzy.Find(name, s.Names())
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// Run executes every registered check and aggregates the results. A
// failing, hanging or panicking check yields an ERROR result for that
// check only.
func (s *Service) Run(ctx context.Context) *Report {
	s.mu.RLock()
	checks := append([]health.Check(nil), s.checks...)
	s.mu.RUnlock()
	return s.run(ctx, checks)
}

// RunChecks executes only the named checks, in registration order. Unknown
// names are rejected with fuzzy suggestions.
func (s *Service) RunChecks(ctx context.Context, names ...string) (*Report, error) {
	if len(names) == 0 {
		return s.Run(ctx), nil
	}

	s.mu.RLock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := s.index[n]; !ok {
			s.mu.RUnlock()
			return nil, s.unknownCheck(n)
		}
		want[n] = true
	}
	selected := make([]health.Check, 0, len(want))
	for _, c := range s.checks {
		if want[c.Name()] {
			selected = append(selected, c)
		}
	}
	s.mu.RUnlock()

	return s.run(ctx, selected), nil
}

func (s *Service) unknownCheck(name string) error {
	err := core.ErrNotFound("check", name)
	if hints := s.Suggest(name); len(hints) > 0 {
		return err.WithRemediation("did you mean " + strings.Join(hints, ", ") + "?")
	}
	return err.WithRemediation("available checks: " + strings.Join(s.Names(), ", "))
}

func (s *Service) run(ctx context.Context, checks []health.Check) *Report {
	started := s.clock.Now()
	results := make([]health.Result, len(checks))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range checks {
		g.Go(func() error {
			log := s.logger.WithCheck(c.Name())
			r := s.runner.Run(ctx, c)
			log.Debug("check finished", "status", r.Status.String(), "message", r.Message)
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	rep := NewReport(results, started)
	s.logger.Info("diagnostics completed",
		"report_id", rep.ID,
		"checks", len(results),
		"overall_status", rep.OverallStatus.String(),
		"duration", s.clock.Now().Sub(started),
		"abandoned", len(s.runner.Abandoned()),
	)
	return rep
}
