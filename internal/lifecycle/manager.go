package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shiftsad/gameserver/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultShutdownTimeout = 30 * time.Second

// Manager owns the modules of a server. It boots them by priority, loads
// dependencies before their dependents and stops everything in reverse load order.
//
// Initialize implementations must not call Load or Start on the manager that
// is loading them; the load lock is not reentrant.
type Manager struct {
	// loadMu serializes Register, Start, Load and Stop.
	loadMu sync.Mutex

	// stateMu guards the fields below for concurrent readers.
	stateMu   sync.RWMutex
	modules   []Module
	byName    map[string]Module
	loaded    map[string]bool
	loadOrder []Module

	shutdownTimeout time.Duration
	metrics         *Metrics
	logger          *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithShutdownTimeout sets the per-module grace period used by Stop.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.shutdownTimeout = timeout
	}
}

// WithMetrics records module load timings into the given metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates an empty manager with a 30-second shutdown timeout.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		byName:          make(map[string]Module),
		loaded:          make(map[string]bool),
		shutdownTimeout: defaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds modules to the manager. Dependencies are not checked here,
// so modules may be registered in any order; Start validates the graph.
func (m *Manager) Register(modules ...Module) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	for _, module := range modules {
		if module == nil {
			return fmt.Errorf("cannot register nil module")
		}

		name := module.Name()
		if name == "" {
			return fmt.Errorf("module must have a non-empty name")
		}

		if _, exists := m.byName[name]; exists {
			return newDependencyError(name, "module %s is already registered", name)
		}

		m.modules = append(m.modules, module)
		m.byName[name] = module

		m.logger.Debug("Registered module %s (priority %s, %d dependencies)",
			name, module.Priority(), len(dependenciesOf(module)))
	}

	return nil
}

// Start validates the dependency graph and loads every module whose priority
// is above None, highest priority first. Each module's dependencies are loaded
// before it regardless of their own priority.
//
// If a module fails to initialize, every module loaded so far is stopped in
// reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if err := m.validate(); err != nil {
		return err
	}

	for _, module := range m.bootOrder() {
		if err := m.load(ctx, module, make(map[string]bool)); err != nil {
			m.logger.Error("Failed to start %s: %v", module.Name(), err)
			m.rollback()
			return err
		}
	}

	m.logger.InfoWithFields("All modules loaded", logging.Field("modules", len(m.Loaded())))
	return nil
}

// Load loads a None-priority module on demand, together with its dependencies.
// Modules with a boot priority are owned by Start, so Load does nothing for them.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	module, ok := m.Lookup(name)
	if !ok {
		return newDependencyError(name, "module %s not found", name)
	}

	if module.Priority() != None {
		m.logger.Debug("Ignoring manual load of %s (priority %s)", name, module.Priority())
		return nil
	}

	return m.load(ctx, module, make(map[string]bool))
}

// bootOrder returns the modules with a priority above None sorted by priority,
// keeping registration order for equal priorities.
func (m *Manager) bootOrder() []Module {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	boot := make([]Module, 0, len(m.modules))
	for _, module := range m.modules {
		if module.Priority() > None {
			boot = append(boot, module)
		}
	}

	sort.SliceStable(boot, func(i, j int) bool {
		return boot[i].Priority() > boot[j].Priority()
	})
	return boot
}

// validate walks the dependency graph of every registered module and reports
// the first missing dependency or cycle.
func (m *Manager) validate() error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	done := make(map[string]bool)
	for _, module := range m.modules {
		if err := m.validateDFS(module, make(map[string]bool), done); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) validateDFS(module Module, resolving, done map[string]bool) error {
	name := module.Name()
	if done[name] {
		return nil
	}
	if resolving[name] {
		return newDependencyError(name, "circular dependency detected involving module: %s", name)
	}

	resolving[name] = true
	for _, depName := range dependenciesOf(module) {
		dep, ok := m.byName[depName]
		if !ok {
			return newDependencyError(name,
				"module %s depends on %s but it's not registered", name, depName)
		}
		if err := m.validateDFS(dep, resolving, done); err != nil {
			return err
		}
	}
	delete(resolving, name)
	done[name] = true
	return nil
}

// load initializes module after its dependencies. Callers hold loadMu.
func (m *Manager) load(ctx context.Context, module Module, resolving map[string]bool) error {
	name := module.Name()
	if m.IsLoaded(name) {
		return nil
	}
	if resolving[name] {
		return newDependencyError(name, "circular dependency detected involving module: %s", name)
	}

	resolving[name] = true
	for _, depName := range dependenciesOf(module) {
		dep, ok := m.Lookup(depName)
		if !ok {
			return newDependencyError(name,
				"module %s depends on %s but it's not registered", name, depName)
		}
		if err := m.load(ctx, dep, resolving); err != nil {
			return err
		}
	}
	delete(resolving, name)

	return m.initialize(ctx, module)
}

func (m *Manager) initialize(ctx context.Context, module Module) error {
	name := module.Name()
	m.logger.Info("Loading module %s", name)

	ctx, span := otel.Tracer("lifecycle").Start(ctx, "module.load")
	span.SetAttributes(
		attribute.String("module.name", name),
		attribute.String("module.priority", module.Priority().String()),
	)
	defer span.End()

	startTime := time.Now()
	if err := module.Initialize(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m.metrics != nil {
			m.metrics.LoadFailures.WithLabelValues(name).Inc()
		}
		return fmt.Errorf("initialization failed for %s: %w", name, err)
	}
	duration := time.Since(startTime)

	m.stateMu.Lock()
	m.loaded[name] = true
	m.loadOrder = append(m.loadOrder, module)
	m.stateMu.Unlock()

	if m.metrics != nil {
		m.metrics.LoadDuration.WithLabelValues(name).Observe(duration.Seconds())
		m.metrics.Loaded.Inc()
	}

	m.logger.Info("Loaded module %s in %d ms", name, duration.Milliseconds())
	return nil
}

// rollback stops the modules loaded during a failed Start. Callers hold loadMu.
func (m *Manager) rollback() {
	for _, module := range m.drainLoaded() {
		m.logger.Debug("Rolling back: stopping %s", module.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := module.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", module.Name(), err)
		}
		cancel()
	}
}

// drainLoaded marks every module as unloaded and returns them in reverse load order.
func (m *Manager) drainLoaded() []Module {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	toStop := make([]Module, 0, len(m.loadOrder))
	for i := len(m.loadOrder) - 1; i >= 0; i-- {
		toStop = append(toStop, m.loadOrder[i])
	}

	m.loadOrder = nil
	m.loaded = make(map[string]bool)
	if m.metrics != nil {
		m.metrics.Loaded.Set(0)
	}
	return toStop
}

// Stop stops every loaded module in reverse load order. Each module gets its
// own deadline of now plus the shutdown timeout. Failures are logged and
// joined into the returned error; they never prevent other modules from stopping.
func (m *Manager) Stop(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.logger.Info("Stopping all modules")

	var errs []error
	for _, module := range m.drainLoaded() {
		name := module.Name()
		m.logger.Info("Stopping %s", name)
		startTime := time.Now()

		moduleCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := module.Stop(moduleCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.logger.Warn("Module %s exceeded grace period (%dms timeout), forcing termination",
					name, m.shutdownTimeout.Milliseconds())
			} else {
				m.logger.Error("Error stopping %s: %v", name, err)
			}
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}

		m.logger.Info("%s stopped (took %dms)", name, time.Since(startTime).Milliseconds())
	}

	m.logger.Info("All modules stopped")
	return errors.Join(errs...)
}

// IsLoaded reports whether the named module has been initialized and not stopped.
func (m *Manager) IsLoaded(name string) bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.loaded[name]
}

// Lookup returns the registered module with the given name.
func (m *Manager) Lookup(name string) (Module, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	module, ok := m.byName[name]
	return module, ok
}

// Loaded returns the names of the loaded modules in load order.
func (m *Manager) Loaded() []string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	names := make([]string, 0, len(m.loadOrder))
	for _, module := range m.loadOrder {
		names = append(names, module.Name())
	}
	return names
}

// Modules returns all registered modules in registration order.
func (m *Manager) Modules() []Module {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	modules := make([]Module, len(m.modules))
	copy(modules, m.modules)
	return modules
}

// SetShutdownTimeout sets the grace period for graceful shutdown.
// It applies per module.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.shutdownTimeout = timeout
	m.logger.Debug("Shutdown timeout set to %dms", timeout.Milliseconds())
}

// Find returns the first registered module assignable to T, in registration order.
//
//	kv, ok := lifecycle.Find[*consul.Module](manager)
func Find[T any](m *Manager) (T, bool) {
	for _, module := range m.Modules() {
		if typed, ok := module.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}
