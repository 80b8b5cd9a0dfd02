package prospector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Version represents the application version
const Version = "1.0.0"

// ProbeEvent is one progress notification emitted while scanning.
type ProbeEvent struct {
	Address string        `json:"address"`
	Port    int           `json:"port"`
	State   PortState     `json:"state"`
	Service string        `json:"service,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Engine drives one scan end to end: target expansion, port resolution,
// the liveness pre-phase, the bounded worker pool, per-task probing and
// correlation, and final aggregation.
type Engine struct {
	config     *Config
	logger     *zap.Logger
	metrics    *Metrics
	cache      *CachingService
	resolver   hostResolver
	prober     prober
	pinger     pinger
	correlator *Correlator
	plugins    *PluginManager

	runID  string
	events chan ProbeEvent
}

// NewEngine validates the configuration and assembles a ready-to-run
// engine. Metrics are created unregistered; call Metrics().Register()
// before serving them.
func NewEngine(config *Config, logger *zap.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	var cache *CachingService
	if config.EnableCaching {
		var err error
		cache, err = NewCachingService(config, logger)
		if err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	engine := &Engine{
		config:     config,
		logger:     logger,
		metrics:    metrics,
		cache:      cache,
		resolver:   NewNetResolver(cache),
		prober:     NewTCPProber(timeout, config.DeepProbes),
		pinger:     NewICMPPinger(time.Duration(config.LivenessTimeoutMs) * time.Millisecond),
		correlator: NewCorrelator(config, cache, metrics, logger),
		runID:      uuid.New().String(),
		events:     make(chan ProbeEvent, config.EventBuffer),
	}

	// Plugin vulnerability sources join the correlation chain
	if config.PluginDir != "" {
		plugins := NewPluginManager(config.PluginDir, logger)
		if err := plugins.LoadPluginsFromDirectory(config); err != nil {
			logger.Warn("Plugin loading failed", zap.Error(err))
		}
		for name, source := range plugins.VulnSources() {
			engine.correlator.AddSource(source)
			logger.Info("Registered plugin vulnerability source", zap.String("plugin", name))
		}
		engine.plugins = plugins
	}

	return engine, nil
}

// RunID returns the identifier stamped on this engine's report and metrics.
func (e *Engine) RunID() string { return e.runID }

// Metrics exposes the engine's metric vectors for registration.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Events returns the progress stream. The channel is buffered; events are
// dropped rather than blocked on when the consumer falls behind. It closes
// when Run returns, so Run must be called at most once per engine.
func (e *Engine) Events() <-chan ProbeEvent { return e.events }

// Plugins exposes the loaded plugin set, or nil when no plugin directory is
// configured.
func (e *Engine) Plugins() *PluginManager { return e.plugins }

// Close releases the engine's cache and plugin resources.
func (e *Engine) Close() {
	if e.plugins != nil {
		e.plugins.UnloadAllPlugins()
	}
	if e.cache != nil {
		e.cache.Close()
	}
}

// Run executes the scan. Validation failures before any probe are returned
// as errors; a cancelled run returns the partial report instead, with the
// affected hosts flagged. The returned report's host order always matches
// the target expansion order.
func (e *Engine) Run(ctx context.Context) (*ScanReport, error) {
	defer close(e.events)
	start := time.Now()

	addresses, err := ExpandTargets(ctx, e.config.Targets, e.config.MaxAddresses, e.resolver)
	if err != nil {
		return nil, err
	}
	ports, err := ParsePortSpec(e.config.PortSpec)
	if err != nil {
		return nil, err
	}

	e.metrics.EnumeratedHosts.WithLabelValues(e.runID).Set(float64(len(addresses)))
	e.logger.Info("Scan starting",
		zap.String("run_id", e.runID),
		zap.Int("addresses", len(addresses)),
		zap.Int("ports", len(ports)),
		zap.Int("threads", e.config.Threads),
		zap.Bool("offline", e.config.Offline),
	)

	report := &ScanReport{
		RunID:     e.runID,
		StartTime: start,
		Options:   e.config.Snapshot(),
	}

	agg := NewAggregator(addresses, ports)

	live := e.livenessPhase(ctx, addresses, agg)

	tasks := buildTasks(live, ports)
	if e.config.Randomize {
		seed := e.config.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		shuffleTasks(tasks, seed)
		report.Seed = seed
		e.logger.Info("Task order randomized", zap.Int64("seed", seed))
	}

	cancelled := e.dispatch(ctx, tasks, agg)

	agg.Finalize(cancelled)
	report.Hosts = agg.Report()
	report.Degraded = e.correlator.Degraded()
	report.EndTime = time.Now()

	e.metrics.ScanDuration.WithLabelValues("scan", e.runID).Observe(time.Since(start).Seconds())
	e.metrics.OperationStatus.WithLabelValues("scan", "success").Inc()

	e.logger.Info("Scan finished",
		zap.String("run_id", e.runID),
		zap.Duration("duration", report.Duration()),
		zap.Int("hosts", len(report.Hosts)),
		zap.Int("online", report.OnlineHosts()),
		zap.Int("open_ports", report.OpenPortCount()),
		zap.Int("findings", report.FindingCount()),
		zap.Bool("cancelled", cancelled),
		zap.Bool("degraded", report.Degraded),
	)
	return report, nil
}

// -------------- Liveness Pre-Phase --------------

// livenessPhase resolves display names and, unless disabled, probes each
// host once before task generation. Dead hosts have every port recorded as
// filtered without a single dial and are excluded from the task list.
// Skipping liveness only changes whether probes are attempted, never the
// outcome of a probe that runs.
func (e *Engine) livenessPhase(ctx context.Context, addresses []string, agg *Aggregator) []string {
	sem := semaphore.NewWeighted(int64(e.config.Threads))
	var wg sync.WaitGroup

	alive := make([]bool, len(addresses))
	processed := make([]bool, len(addresses))

	for i, addr := range addresses {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, addr string) {
			defer sem.Release(1)
			defer wg.Done()
			e.metrics.TasksInFlight.WithLabelValues("liveness").Inc()
			defer e.metrics.TasksInFlight.WithLabelValues("liveness").Dec()

			name := e.resolver.DisplayName(ctx, addr)
			online := false
			if !e.config.SkipLiveness {
				online = e.pinger.Ping(ctx, addr)
			}
			agg.SetHostMeta(addr, name, online)
			alive[i] = online || e.config.SkipLiveness
			processed[i] = true
		}(i, addr)
	}
	wg.Wait()

	live := make([]string, 0, len(addresses))
	for i, addr := range addresses {
		if !processed[i] {
			continue
		}
		if alive[i] {
			live = append(live, addr)
			continue
		}
		agg.MarkHostFiltered(addr)
		e.logger.Debug("Host did not answer liveness probes", zap.String("address", addr))
	}
	return live
}

// -------------- Task Scheduling --------------

// buildTasks enumerates the address-major Cartesian product of live
// addresses and resolved ports.
func buildTasks(addresses []string, ports []int) []Task {
	tasks := make([]Task, 0, len(addresses)*len(ports))
	for _, addr := range addresses {
		for _, port := range ports {
			tasks = append(tasks, Task{Address: addr, Port: port})
		}
	}
	return tasks
}

// shuffleTasks applies a single seeded shuffle so a randomized scan order
// is reproducible when the seed is logged.
func shuffleTasks(tasks []Task, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(tasks), func(i, j int) {
		tasks[i], tasks[j] = tasks[j], tasks[i]
	})
}

// dispatch feeds tasks through the bounded worker pool. The semaphore is
// acquired before each goroutine spawns, so at most Threads probes are in
// flight and submission blocks when the pool is saturated. Cancellation
// stops submission immediately; in-flight probes finish on their own
// timeouts. Reports whether the run was cut short.
func (e *Engine) dispatch(ctx context.Context, tasks []Task, agg *Aggregator) bool {
	sem := semaphore.NewWeighted(int64(e.config.Threads))
	var wg sync.WaitGroup
	cancelled := false

	for _, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			cancelled = true
			break
		}
		wg.Add(1)
		go func(task Task) {
			defer sem.Release(1)
			defer wg.Done()
			e.runTask(ctx, task, agg)
		}(task)
	}
	wg.Wait()
	return cancelled || ctx.Err() != nil
}

// runTask probes one endpoint, classifies and correlates an open result,
// and records the outcome. A task failure is data, never a run failure.
func (e *Engine) runTask(ctx context.Context, task Task, agg *Aggregator) {
	e.metrics.TasksInFlight.WithLabelValues("probe").Inc()
	defer e.metrics.TasksInFlight.WithLabelValues("probe").Dec()

	outcome := e.prober.Probe(ctx, task)

	e.metrics.ProbesTotal.WithLabelValues(string(outcome.State)).Inc()
	e.metrics.ProbeLatency.WithLabelValues(string(outcome.State)).Observe(float64(outcome.Duration.Milliseconds()))

	var fp *ServiceFingerprint
	var findings []VulnerabilityFinding
	if outcome.State == StateOpen {
		classified := Classify(task.Port, outcome.Banner)
		fp = &classified
		e.metrics.OpenPorts.WithLabelValues(classified.Service).Inc()

		findings = e.correlator.Correlate(ctx, classified, string(outcome.Banner))
		for _, f := range findings {
			e.metrics.FindingsTotal.WithLabelValues(f.Source, string(f.Severity)).Inc()
		}

		e.logger.Debug("Open port",
			zap.String("address", task.Address),
			zap.Int("port", task.Port),
			zap.String("service", classified.Service),
			zap.Int("findings", len(findings)),
		)
	}

	agg.Record(task, outcome, fp, findings)

	event := ProbeEvent{
		Address: task.Address,
		Port:    task.Port,
		State:   outcome.State,
		Elapsed: outcome.Duration,
	}
	if fp != nil {
		event.Service = fp.Service
	}
	e.emit(event)
}

// emit sends one progress event without ever blocking a worker.
func (e *Engine) emit(event ProbeEvent) {
	select {
	case e.events <- event:
	default:
	}
}
