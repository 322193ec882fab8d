package flags

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talenthub/flagkit/pkg/async"
	"github.com/talenthub/flagkit/pkg/breaker"
	"github.com/talenthub/flagkit/pkg/bucketing"
	"github.com/talenthub/flagkit/pkg/flagcache"
	"github.com/talenthub/flagkit/pkg/rules"
)

// Config tunes the evaluator, loadable via pkg/config.
type Config struct {
	// LocalCacheSize bounds the in-process definition cache.
	LocalCacheSize int `env:"FLAG_LOCAL_CACHE_SIZE" envDefault:"1024"`
	// DefaultCacheTTL is the definition cache lifetime for flags without a
	// per-flag override.
	DefaultCacheTTL time.Duration `env:"FLAG_CACHE_TTL" envDefault:"60s"`
	// OverrideCacheTTL is the lifetime for cached override lookups,
	// including negative ones. Kept short so a support-driven override
	// lands quickly even without a change message.
	OverrideCacheTTL time.Duration `env:"FLAG_OVERRIDE_CACHE_TTL" envDefault:"15s"`
	// StoreTimeout bounds each store round trip on the evaluation path.
	// A timeout counts as a store failure for the circuit breaker.
	StoreTimeout time.Duration `env:"FLAG_STORE_TIMEOUT" envDefault:"50ms"`
	// LatencyBudget is the wall-clock budget for one evaluation. Exceeding
	// it logs a warning; it is an observability signal, not a gate.
	LatencyBudget time.Duration `env:"FLAG_LATENCY_BUDGET" envDefault:"5ms"`
	// ResyncInterval is the period of the full flag-set reload.
	ResyncInterval time.Duration `env:"FLAG_RESYNC_INTERVAL" envDefault:"60s"`
	// BreakerThreshold is the consecutive-failure count that opens a
	// flag's circuit.
	BreakerThreshold int `env:"FLAG_BREAKER_THRESHOLD" envDefault:"5"`
	// BreakerCooldown is how long an open circuit rejects before allowing
	// a probe.
	BreakerCooldown time.Duration `env:"FLAG_BREAKER_COOLDOWN" envDefault:"30s"`
}

func defaultConfig() Config {
	return Config{
		LocalCacheSize:   1024,
		DefaultCacheTTL:  60 * time.Second,
		OverrideCacheTTL: 15 * time.Second,
		StoreTimeout:     50 * time.Millisecond,
		LatencyBudget:    5 * time.Millisecond,
		ResyncInterval:   60 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// snapshot is the immutable in-memory flag set. Resync builds a complete
// replacement and swaps it atomically so evaluators never observe a
// half-updated set.
type snapshot struct {
	flags map[string]FlagDefinition
}

// Stats is a point-in-time copy of the evaluator's counters.
type Stats struct {
	Evaluations       int64
	CacheHits         int64
	CacheMisses       int64
	StoreErrors       int64
	BreakerRejections int64
	SlowEvaluations   int64
}

type counters struct {
	evaluations       atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	storeErrors       atomic.Int64
	breakerRejections atomic.Int64
	slowEvaluations   atomic.Int64
}

// overrideEntry caches an override lookup outcome, including the negative
// case, so repeated evaluations for the same subject skip the store.
type overrideEntry struct {
	Found    bool     `json:"found"`
	Override Override `json:"override,omitzero"`
}

// Evaluator resolves and evaluates feature flags. Evaluation never returns
// an error: every failure mode resolves to a Result with an explanatory
// reason, and a feature hidden by fail-safe is indistinguishable from one
// intentionally disabled.
type Evaluator struct {
	store   Store
	cache   *flagcache.MultiLayer[FlagDefinition]
	ovCache *flagcache.MultiLayer[overrideEntry]
	engine  *rules.Engine
	breaker *breaker.Breaker
	log     *slog.Logger
	now     func() time.Time
	cfg     Config

	stateMu sync.Mutex
	state   atomic.Pointer[snapshot]
	stats   counters
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*evaluatorOptions)

type evaluatorOptions struct {
	cfg    Config
	shared flagcache.Shared
	engine *rules.Engine
	log    *slog.Logger
	now    func() time.Time
}

// WithConfig applies a full Config.
func WithConfig(cfg Config) EvaluatorOption {
	return func(o *evaluatorOptions) { o.cfg = cfg }
}

// WithSharedCache attaches a shared cache tier (typically Redis) behind the
// in-process tier.
func WithSharedCache(shared flagcache.Shared) EvaluatorOption {
	return func(o *evaluatorOptions) { o.shared = shared }
}

// WithEngine supplies a pre-configured rule engine, e.g. one with custom
// predicates registered.
func WithEngine(engine *rules.Engine) EvaluatorOption {
	return func(o *evaluatorOptions) {
		if engine != nil {
			o.engine = engine
		}
	}
}

// WithLogger sets the evaluator's logger.
func WithLogger(log *slog.Logger) EvaluatorOption {
	return func(o *evaluatorOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(o *evaluatorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewEvaluator creates an evaluator over the given store.
func NewEvaluator(store Store, opts ...EvaluatorOption) *Evaluator {
	o := &evaluatorOptions{
		cfg: defaultConfig(),
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = rules.NewEngine(rules.WithLogger(o.log))
	}

	cacheOpts := []flagcache.MultiLayerOption[FlagDefinition]{
		flagcache.WithLogger[FlagDefinition](o.log),
		flagcache.WithDefaultTTL[FlagDefinition](o.cfg.DefaultCacheTTL),
	}
	ovCacheOpts := []flagcache.MultiLayerOption[overrideEntry]{
		flagcache.WithLogger[overrideEntry](o.log),
		flagcache.WithDefaultTTL[overrideEntry](o.cfg.OverrideCacheTTL),
	}
	if o.shared != nil {
		cacheOpts = append(cacheOpts, flagcache.WithShared[FlagDefinition](o.shared))
		ovCacheOpts = append(ovCacheOpts, flagcache.WithShared[overrideEntry](o.shared))
	}

	e := &Evaluator{
		store:   store,
		cache:   flagcache.NewMultiLayer(o.cfg.LocalCacheSize, cacheOpts...),
		ovCache: flagcache.NewMultiLayer(o.cfg.LocalCacheSize, ovCacheOpts...),
		engine:  o.engine,
		breaker: breaker.New(o.cfg.BreakerThreshold, o.cfg.BreakerCooldown, breaker.WithLogger(o.log), breaker.WithClock(o.now)),
		log:     o.log,
		now:     o.now,
		cfg:     o.cfg,
	}
	e.state.Store(&snapshot{flags: make(map[string]FlagDefinition)})
	return e
}

// Evaluate decides whether the flag is enabled for the context. It never
// panics and never returns an error; see the Reason on the Result.
func (e *Evaluator) Evaluate(ctx context.Context, key string, ec EvalContext) Result {
	start := e.now()
	result := e.evaluateGuarded(ctx, key, ec, make(map[string]struct{}))

	e.stats.evaluations.Add(1)
	if elapsed := e.now().Sub(start); elapsed > e.cfg.LatencyBudget {
		e.stats.slowEvaluations.Add(1)
		e.log.Warn("flag evaluation exceeded latency budget",
			"flag_key", key,
			"elapsed", elapsed,
			"budget", e.cfg.LatencyBudget,
		)
	}
	return result
}

// EvaluateMany evaluates a batch of keys concurrently. Each key is fully
// isolated: one key's failure resolves to its own fallback result and never
// affects another's.
func (e *Evaluator) EvaluateMany(ctx context.Context, keys []string, ec EvalContext) map[string]Result {
	futures := make([]*async.Future[Result], len(keys))
	for i, key := range keys {
		futures[i] = async.Async(ctx, key, func(ctx context.Context, k string) (Result, error) {
			return e.Evaluate(ctx, k, ec), nil
		})
	}

	out := make(map[string]Result, len(keys))
	for i, f := range futures {
		result, err := f.Await()
		if err != nil {
			result = e.fallbackResult(keys[i])
		}
		out[result.FlagKey] = result
	}
	return out
}

// Stats returns a snapshot of the evaluation counters.
func (e *Evaluator) Stats() Stats {
	return Stats{
		Evaluations:       e.stats.evaluations.Load(),
		CacheHits:         e.stats.cacheHits.Load(),
		CacheMisses:       e.stats.cacheMisses.Load(),
		StoreErrors:       e.stats.storeErrors.Load(),
		BreakerRejections: e.stats.breakerRejections.Load(),
		SlowEvaluations:   e.stats.slowEvaluations.Load(),
	}
}

// BreakerState exposes the circuit state for a flag key, for operational
// introspection.
func (e *Evaluator) BreakerState(key string) breaker.State {
	return e.breaker.State(key)
}

var errCircuitOpen = errors.New("circuit open, store call skipped")

// evaluateGuarded runs the precedence state machine. The guard set holds
// the keys in the current prerequisite recursion chain for cycle detection.
func (e *Evaluator) evaluateGuarded(ctx context.Context, key string, ec EvalContext, guard map[string]struct{}) Result {
	if _, inChain := guard[key]; inChain {
		e.log.Error("circular prerequisite chain detected", "flag_key", key)
		return Result{
			FlagKey:     key,
			Value:       false,
			Reason:      ReasonCircularDependency,
			EvaluatedAt: e.now().UTC(),
		}
	}
	guard[key] = struct{}{}
	defer delete(guard, key)

	def, err := e.resolve(ctx, key)
	switch {
	case errors.Is(err, ErrFlagNotFound):
		return Result{FlagKey: key, Value: false, Reason: ReasonNotFound, EvaluatedAt: e.now().UTC()}
	case err != nil:
		e.log.Warn("flag resolution failed, returning safe fallback", "flag_key", key, "error", err)
		return e.fallbackResult(key)
	}

	now := e.now().UTC()

	// Stage 2: global kill switch.
	if !def.Enabled {
		return e.result(def, false, ReasonDisabled)
	}

	// Stage 3: activity window.
	if def.StartDate != nil && now.Before(*def.StartDate) {
		return e.result(def, false, ReasonNotStarted)
	}
	if def.EndDate != nil && now.After(*def.EndDate) {
		return e.result(def, false, ReasonExpired)
	}

	// Stage 4: prerequisites, recursively with the shared cycle guard.
	for _, prereq := range def.Prerequisites {
		pres := e.evaluateGuarded(ctx, prereq, ec, guard)
		if pres.Reason == ReasonCircularDependency {
			return e.result(def, false, ReasonCircularDependency)
		}
		if !pres.Enabled {
			return e.result(def, false, ReasonPrereqsNotMet)
		}
	}

	// Stage 5: explicit overrides. Deliberate human intervention beats
	// targeting rules and rollout. System-wide flags skip them.
	if !def.SystemWide {
		if o := e.lookupOverride(ctx, def.Key, ec); o != nil {
			return e.result(def, o.Enabled, ReasonOverride)
		}
	}

	// Stage 6: targeting rules, grant-only. A match is a true override of
	// the rollout percentage.
	if len(def.Rules) > 0 && e.engine.EvaluateAll(def.Rules, ec) {
		return e.result(def, true, ReasonTargeting)
	}

	// Stage 7: percentage rollout, seeded by the flag key.
	if def.RolloutPercentage < 100 {
		if !bucketing.InRollout(ec.RolloutIdentifier(), def.Key, def.RolloutPercentage) {
			return e.result(def, false, ReasonRolloutExcluded)
		}
	}

	// Stage 8: typed default.
	value := def.ParsedDefault()
	return Result{
		FlagKey:     def.Key,
		Value:       value,
		Enabled:     truthy(value),
		Reason:      ReasonDefault,
		EvaluatedAt: now,
	}
}

// resolve finds the flag definition: in-process snapshot, then the
// multi-layer cache, then the store behind the circuit breaker.
func (e *Evaluator) resolve(ctx context.Context, key string) (FlagDefinition, error) {
	if def, ok := e.state.Load().flags[key]; ok {
		return def, nil
	}

	if def, ok := e.cache.Get(ctx, flagCacheKey(key)); ok {
		e.stats.cacheHits.Add(1)
		return def, nil
	}
	e.stats.cacheMisses.Add(1)

	if !e.breaker.Allow(key) {
		e.stats.breakerRejections.Add(1)
		e.log.Warn("circuit open for flag, store call skipped", "flag_key", key)
		return FlagDefinition{}, errCircuitOpen
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	def, err := e.store.GetFlag(storeCtx, key)
	if errors.Is(err, ErrFlagNotFound) {
		// An unknown key is an answer, not a store failure.
		e.breaker.Success(key)
		return FlagDefinition{}, ErrFlagNotFound
	}
	if err != nil {
		e.breaker.Failure(key)
		e.stats.storeErrors.Add(1)
		return FlagDefinition{}, err
	}
	e.breaker.Success(key)

	if def.Archived {
		return FlagDefinition{}, ErrFlagNotFound
	}

	ttl := def.CacheTTL()
	if ttl <= 0 {
		ttl = e.cfg.DefaultCacheTTL
	}
	e.cache.Set(ctx, flagCacheKey(key), *def, ttl)

	return *def, nil
}

// lookupOverride checks user then group overrides, caching both hits and
// misses under the flag's key prefix so flag-level invalidation purges
// them. Lookup failures degrade to "no override": by this point the
// definition has already resolved, and an override miss is safer than
// failing the whole evaluation.
func (e *Evaluator) lookupOverride(ctx context.Context, key string, ec EvalContext) *Override {
	type subject struct {
		t  SubjectType
		id string
	}
	subjects := make([]subject, 0, 2)
	if ec.UserID != "" {
		subjects = append(subjects, subject{SubjectUser, ec.UserID})
	}
	if ec.GroupID != "" {
		subjects = append(subjects, subject{SubjectGroup, ec.GroupID})
	}

	for _, s := range subjects {
		cacheKey := overrideCacheKey(key, s.t, s.id)
		if entry, ok := e.ovCache.Get(ctx, cacheKey); ok {
			if entry.Found {
				o := entry.Override
				return &o
			}
			continue
		}

		if !e.breaker.Allow(key) {
			e.stats.breakerRejections.Add(1)
			return nil
		}

		storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
		o, err := e.store.GetOverride(storeCtx, key, s.t, s.id)
		cancel()

		if err != nil {
			e.breaker.Failure(key)
			e.stats.storeErrors.Add(1)
			e.log.Warn("override lookup failed, falling through to rules",
				"flag_key", key, "subject_type", string(s.t), "error", err)
			return nil
		}
		e.breaker.Success(key)

		if o != nil {
			e.ovCache.Set(ctx, cacheKey, overrideEntry{Found: true, Override: *o}, e.cfg.OverrideCacheTTL)
			return o
		}
		e.ovCache.Set(ctx, cacheKey, overrideEntry{}, e.cfg.OverrideCacheTTL)
	}
	return nil
}

// result builds a Result for a gate outcome. Boolean flags surface the gate
// outcome directly; typed flags surface their parsed default when enabled
// and the false-equivalent when not.
func (e *Evaluator) result(def FlagDefinition, enabled bool, reason Reason) Result {
	var value any
	switch {
	case !enabled:
		value = def.FalseValue()
	case def.Type == TypeBoolean || def.Type == "":
		value = true
	default:
		value = def.ParsedDefault()
	}

	return Result{
		FlagKey:     def.Key,
		Value:       value,
		Enabled:     enabled,
		Reason:      reason,
		EvaluatedAt: e.now().UTC(),
	}
}

// fallbackResult is the safe outcome for unrecoverable resolution failures.
// The flag type is unknown at this point, so the value is boolean false.
func (e *Evaluator) fallbackResult(key string) Result {
	return Result{
		FlagKey:     key,
		Value:       false,
		Reason:      ReasonErrorFallback,
		EvaluatedAt: e.now().UTC(),
	}
}

func flagCacheKey(key string) string {
	return "flag:" + key
}

// overrideCacheKey shares the flag's cache prefix so that invalidating
// "flag:<key>" also drops every cached override lookup for it.
func overrideCacheKey(key string, t SubjectType, id string) string {
	return flagCacheKey(key) + ":ov:" + string(t) + ":" + id
}

// truthy maps a typed flag value onto the enabled bit.
func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case nil:
		return false
	default:
		return true
	}
}
