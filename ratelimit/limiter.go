package ratelimit

import (
	"context"
	"fmt"
	"time"

	"bastion/core"
	"bastion/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// TierLimit configures the quota for one tier.
type TierLimit struct {
	Limit  int           `mapstructure:"limit" json:"limit"`
	Window time.Duration `mapstructure:"window" json:"window"`
}

// PressureThresholds configures when resource pressure tightens limits.
type PressureThresholds struct {
	Memory          float64 `mapstructure:"memory" json:"memory"`
	CPU             float64 `mapstructure:"cpu" json:"cpu"`
	Connections     float64 `mapstructure:"connections" json:"connections"`
	ReductionFactor float64 `mapstructure:"reduction_factor" json:"reduction_factor"`
}

// LimiterConfig configures the hierarchical limiter.
type LimiterConfig struct {
	// Tiers maps each enforced tier to its quota. The global tier is
	// mandatory; tiers without an entry are not enforced.
	Tiers    map[core.Tier]TierLimit
	Pressure PressureThresholds
	// MaxKeys bounds the number of live (tier, identifier) windows.
	MaxKeys int
	// IdleTTL evicts windows idle beyond this duration.
	IdleTTL time.Duration
}

// Validate checks limiter configuration at startup.
func (c LimiterConfig) Validate() error {
	if _, ok := c.Tiers[core.TierGlobal]; !ok {
		return fmt.Errorf("%w: rate limit tier %q must be configured", core.ErrConfigurationInvalid, core.TierGlobal)
	}
	for tier, tl := range c.Tiers {
		if _, ok := core.ParseTier(string(tier)); !ok {
			return fmt.Errorf("%w: unknown rate limit tier %q", core.ErrConfigurationInvalid, tier)
		}
		if tl.Limit < 0 {
			return fmt.Errorf("%w: tier %q limit must not be negative", core.ErrConfigurationInvalid, tier)
		}
		if tl.Window <= 0 {
			return fmt.Errorf("%w: tier %q window must be positive", core.ErrConfigurationInvalid, tier)
		}
	}
	if c.Pressure.ReductionFactor <= 0 || c.Pressure.ReductionFactor > 1 {
		return fmt.Errorf("%w: pressure reduction_factor must be in (0,1]", core.ErrConfigurationInvalid)
	}
	for name, v := range map[string]float64{
		"memory":      c.Pressure.Memory,
		"cpu":         c.Pressure.CPU,
		"connections": c.Pressure.Connections,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: pressure threshold %q must be in (0,1]", core.ErrConfigurationInvalid, name)
		}
	}
	if c.MaxKeys <= 0 {
		return fmt.Errorf("%w: rate limit max_keys must be positive", core.ErrConfigurationInvalid)
	}
	if c.IdleTTL <= 0 {
		return fmt.Errorf("%w: rate limit idle_ttl must be positive", core.ErrConfigurationInvalid)
	}
	return nil
}

// OperationContext carries the identifiers that bind an inbound operation
// to the user, component, and endpoint tiers. Empty fields leave the
// corresponding tier out of the evaluation.
type OperationContext struct {
	UserID      string
	ComponentID string
	EndpointID  string
	SourceIP    string
}

// Result is the outcome of a hierarchical limit check. On denial, Tier
// names the denying tier and RetryAfter is its retry hint.
type Result struct {
	Allowed    bool                  `json:"allowed"`
	Tier       core.Tier             `json:"tier"`
	Remaining  int                   `json:"remaining"`
	RetryAfter time.Duration         `json:"retry_after"`
	Reduced    bool                  `json:"reduced"`
	Snapshot   core.ResourceSnapshot `json:"resource_snapshot"`
}

// HierarchicalLimiter enforces sliding-window quotas across ordered
// tiers. A request is allowed only if every applicable tier allows it;
// quota is consumed only when all tiers admit, so a denial by a narrow
// tier does not burn quota at broader tiers.
type HierarchicalLimiter struct {
	cfg     LimiterConfig
	sampler ResourceSampler
	windows *expirable.LRU[string, *SlidingWindow]
	redis   *RedisWindows
	sink    core.EventSink
	logger  *zap.SugaredLogger
}

// NewHierarchicalLimiter creates the limiter. The sampler must not be
// nil; pass a Monitor in production. The sink is optional: when set, a
// RATE_LIMIT_EXCEEDED event is emitted for every denial.
func NewHierarchicalLimiter(cfg LimiterConfig, sampler ResourceSampler, logger *zap.SugaredLogger) (*HierarchicalLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, fmt.Errorf("%w: resource sampler is required", core.ErrConfigurationInvalid)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HierarchicalLimiter{
		cfg:     cfg,
		sampler: sampler,
		windows: expirable.NewLRU[string, *SlidingWindow](cfg.MaxKeys, nil, cfg.IdleTTL),
		logger:  logger,
	}, nil
}

// SetEventSink attaches the security event pipeline for denial events.
func (hl *HierarchicalLimiter) SetEventSink(sink core.EventSink) { hl.sink = sink }

// SetRedis enables the distributed window store. Redis failures degrade
// to the in-memory windows per key.
func (hl *HierarchicalLimiter) SetRedis(rw *RedisWindows) { hl.redis = rw }

// tierCheck is one (tier, identifier) evaluation unit.
type tierCheck struct {
	tier    core.Tier
	key     string
	limit   int
	window  time.Duration
	reduced bool
}

// CheckLimit evaluates every applicable tier for the operation. The
// global tier always applies; user, component, and endpoint tiers apply
// when the context carries their identifier. On simultaneous denials the
// most restrictive (smallest retry hint) is reported.
func (hl *HierarchicalLimiter) CheckLimit(ctx context.Context, identifier string, tier core.Tier, op OperationContext) Result {
	start := time.Now()
	defer func() {
		metrics.CheckDuration.WithLabelValues("rate_limit").Observe(time.Since(start).Seconds())
	}()

	snap := hl.sampler.Snapshot()
	reduced := hl.underPressure(snap)
	if reduced {
		metrics.RateLimitPressureReductions.Inc()
	}

	checks := hl.resolveChecks(identifier, tier, op, reduced)
	res := hl.evaluate(ctx, checks)
	res.Snapshot = snap
	res.Reduced = reduced

	metrics.RateLimitDecisions.WithLabelValues(string(res.Tier), fmt.Sprintf("%t", res.Allowed)).Inc()
	if !res.Allowed {
		hl.emitDenial(identifier, res, op)
	}
	return res
}

// resolveChecks builds the ordered, de-duplicated tier evaluation list.
func (hl *HierarchicalLimiter) resolveChecks(identifier string, tier core.Tier, op OperationContext, reduced bool) []tierCheck {
	ids := map[core.Tier]string{core.TierGlobal: "global"}
	if tier != core.TierGlobal && identifier != "" {
		ids[tier] = identifier
	}
	if op.UserID != "" {
		if _, ok := ids[core.TierUser]; !ok {
			ids[core.TierUser] = op.UserID
		}
	}
	if op.ComponentID != "" {
		if _, ok := ids[core.TierComponent]; !ok {
			ids[core.TierComponent] = op.ComponentID
		}
	}
	if op.EndpointID != "" {
		if _, ok := ids[core.TierEndpoint]; !ok {
			ids[core.TierEndpoint] = op.EndpointID
		}
	}

	checks := make([]tierCheck, 0, len(ids))
	for _, t := range core.OrderedTiers {
		id, ok := ids[t]
		if !ok {
			continue
		}
		tl, ok := hl.cfg.Tiers[t]
		if !ok {
			continue // tier not enforced
		}
		limit := tl.Limit
		if reduced && limit > 0 {
			limit = int(float64(limit) * hl.cfg.Pressure.ReductionFactor)
			if limit < 1 {
				limit = 1
			}
		}
		checks = append(checks, tierCheck{
			tier:    t,
			key:     string(t) + ":" + id,
			limit:   limit,
			window:  tl.Window,
			reduced: reduced,
		})
	}
	return checks
}

// evaluate runs the two-phase check: peek every tier, then commit all
// only if every tier admits. The in-memory path holds every window lock
// across both phases so the multi-tier decision is atomic.
func (hl *HierarchicalLimiter) evaluate(ctx context.Context, checks []tierCheck) Result {
	if hl.redis != nil {
		return hl.evaluateRedis(ctx, checks)
	}

	type held struct {
		check  tierCheck
		window *SlidingWindow
	}
	now := time.Now()
	locked := make([]held, 0, len(checks))
	unlockAll := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].window.mu.Unlock()
		}
	}

	denied := Result{Allowed: true}
	allowed := Result{Allowed: true, Remaining: -1}
	for _, c := range checks {
		w := hl.window(c.key, c.window)
		w.mu.Lock()
		locked = append(locked, held{check: c, window: w})
		w.pruneLocked(now)

		d := w.peekLocked(c.limit, now)
		if !d.Allowed {
			if denied.Allowed || d.RetryAfter < denied.RetryAfter {
				denied = Result{Allowed: false, Tier: c.tier, RetryAfter: d.RetryAfter}
			}
			continue
		}
		if allowed.Remaining < 0 || d.Remaining < allowed.Remaining {
			allowed.Remaining = d.Remaining
			allowed.Tier = c.tier
		}
	}

	if !denied.Allowed {
		unlockAll()
		return denied
	}
	for _, h := range locked {
		h.window.commitLocked(now)
	}
	unlockAll()
	if allowed.Remaining < 0 {
		allowed.Remaining = 0
	}
	return allowed
}

// window returns the live window for key, creating it on first use.
// Re-adding on every access refreshes the idle eviction clock.
func (hl *HierarchicalLimiter) window(key string, duration time.Duration) *SlidingWindow {
	if w, ok := hl.windows.Get(key); ok {
		hl.windows.Add(key, w)
		return w
	}
	w := NewSlidingWindow(duration)
	hl.windows.Add(key, w)
	return w
}

func (hl *HierarchicalLimiter) underPressure(snap core.ResourceSnapshot) bool {
	return snap.MemoryUsage > hl.cfg.Pressure.Memory ||
		snap.CPUUsage > hl.cfg.Pressure.CPU ||
		snap.ConnectionSaturation > hl.cfg.Pressure.Connections
}

func (hl *HierarchicalLimiter) emitDenial(identifier string, res Result, op OperationContext) {
	if hl.sink == nil {
		return
	}
	ev := core.NewSecurityEvent(core.EventRateLimitExceeded)
	ev.SubjectID = op.UserID
	ev.ComponentID = op.ComponentID
	ev.SourceIP = op.SourceIP
	ev.Fields["identifier"] = identifier
	ev.Fields["tier"] = string(res.Tier)
	ev.Fields["retry_after_ms"] = res.RetryAfter.Milliseconds()
	hl.sink.Submit(ev)
}

// Stats reports the number of live windows, for the operational API.
func (hl *HierarchicalLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"live_windows": hl.windows.Len(),
		"max_keys":     hl.cfg.MaxKeys,
	}
}
