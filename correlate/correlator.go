package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bastion/core"
	"bastion/metrics"
	"bastion/util/goroutine"

	"go.uber.org/zap"
)

// Config tunes the correlator's buffers and retention.
type Config struct {
	// BufferSize bounds the circular buffer of recent events; the oldest
	// entry is evicted once full.
	BufferSize int
	// Window is the sliding correlation window: group entries older than
	// this are pruned on every append.
	Window time.Duration
	// MaxGroups bounds live correlation groups.
	MaxGroups int
	// GroupTTL removes groups with no activity for this long.
	GroupTTL time.Duration
	// CleanupInterval is the background cleanup cadence.
	CleanupInterval time.Duration
}

// DefaultConfig returns the correlator defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:      1000,
		Window:          15 * time.Minute,
		MaxGroups:       10000,
		GroupTTL:        30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Validate checks correlator configuration.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: correlation buffer_size must be positive", core.ErrConfigurationInvalid)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: correlation window must be positive", core.ErrConfigurationInvalid)
	}
	if c.MaxGroups <= 0 {
		return fmt.Errorf("%w: correlation max_groups must be positive", core.ErrConfigurationInvalid)
	}
	if c.GroupTTL <= 0 {
		return fmt.Errorf("%w: correlation group_ttl must be positive", core.ErrConfigurationInvalid)
	}
	return nil
}

// group holds the ordered events sharing one correlation key.
type group struct {
	events     []*core.SecurityEvent
	lastAccess time.Time
}

// Stats describes the correlator's live state.
type Stats struct {
	BufferedEvents  int   `json:"buffered_events"`
	LiveGroups      int   `json:"live_groups"`
	EventsProcessed int64 `json:"events_processed"`
	AlertsEmitted   int64 `json:"alerts_emitted"`
}

// Correlator ingests security events and evaluates correlation groups
// against the rule pattern table. Processing is best-effort: a failure
// on one event never prevents later events from being processed.
type Correlator struct {
	cfg    Config
	rules  []RulePattern
	logger *zap.SugaredLogger

	mu        sync.Mutex
	buffer    []*core.SecurityEvent
	groups    map[string]*group
	processed int64
	emitted   int64

	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup
}

// NewCorrelator creates a correlator with the given rule table and
// starts its cleanup goroutine.
func NewCorrelator(cfg Config, rules []RulePattern, logger *zap.SugaredLogger) (*Correlator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidatePatterns(rules); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &Correlator{
		cfg:    cfg,
		rules:  rules,
		logger: logger,
		groups: make(map[string]*group),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cleanupCancel = cancel
	c.cleanupWg.Add(1)
	go c.cleanupLoop(ctx)

	return c, nil
}

// Process buffers the event, updates its correlation group, and returns
// any alerts whose rule patterns the append satisfied. Panics from rule
// evaluation are isolated to this event.
func (c *Correlator) Process(event *core.SecurityEvent) (alerts []*core.SecurityAlert) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("correlation failed for event, continuing",
				"event_id", event.EventID, "panic", r)
			alerts = nil
		}
	}()
	if event == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++

	// Bounded circular buffer of recent events, oldest evicted first.
	if len(c.buffer) >= c.cfg.BufferSize {
		drop := len(c.buffer) - c.cfg.BufferSize + 1
		c.buffer = append(c.buffer[:0], c.buffer[drop:]...)
	}
	c.buffer = append(c.buffer, event)

	key := correlationKey(event)
	g, ok := c.groups[key]
	if !ok {
		if len(c.groups) >= c.cfg.MaxGroups {
			c.evictOldestGroupLocked()
		}
		g = &group{}
		c.groups[key] = g
	}
	g.lastAccess = time.Now()
	g.events = append(g.events, event)
	c.pruneGroupLocked(g, time.Now())

	for _, rule := range c.rules {
		alert := c.matchRuleLocked(rule, key, g)
		if alert == nil {
			continue
		}
		alerts = append(alerts, alert)
		c.emitted++
		metrics.AlertsGenerated.WithLabelValues(alert.ThreatType, alert.Severity).Inc()
	}
	return alerts
}

// matchRuleLocked checks whether the group contains the rule's event
// types as an ordered subsequence within the rule's time-span bound. On
// a match the contributing events are removed from the group, so the
// same satisfied pattern instance can never fire twice.
func (c *Correlator) matchRuleLocked(rule RulePattern, key string, g *group) *core.SecurityAlert {
	matched := matchSequence(g.events, rule)
	if matched == nil {
		return nil
	}

	first := g.events[matched[0]]
	last := g.events[matched[len(matched)-1]]

	alert := core.NewSecurityAlert(rule.ID, rule.ThreatType)
	if rule.Severity != "" {
		alert.Severity = rule.Severity
	}
	alert.CorrelationID = key
	alert.SubjectID = last.SubjectID
	alert.Description = rule.Name
	alert.Confidence = confidence(rule, g, last.Timestamp.Sub(first.Timestamp))
	for _, i := range matched {
		alert.EventIDs = append(alert.EventIDs, g.events[i].EventID)
	}

	// Remove the contributing events; remaining events stay eligible
	// for other rules and future instances.
	kept := g.events[:0]
	idx := 0
	for i, ev := range g.events {
		if idx < len(matched) && i == matched[idx] {
			idx++
			continue
		}
		kept = append(kept, ev)
	}
	g.events = kept

	return alert
}

// matchSequence finds the rule's event types in order among the events,
// honoring the rule's span bound. Returns the matched indices or nil.
func matchSequence(events []*core.SecurityEvent, rule RulePattern) []int {
	for start := 0; start <= len(events)-len(rule.Sequence); start++ {
		indices := make([]int, 0, len(rule.Sequence))
		si := 0
		for i := start; i < len(events) && si < len(rule.Sequence); i++ {
			if events[i].EventType == rule.Sequence[si] {
				indices = append(indices, i)
				si++
			}
		}
		if si < len(rule.Sequence) {
			return nil
		}
		span := events[indices[len(indices)-1]].Timestamp.Sub(events[indices[0]].Timestamp)
		if span <= rule.Window {
			return indices
		}
		// Span too wide: retry past the first matched event.
		start = indices[0]
	}
	return nil
}

// confidence scores how decisively the pattern fired: event volume
// against the rule threshold, weighted by how tightly the matched span
// fits the rule window. Bounded to [0,1].
func confidence(rule RulePattern, g *group, span time.Duration) float64 {
	typed := 0
	want := make(map[string]struct{}, len(rule.Sequence))
	for _, et := range rule.Sequence {
		want[et] = struct{}{}
	}
	for _, ev := range g.events {
		if _, ok := want[ev.EventType]; ok {
			typed++
		}
	}
	volume := float64(typed) / float64(len(rule.Sequence))
	if volume > 1 {
		volume = 1
	}
	recency := 1.0
	if rule.Window > 0 {
		recency = 1 - float64(span)/float64(rule.Window)
		if recency < 0 {
			recency = 0
		}
	}
	conf := 0.6*volume + 0.4*recency
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// correlationKey derives the grouping identifier for an event: the most
// specific known entity wins.
func correlationKey(event *core.SecurityEvent) string {
	switch {
	case event.SubjectID != "":
		return "subject:" + event.SubjectID
	case event.SessionID != "":
		return "session:" + event.SessionID
	case event.ComponentID != "":
		return "component:" + event.ComponentID
	case event.SourceIP != "":
		return "ip:" + event.SourceIP
	default:
		return "global"
	}
}

// Stats returns a snapshot of the correlator's state.
func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		BufferedEvents:  len(c.buffer),
		LiveGroups:      len(c.groups),
		EventsProcessed: c.processed,
		AlertsEmitted:   c.emitted,
	}
}

// Stop terminates the cleanup goroutine.
func (c *Correlator) Stop() {
	c.cleanupCancel()
	c.cleanupWg.Wait()
}

func (c *Correlator) cleanupLoop(ctx context.Context) {
	defer c.cleanupWg.Done()
	defer goroutine.Recover("correlation-cleanup", c.logger)

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Correlator) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, g := range c.groups {
		c.pruneGroupLocked(g, now)
		if len(g.events) == 0 && now.Sub(g.lastAccess) > c.cfg.GroupTTL {
			delete(c.groups, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debugw("correlation group cleanup", "removed", removed, "remaining", len(c.groups))
	}
}

func (c *Correlator) pruneGroupLocked(g *group, now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	i := 0
	for i < len(g.events) && g.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		g.events = append(g.events[:0], g.events[i:]...)
	}
}

func (c *Correlator) evictOldestGroupLocked() {
	var oldestKey string
	var oldest time.Time
	for key, g := range c.groups {
		if oldestKey == "" || g.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = g.lastAccess
		}
	}
	if oldestKey != "" {
		delete(c.groups, oldestKey)
		c.logger.Debugw("evicted oldest correlation group", "key", oldestKey)
	}
}
