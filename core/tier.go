package core

import "time"

// Tier is a scope level at which a quota is independently enforced.
type Tier string

const (
	TierGlobal    Tier = "global"
	TierUser      Tier = "user"
	TierComponent Tier = "component"
	TierEndpoint  Tier = "endpoint"
)

// OrderedTiers lists tiers in evaluation order, broadest first.
var OrderedTiers = []Tier{TierGlobal, TierUser, TierComponent, TierEndpoint}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierGlobal, TierUser, TierComponent, TierEndpoint:
		return Tier(s), true
	}
	return "", false
}

// ResourceSnapshot reports process-level resource pressure. Each dimension
// is a saturation score in [0,1]. Snapshots always represent "now" and are
// never persisted.
type ResourceSnapshot struct {
	MemoryUsage          float64   `json:"memory_usage"`
	CPUUsage             float64   `json:"cpu_usage"`
	ConnectionSaturation float64   `json:"connection_saturation"`
	SampledAt            time.Time `json:"sampled_at"`
}

// Max returns the highest saturation across dimensions.
func (s ResourceSnapshot) Max() float64 {
	m := s.MemoryUsage
	if s.CPUUsage > m {
		m = s.CPUUsage
	}
	if s.ConnectionSaturation > m {
		m = s.ConnectionSaturation
	}
	return m
}
