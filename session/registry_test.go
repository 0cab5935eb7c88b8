package session

import (
	"testing"
	"time"

	"bastion/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	goroutine.AssertNoLeaks(t)
	r := NewRegistry(DefaultRegistryConfig(), zap.NewNop().Sugar())
	t.Cleanup(r.Stop)
	return r
}

// TestRegistry_RegisterAndLookup verifies basic registration and that
// ActiveSessions returns copies, not live references.
func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := testRegistry(t)

	rec := r.Register("alice", "s1", "fp-1", false)
	require.NotNil(t, rec)
	assert.True(t, rec.Active)
	assert.False(t, rec.Monitored)

	sessions := r.ActiveSessions("alice")
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].SessionID)

	// Mutating the returned copy must not affect registry state.
	sessions[0].Active = false
	assert.Len(t, r.ActiveSessions("alice"), 1)
}

// TestRegistry_RegisterExistingRefreshesActivity verifies re-registering
// a known session updates activity instead of duplicating the record.
func TestRegistry_RegisterExistingRefreshesActivity(t *testing.T) {
	r := testRegistry(t)

	first := r.Register("alice", "s1", "fp-1", false)
	time.Sleep(2 * time.Millisecond)
	second := r.Register("alice", "s1", "fp-1", true)

	assert.Len(t, r.ActiveSessions("alice"), 1)
	assert.True(t, second.LastActivityAt.After(first.LastActivityAt))
	assert.True(t, second.Monitored, "monitored flag sticks on refresh")
}

// TestRegistry_InvalidateAll verifies bulk invalidation, the spare
// session carve-out, and idempotency.
func TestRegistry_InvalidateAll(t *testing.T) {
	r := testRegistry(t)

	r.Register("alice", "s1", "fp-1", false)
	r.Register("alice", "s2", "fp-2", false)
	r.Register("alice", "s3", "fp-3", false)
	r.Register("bob", "s9", "fp-9", false)

	invalidated := r.InvalidateAll("alice", "s2")
	assert.Equal(t, 2, invalidated)

	remaining := r.ActiveSessions("alice")
	require.Len(t, remaining, 1)
	assert.Equal(t, "s2", remaining[0].SessionID)
	assert.Len(t, r.ActiveSessions("bob"), 1, "other subjects untouched")

	// Second invalidation is a no-op with the same end state.
	assert.Equal(t, 1, r.InvalidateAll("alice", ""))
	assert.Equal(t, 0, r.InvalidateAll("alice", ""))
	assert.Empty(t, r.ActiveSessions("alice"))
}

// TestRegistry_Touch verifies activity refresh for live sessions only.
func TestRegistry_Touch(t *testing.T) {
	r := testRegistry(t)

	r.Register("alice", "s1", "fp-1", false)
	assert.True(t, r.Touch("alice", "s1"))
	assert.False(t, r.Touch("alice", "unknown"))

	r.InvalidateAll("alice", "")
	assert.False(t, r.Touch("alice", "s1"), "inactive sessions are not touchable")
}

// TestRegistry_CollectRemovesStaleRecords verifies the retention sweep
// drops records idle past the retention window.
func TestRegistry_CollectRemovesStaleRecords(t *testing.T) {
	r := NewRegistry(RegistryConfig{Retention: time.Millisecond, GCInterval: time.Hour}, zap.NewNop().Sugar())
	defer r.Stop()

	r.Register("alice", "s1", "fp-1", false)
	time.Sleep(5 * time.Millisecond)
	r.collect()

	assert.Empty(t, r.ActiveSessions("alice"))
	stats := r.Stats()
	assert.Equal(t, 0, stats["subjects"])
}

// TestRegistry_Stats verifies the reported counters.
func TestRegistry_Stats(t *testing.T) {
	r := testRegistry(t)

	r.Register("alice", "s1", "fp-1", false)
	r.Register("alice", "s2", "fp-2", false)
	r.Register("bob", "s3", "fp-3", false)
	r.InvalidateAll("bob", "")

	stats := r.Stats()
	assert.Equal(t, 2, stats["subjects"])
	assert.Equal(t, 2, stats["active_sessions"])
	assert.Equal(t, 3, stats["total_sessions"])
}
