package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"bastion/core"
	"bastion/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// collector is a consumer that records every event it sees.
type collector struct {
	name string
	mu   sync.Mutex
	seen []string
}

func (c *collector) Name() string { return c.name }

func (c *collector) Consume(event *core.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, event.EventID)
}

func (c *collector) Seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}

// TestPipeline_FansOutToAllConsumers verifies every registered consumer
// sees every submitted event.
func TestPipeline_FansOutToAllConsumers(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	p := New(16, zap.NewNop().Sugar())
	a := &collector{name: "a"}
	b := &collector{name: "b"}
	p.Register(a)
	p.Register(b)
	p.Start()

	var ids []string
	for i := 0; i < 5; i++ {
		ev := core.NewSecurityEvent(core.EventDataAccess)
		ids = append(ids, ev.EventID)
		p.Submit(ev)
	}
	p.Stop()

	assert.Equal(t, ids, a.Seen(), "consumer a sees all events in order")
	assert.Equal(t, ids, b.Seen(), "consumer b sees all events in order")
}

// TestPipeline_SubmitNeverBlocksWhenSaturated verifies drop-oldest
// behavior on a full queue with no running consumer.
func TestPipeline_SubmitNeverBlocksWhenSaturated(t *testing.T) {
	p := New(2, zap.NewNop().Sugar())
	// No Start: nothing drains the queue.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			p.Submit(core.NewSecurityEvent(core.EventDataAccess))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a saturated queue")
	}

	stats := p.Stats()
	assert.Equal(t, int64(48), stats["dropped"], "all but the queue capacity dropped")
	assert.Equal(t, int64(2), stats["queued"])
}

// TestPipeline_DropsOldestNotNewest verifies saturation discards the
// oldest queued event in favor of the new one.
func TestPipeline_DropsOldestNotNewest(t *testing.T) {
	p := New(2, zap.NewNop().Sugar())
	c := &collector{name: "c"}
	p.Register(c)

	var ids []string
	for i := 0; i < 4; i++ {
		ev := core.NewSecurityEvent(core.EventDataAccess)
		ids = append(ids, ev.EventID)
		p.Submit(ev)
	}

	// Start after submission so the queue content is deterministic.
	p.Start()
	p.Stop()

	assert.Equal(t, ids[2:], c.Seen(), "the two oldest events were discarded")
}

// TestPipeline_ConsumerPanicIsIsolated verifies one panicking consumer
// neither kills the pipeline nor starves its peers.
func TestPipeline_ConsumerPanicIsIsolated(t *testing.T) {
	p := New(16, zap.NewNop().Sugar())
	p.Register(ConsumerFunc("faulty", func(*core.SecurityEvent) { panic("boom") }))
	healthy := &collector{name: "healthy"}
	p.Register(healthy)
	p.Start()

	for i := 0; i < 3; i++ {
		p.Submit(core.NewSecurityEvent(core.EventDataAccess))
	}
	p.Stop()

	assert.Len(t, healthy.Seen(), 3, "healthy consumer processed every event")
}

// TestPipeline_StopDrainsQueue verifies queued events reach consumers
// before shutdown completes, and later submissions are refused.
func TestPipeline_StopDrainsQueue(t *testing.T) {
	p := New(64, zap.NewNop().Sugar())
	c := &collector{name: "c"}
	p.Register(c)

	for i := 0; i < 10; i++ {
		p.Submit(core.NewSecurityEvent(core.EventDataAccess))
	}
	p.Start()
	p.Stop()

	require.Len(t, c.Seen(), 10)

	p.Submit(core.NewSecurityEvent(core.EventDataAccess))
	assert.Len(t, c.Seen(), 10, "submissions after Stop are dropped")
	assert.Equal(t, int64(1), p.Stats()["dropped"])
}

// TestPipeline_ConcurrentSubmitters exercises the submit path under
// contention; total fan-in must equal submitted minus dropped.
func TestPipeline_ConcurrentSubmitters(t *testing.T) {
	p := New(1024, zap.NewNop().Sugar())
	c := &collector{name: "c"}
	p.Register(c)
	p.Start()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ev := core.NewSecurityEvent(core.EventDataAccess)
				ev.SubjectID = fmt.Sprintf("g%d-%d", g, i)
				p.Submit(ev)
			}
		}(g)
	}
	wg.Wait()
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, stats["submitted"], int64(len(c.Seen())))
	assert.Equal(t, int64(400), stats["submitted"]+stats["dropped"])
}
