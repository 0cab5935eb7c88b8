// Package pipeline hands security events off the request path to
// asynchronous consumers. Submission never blocks: when the queue is
// saturated the oldest event is dropped and counted.
package pipeline

import (
	"sync"
	"sync/atomic"

	"bastion/core"
	"bastion/metrics"
	"bastion/util/goroutine"

	"go.uber.org/zap"
)

// Consumer processes every event submitted to the pipeline. Consumers
// are fan-out peers, not pipeline stages: each one sees each event.
type Consumer interface {
	Name() string
	Consume(event *core.SecurityEvent)
}

// consumerFunc adapts a function to the Consumer interface.
type consumerFunc struct {
	name string
	fn   func(*core.SecurityEvent)
}

func (c consumerFunc) Name() string                      { return c.name }
func (c consumerFunc) Consume(event *core.SecurityEvent) { c.fn(event) }

// ConsumerFunc wraps fn as a named Consumer.
func ConsumerFunc(name string, fn func(*core.SecurityEvent)) Consumer {
	return consumerFunc{name: name, fn: fn}
}

// Pipeline is the bounded, drop-oldest event queue feeding the
// correlator and the compliance generator.
type Pipeline struct {
	queue     chan *core.SecurityEvent
	consumers []Consumer
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	dropped   atomic.Int64
}

// New creates a pipeline with the given queue capacity.
func New(queueSize int, logger *zap.SugaredLogger) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		queue:  make(chan *core.SecurityEvent, queueSize),
		logger: logger,
	}
}

// Register adds a consumer. Must be called before Start.
func (p *Pipeline) Register(c Consumer) {
	p.consumers = append(p.consumers, c)
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.consume()
}

// Submit enqueues an event without blocking. When the queue is full the
// oldest queued event is dropped in favor of the new one.
func (p *Pipeline) Submit(event *core.SecurityEvent) {
	if event == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.drop()
		return
	}

	select {
	case p.queue <- event:
		p.submitted.Add(1)
		return
	default:
	}

	// Queue saturated: make room by discarding the oldest event.
	select {
	case <-p.queue:
		p.drop()
	default:
	}
	select {
	case p.queue <- event:
		p.submitted.Add(1)
	default:
		p.drop()
	}
}

func (p *Pipeline) drop() {
	p.dropped.Add(1)
	metrics.EventsDropped.Inc()
}

// Stop refuses further submissions, drains the queue to the consumers,
// and waits for the consumer goroutine to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pipeline) consume() {
	defer p.wg.Done()
	defer goroutine.Recover("event-pipeline", p.logger)

	for event := range p.queue {
		for _, c := range p.consumers {
			p.dispatch(c, event)
		}
	}
}

// dispatch isolates consumer panics so one bad event cannot take down
// the pipeline.
func (p *Pipeline) dispatch(c Consumer, event *core.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("pipeline consumer panicked",
				"consumer", c.Name(), "event_id", event.EventID, "panic", r)
		}
	}()
	c.Consume(event)
	metrics.EventsProcessed.WithLabelValues(c.Name()).Inc()
}

// Stats reports pipeline throughput counters.
func (p *Pipeline) Stats() map[string]int64 {
	return map[string]int64{
		"submitted": p.submitted.Load(),
		"dropped":   p.dropped.Load(),
		"queued":    int64(len(p.queue)),
	}
}
