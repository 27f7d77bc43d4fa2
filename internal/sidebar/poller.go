package sidebar

import (
	"context"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/logger"
)

const (
	subscriberLimitMin = 10
	subscriberLimitMax = 200
)

// Poller drives the singleton patch bus: on first subscriber it begins
// building snapshots at an adaptive cadence and publishing diffs. While the
// subscriber count sits at zero it stops building, sleeps at the idle
// cadence, and resets the bus's previous snapshot so the next subscriber
// always gets a full upsert stream.
type Poller struct {
	builder *Builder
	bus     *Bus

	mu          sync.Mutex
	subscribers map[int]int
	nextID      int
	running     bool
}

// NewPoller returns a Poller over builder and bus, not yet started.
func NewPoller(builder *Builder, bus *Bus) *Poller {
	return &Poller{builder: builder, bus: bus, subscribers: map[int]int{}}
}

// Subscribe registers a client's requested limitPerDirectory, starting the
// poll loop if this is the first subscriber ever, and returns an id plus an
// unsubscribe function the caller must invoke on stream close. The loop's
// lifetime is the process's, not the subscriber's: it idles rather than
// exits when the last subscriber leaves.
func (p *Poller) Subscribe(ctx context.Context, limitPerDirectory int) (id int, unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id = p.nextID
	p.subscribers[id] = clampLimit(limitPerDirectory)
	if !p.running {
		p.running = true
		go p.run(context.Background())
	}
	p.mu.Unlock()

	return id, func() { p.unsubscribe(id) }
}

func (p *Poller) unsubscribe(id int) {
	p.mu.Lock()
	delete(p.subscribers, id)
	p.mu.Unlock()
}

func (p *Poller) subscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

func (p *Poller) maxLimit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	max := subscriberLimitMin
	for _, l := range p.subscribers {
		if l > max {
			max = l
		}
	}
	return clampLimit(max)
}

func clampLimit(l int) int {
	if l < subscriberLimitMin {
		return subscriberLimitMin
	}
	if l > subscriberLimitMax {
		return subscriberLimitMax
	}
	return l
}

func (p *Poller) run(ctx context.Context) {
	for {
		if p.subscriberCount() == 0 {
			p.bus.ResetPrev()
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollIntervalIdle):
			}
			continue
		}

		limit := p.maxLimit()
		snap, _, err := p.builder.Build(ctx, limit, nil)
		if err != nil {
			logger.Sidebar().Warn().Err(err).Msg("sidebar snapshot build failed")
		} else {
			p.bus.Publish(snap, time.Now())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.bus.NextPollInterval()):
		}
	}
}
