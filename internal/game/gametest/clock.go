package gametest

import (
	"context"
	"sync"
	"time"

	"ruleta/internal/game"
)

// ManualClock is a time source that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Recorder collects broadcast snapshots.
type Recorder struct {
	mu        sync.Mutex
	snapshots []game.Snapshot
}

func (r *Recorder) BroadcastSnapshot(_ string, s game.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *Recorder) Snapshots() []game.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]game.Snapshot, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

func (r *Recorder) Last() (game.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return game.Snapshot{}, false
	}
	return r.snapshots[len(r.snapshots)-1], true
}

type Published struct {
	Topic   string
	Key     string
	Payload any
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []Published
	Err    error
}

func (p *Publisher) Publish(_ context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Topic: topic, Key: key, Payload: payload})
	return p.Err
}

func (p *Publisher) Close() error { return nil }

func (p *Publisher) Topic(topic string) []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Published
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
