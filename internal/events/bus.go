// Package events broadcasts run progress to subscribers. Each subscriber
// owns a bounded channel; sends never block the emitter. A subscriber that
// falls behind loses events (counted), it cannot stall the pipeline.
package events

import (
	"sync"

	"stageforge/backend/pkg/models"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type subscriber struct {
	runID string
	ch    chan models.Event
}

// Bus is an in-process, per-run event broadcaster. Delivery is at-most-once
// per subscriber; ordering follows emission order within one run.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	buffer  int
	dropped uint64
}

// NewBus creates a Bus. A non-positive buffer selects DefaultBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[int]*subscriber), buffer: buffer}
}

// Subscribe registers a listener for one run's events. The returned cancel
// function removes the subscription and closes the channel; it is safe to
// call more than once.
func (b *Bus) Subscribe(runID string) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{runID: runID, ch: make(chan models.Event, b.buffer)}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Emit delivers an event to every subscriber of its run. The send is
// non-blocking: a full subscriber channel drops the event.
func (b *Bus) Emit(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.runID != ev.RunID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Dropped returns the number of events discarded because a subscriber
// channel was full.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
