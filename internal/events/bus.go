// Package events is Milō's publish-subscribe broadcaster: it fans out
// Event values to every registered subscriber, assigning each a
// monotonically increasing sequence number under a single mutex.
package events

import (
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/models"
)

const subBufferSize = 256

// CloseReason is sent as the final value on a subscriber channel that the
// bus closes on its own (a slow consumer), so the HTTP boundary can tell the
// client why the stream ended. Unsubscribe closes the channel without one.
type CloseReason string

const (
	CloseSlowConsumer CloseReason = "slow_consumer"
	CloseUnsubscribed CloseReason = "unsubscribed"
)

type subscriber struct {
	id     string
	ch     chan models.Event
	closed bool
}

// Bus is the sole owner of the subscriber set (spec invariant: C8 owns it
// exclusively). Publish holds the lock for the whole fan-out, not only
// while it takes the sequence number; every send is non-blocking, so slow
// consumers never block the publisher or each other.
type Bus struct {
	mu    sync.Mutex
	subs  map[string]*subscriber
	seq   uint64
	start time.Time
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber), start: time.Now()}
}

// Subscribe registers id and returns a channel of events. The caller MUST
// eventually call Unsubscribe(id), or drain until the channel is closed.
func (b *Bus) Subscribe(id string) <-chan models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{id: id, ch: make(chan models.Event, subBufferSize)}
	b.subs[id] = sub
	return sub.ch
}

// Unsubscribe removes id's subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked(id, nil)
}

func (b *Bus) closeLocked(id string, reason *CloseReason) {
	sub, ok := b.subs[id]
	if !ok || sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, id)
	if reason != nil {
		// Best effort: make room for the close-reason event, dropping the
		// oldest queued event rather than blocking the publisher forever.
		select {
		case sub.ch <- models.Event{Type: string(*reason), Category: models.CategorySystem}:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- models.Event{Type: string(*reason), Category: models.CategorySystem}:
			default:
			}
		}
	}
	close(sub.ch)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish assigns ev the next sequence number and fans it out. Per spec
// §4.8/§5: critical categories (system, routing) never silently drop an
// event for a slow subscriber — that subscriber is instead closed with
// slow_consumer. Non-critical categories (plugin, volume, dsp, podcast)
// drop the event for that subscriber and continue.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	ev.TS = time.Since(b.start).Nanoseconds()

	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}

	var toClose []string
	for _, sub := range snapshot {
		select {
		case sub.ch <- ev:
		default:
			if ev.Category.Critical() {
				toClose = append(toClose, sub.id)
			}
			// else: drop silently, matching the teacher's non-blocking select/default.
		}
	}
	reason := CloseSlowConsumer
	for _, id := range toClose {
		b.closeLocked(id, &reason)
	}
	b.mu.Unlock()
}
