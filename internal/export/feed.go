package export

import (
	"sync"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// Record is one entry of the live export sequence: either a sample or a
// safety event.
type Record struct {
	Sample *telemetry.Sample      `json:"sample,omitempty"`
	Event  *interlock.SafetyEvent `json:"event,omitempty"`
}

// Feed fans records out to subscribers. Subscribers may join at any point and
// receive only records published after subscription; there is no replay.
// Publishing never blocks: a subscriber that falls behind loses records.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Record
	nextID int
	buffer int
}

// NewFeed creates a feed whose subscriber channels buffer the given number of
// records.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 256
	}
	return &Feed{subs: make(map[int]chan Record), buffer: buffer}
}

// Subscribe registers a new subscriber. The cancel function must be called
// exactly once; it closes the channel.
func (f *Feed) Subscribe() (<-chan Record, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan Record, f.buffer)
	f.subs[id] = ch
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (f *Feed) publish(r Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// PublishSample forwards a sample to every subscriber.
func (f *Feed) PublishSample(s telemetry.Sample) {
	f.publish(Record{Sample: &s})
}

// PublishEvent forwards a safety event to every subscriber.
func (f *Feed) PublishEvent(ev interlock.SafetyEvent) {
	f.publish(Record{Event: &ev})
}

// Pump copies records from a subscription into a writer until the channel is
// closed or ctx is cancelled via the subscription's cancel func. Write errors
// are returned to the caller.
func Pump(ch <-chan Record, w Writer) error {
	for r := range ch {
		switch {
		case r.Sample != nil:
			if err := w.WriteSample(*r.Sample); err != nil {
				return err
			}
		case r.Event != nil:
			if err := w.WriteSafetyEvent(*r.Event); err != nil {
				return err
			}
		}
	}
	return nil
}
