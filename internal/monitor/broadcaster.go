package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gpumon/gpumon/internal/gpu"
)

// Envelope is one broadcast message: the snapshot's metrics plus the
// per-device classification.
type Envelope struct {
	Timestamp string                       `json:"timestamp"`
	Metrics   map[gpu.DeviceID]gpu.Metrics `json:"metrics"`
	Status    map[gpu.DeviceID]Result      `json:"status"`
}

// Subscriber is an attached sink for envelopes. Send must not block; a
// returned error means the sink is dead and gets it removed.
type Subscriber interface {
	ID() string
	Send(env Envelope) error
	Close()
}

// Broadcaster drains the snapshot queue once per tick, updates each
// device's history window, classifies it, and fans the envelope out to
// every subscriber. It exclusively owns the history windows and the
// subscriber set: attach/detach requests are serviced on the loop
// goroutine, so iteration never races mutation.
type Broadcaster struct {
	period     time.Duration
	queue      *SnapshotQueue
	history    *History
	thresholds Thresholds
	l          *zap.SugaredLogger

	attach chan Subscriber
	detach chan string
	subs   map[string]Subscriber
}

func NewBroadcaster(period time.Duration, queue *SnapshotQueue, history *History, thresholds Thresholds, l *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		period:     period,
		queue:      queue,
		history:    history,
		thresholds: thresholds,
		l:          l,
		attach:     make(chan Subscriber, 16),
		detach:     make(chan string, 16),
		subs:       make(map[string]Subscriber),
	}
}

// Attach registers a subscriber. It takes effect on the loop goroutine.
func (b *Broadcaster) Attach(sub Subscriber) {
	b.attach <- sub
}

// Detach removes a subscriber by id. Unknown ids are ignored.
func (b *Broadcaster) Detach(id string) {
	b.detach <- id
}

// Run drives the broadcast loop until ctx is cancelled; it returns within
// one tick period of cancellation and closes all subscribers on the way
// out.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for id, sub := range b.subs {
				sub.Close()
				delete(b.subs, id)
			}
			return
		case sub := <-b.attach:
			b.subs[sub.ID()] = sub
			b.l.Infow("subscriber attached", "subscriber", sub.ID(), "total", len(b.subs))
		case id := <-b.detach:
			if sub, ok := b.subs[id]; ok {
				sub.Close()
				delete(b.subs, id)
				b.l.Infow("subscriber detached", "subscriber", id, "total", len(b.subs))
			}
		case <-ticker.C:
			b.tick()
		}
	}
}

// tick broadcasts the newest queued snapshot. An empty queue skips the
// tick entirely rather than re-sending stale data; subscribers see a gap
// only when sampling itself has stalled.
func (b *Broadcaster) tick() {
	snapshots := b.queue.DrainAll()
	if len(snapshots) == 0 {
		return
	}
	if dropped := len(snapshots) - 1; dropped > 0 {
		b.l.Debugw("skipping stale snapshots", "dropped", dropped)
	}

	env := b.assemble(snapshots[len(snapshots)-1])

	for id, sub := range b.subs {
		if err := sub.Send(env); err != nil {
			b.l.Errorw("subscriber send failed, removing", "subscriber", id, "error", err)
			sub.Close()
			delete(b.subs, id)
		}
	}
}

func (b *Broadcaster) assemble(snap gpu.Snapshot) Envelope {
	env := Envelope{
		Timestamp: snap.Timestamp.Format(time.RFC3339Nano),
		Metrics:   snap.Devices,
		Status:    make(map[gpu.DeviceID]Result, len(snap.Devices)),
	}
	for id, m := range snap.Devices {
		b.history.Update(id, m)
		env.Status[id] = b.thresholds.Classify(b.history.Window(id))
	}
	return env
}
