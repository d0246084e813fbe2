package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gpumon/gpumon/internal/gpu"
)

type fakeSub struct {
	id      string
	sendErr error

	mu     sync.Mutex
	sent   []Envelope
	closed bool
}

func (s *fakeSub) ID() string { return s.id }

func (s *fakeSub) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSub) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *SnapshotQueue) {
	q := NewSnapshotQueue(50)
	b := NewBroadcaster(10*time.Millisecond, q, NewHistory(10), DefaultThresholds(), zaptest.NewLogger(t).Sugar())
	return b, q
}

func testSnapshot(sec int, temp float64) gpu.Snapshot {
	return gpu.Snapshot{
		Timestamp: time.Unix(int64(sec), 0).UTC(),
		Devices: map[gpu.DeviceID]gpu.Metrics{
			"gpu_0": {
				Name:           "Test GPU",
				MemoryUsed:     1000,
				MemoryTotal:    10000,
				UtilizationGPU: 50,
				Temperature:    temp,
				PowerDraw:      100,
				NvidiaSmiOK:    true,
			},
		},
	}
}

func TestBroadcasterSkipsEmptyTick(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	sub := &fakeSub{id: "a"}
	b.subs[sub.id] = sub

	b.tick()
	require.Zero(t, sub.sentCount())
}

func TestBroadcasterUsesNewestSnapshot(t *testing.T) {
	b, q := newTestBroadcaster(t)
	sub := &fakeSub{id: "a"}
	b.subs[sub.id] = sub

	q.Push(testSnapshot(1, 60))
	q.Push(testSnapshot(2, 61))
	q.Push(testSnapshot(3, 62))

	b.tick()
	require.Equal(t, 1, sub.sentCount())
	require.Equal(t, time.Unix(3, 0).UTC().Format(time.RFC3339Nano), sub.sent[0].Timestamp)
	require.Equal(t, 0, q.Len())
}

func TestBroadcasterClassifiesEachDevice(t *testing.T) {
	b, q := newTestBroadcaster(t)
	sub := &fakeSub{id: "a"}
	b.subs[sub.id] = sub

	q.Push(testSnapshot(1, 60))
	b.tick()

	env := sub.sent[0]
	require.Contains(t, env.Status, gpu.DeviceID("gpu_0"))
	require.Equal(t, StatusNormal, env.Status["gpu_0"].Status)
	require.Len(t, b.history.Window("gpu_0"), 1)
}

func TestBroadcasterRemovesFailedSubscriberOnly(t *testing.T) {
	b, q := newTestBroadcaster(t)
	bad := &fakeSub{id: "bad", sendErr: errors.New("connection reset")}
	good := &fakeSub{id: "good"}
	b.subs[bad.id] = bad
	b.subs[good.id] = good

	q.Push(testSnapshot(1, 60))
	b.tick()

	require.Equal(t, 1, good.sentCount())
	require.True(t, bad.isClosed())
	require.NotContains(t, b.subs, "bad")
	require.Contains(t, b.subs, "good")

	q.Push(testSnapshot(2, 60))
	b.tick()
	require.Equal(t, 2, good.sentCount())
}

func TestBroadcasterRunLifecycle(t *testing.T) {
	b, q := newTestBroadcaster(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()

	sub := &fakeSub{id: "a"}
	b.Attach(sub)

	q.Push(testSnapshot(1, 60))
	require.Eventually(t, func() bool { return sub.sentCount() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop after cancellation")
	}
	require.True(t, sub.isClosed())
}

func TestBroadcasterDetachUnknownIsNoop(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()

	b.Detach("nobody")

	cancel()
	<-done
}

func TestEnvelopeWireFormat(t *testing.T) {
	b, q := newTestBroadcaster(t)
	sub := &fakeSub{id: "a"}
	b.subs[sub.id] = sub

	q.Push(testSnapshot(1, 60))
	b.tick()

	data, err := json.Marshal(sub.sent[0])
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "timestamp")
	require.Contains(t, decoded, "metrics")
	require.Contains(t, decoded, "status")

	var status map[string]Result
	require.NoError(t, json.Unmarshal(decoded["status"], &status))
	require.Equal(t, StatusNormal, status["gpu_0"].Status)

	// Optional diagnostic fields are absent, not null or zero.
	var metrics map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded["metrics"], &metrics))
	require.NotContains(t, metrics["gpu_0"], "ecc_errors")
	require.NotContains(t, metrics["gpu_0"], "power_error")
	require.Contains(t, metrics["gpu_0"], "nvidia_smi_ok")
}
