package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gpumon/gpumon/internal/gpu"
)

// SamplerConfig carries the sampling period and the cadences of the three
// slow diagnostic checks. Each cadence is tracked independently.
type SamplerConfig struct {
	Period         time.Duration
	ECCInterval    time.Duration
	PowerInterval  time.Duration
	DriverInterval time.Duration

	// CommandTimeout bounds each diagnostic command run.
	CommandTimeout time.Duration
}

func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Period:         time.Second,
		ECCInterval:    60 * time.Second,
		PowerInterval:  300 * time.Second,
		DriverInterval: 86400 * time.Second,
		CommandTimeout: 10 * time.Second,
	}
}

// Sampler polls the provider once per tick and pushes the merged
// multi-device snapshot into the queue. It owns its goroutine and is the
// queue's only producer.
type Sampler struct {
	cfg      SamplerConfig
	provider gpu.Provider
	queue    *SnapshotQueue
	l        *zap.SugaredLogger
	now      func() time.Time

	// Sampling state, touched only by the loop goroutine.
	last          map[gpu.DeviceID]gpu.Metrics
	eccCounts     map[gpu.DeviceID]uint64
	powerError    string
	driverVersion string
	lastECC       time.Time
	lastPower     time.Time
	lastDriver    time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSampler(cfg SamplerConfig, provider gpu.Provider, queue *SnapshotQueue, l *zap.SugaredLogger) *Sampler {
	return &Sampler{
		cfg:      cfg,
		provider: provider,
		queue:    queue,
		l:        l,
		now:      time.Now,
		last:     make(map[gpu.DeviceID]gpu.Metrics),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (s *Sampler) Start() {
	s.startOnce.Do(func() {
		var ctx context.Context
		ctx, s.cancel = context.WithCancel(context.Background())
		go s.loop(ctx)
	})
}

// Stop cancels the loop and waits for it to finish, at most wait.
func (s *Sampler) Stop(wait time.Duration) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(wait):
		s.l.Warnw("sampler did not stop in time", "wait", wait)
	}
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		s.queue.Push(s.collect(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// collect produces one snapshot over all devices. Nothing in here is
// allowed to escape as a panic or error: a failing read is logged and the
// device keeps its last known values for the tick.
func (s *Sampler) collect(ctx context.Context) gpu.Snapshot {
	now := s.now()
	s.refreshDiagnostics(ctx, now)

	smiOK := s.provider.CheckLiveness(ctx)

	count, err := s.provider.DeviceCount()
	if err != nil {
		s.l.Errorw("device count failed", "error", err)
		count = len(s.last)
	}

	devices := make(map[gpu.DeviceID]gpu.Metrics, count)
	for i := 0; i < count; i++ {
		id := gpu.ID(i)

		m, err := s.provider.ReadFast(i)
		if err != nil {
			s.l.Errorw("fast metric read failed", "device", id, "error", err)
			prev, ok := s.last[id]
			if !ok {
				continue
			}
			m = prev
		}

		s.overlayDiagnostics(&m, id, smiOK)
		s.last[id] = m
		devices[id] = m
	}

	return gpu.Snapshot{Timestamp: now, Devices: devices}
}

// refreshDiagnostics runs each slow check whose cadence has elapsed. A
// check that fails writes nothing: the retained result, set or not, stands,
// so a broken diagnostic never reads as "no error".
func (s *Sampler) refreshDiagnostics(ctx context.Context, now time.Time) {
	if now.Sub(s.lastECC) >= s.cfg.ECCInterval {
		s.lastECC = now
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		counts, err := s.provider.ReadECC(cctx)
		cancel()
		if err != nil {
			s.l.Errorw("ECC check failed", "check", "ecc", "error", err)
		} else {
			s.eccCounts = counts
		}
	}

	if now.Sub(s.lastPower) >= s.cfg.PowerInterval {
		s.lastPower = now
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		powerErr, err := s.provider.ReadPowerError(cctx)
		cancel()
		if err != nil {
			s.l.Errorw("power check failed", "check", "power", "error", err)
		} else {
			s.powerError = powerErr
		}
	}

	if now.Sub(s.lastDriver) >= s.cfg.DriverInterval {
		s.lastDriver = now
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		version, err := s.provider.ReadDriverVersion(cctx)
		cancel()
		if err != nil {
			s.l.Errorw("driver version check failed", "check", "driver", "error", err)
		} else if version != "" {
			s.driverVersion = version
		}
	}
}

func (s *Sampler) overlayDiagnostics(m *gpu.Metrics, id gpu.DeviceID, smiOK bool) {
	m.NvidiaSmiOK = smiOK

	if s.driverVersion != "" {
		m.DriverVersion = s.driverVersion
	}

	if count, ok := s.eccCounts[id]; ok {
		c := count
		m.ECCErrors = &c
	} else {
		m.ECCErrors = nil
	}

	if s.powerError != "" {
		e := s.powerError
		m.PowerError = &e
	} else {
		m.PowerError = nil
	}
}
