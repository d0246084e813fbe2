package gpu

import (
	"context"

	"go.uber.org/zap"
)

// DummyProvider serves a fixed set of healthy synthetic devices. It exists
// so the daemon can run on machines without GPUs.
type DummyProvider struct {
	l     *zap.SugaredLogger
	count int
}

var _ Provider = (*DummyProvider)(nil)

func NewDummyProvider(l *zap.SugaredLogger, count int) *DummyProvider {
	return &DummyProvider{l: l, count: count}
}

func (p *DummyProvider) Init() error {
	p.l.Infow("dummy GPU provider initialized", "devices", p.count)
	return nil
}

func (p *DummyProvider) Shutdown() {
	p.l.Info("dummy GPU provider shutdown")
}

func (p *DummyProvider) DeviceCount() (int, error) {
	return p.count, nil
}

func (p *DummyProvider) ReadFast(index int) (Metrics, error) {
	return Metrics{
		Name:              "Dummy GPU",
		MemoryUsed:        1024,
		MemoryTotal:       16384,
		MemoryFree:        15360,
		UtilizationGPU:    42,
		UtilizationMemory: 6,
		Temperature:       55,
		PowerDraw:         120,
	}, nil
}

func (p *DummyProvider) ReadECC(ctx context.Context) (map[DeviceID]uint64, error) {
	counts := make(map[DeviceID]uint64, p.count)
	for i := 0; i < p.count; i++ {
		counts[ID(i)] = 0
	}
	return counts, nil
}

func (p *DummyProvider) ReadPowerError(ctx context.Context) (string, error) {
	return "", nil
}

func (p *DummyProvider) ReadDriverVersion(ctx context.Context) (string, error) {
	return "000.00", nil
}

func (p *DummyProvider) CheckLiveness(ctx context.Context) bool {
	return true
}
