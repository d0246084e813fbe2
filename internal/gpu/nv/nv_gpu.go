package nv

import (
	"context"
	"fmt"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"go.uber.org/zap"

	"github.com/gpumon/gpumon/internal/gpu"
)

const mib = 1024 * 1024

// Provider reads fast metrics through NVML and runs the slower diagnostic
// checks by shelling out to nvidia-smi.
type Provider struct {
	l          *zap.SugaredLogger
	cmdTimeout time.Duration

	driverVersion string
}

var _ gpu.Provider = (*Provider)(nil)

func New(l *zap.SugaredLogger, cmdTimeout time.Duration) (*Provider, error) {
	return &Provider{l: l, cmdTimeout: cmdTimeout}, nil
}

func (p *Provider) Init() error {
	p.l.Info("initializing NVML")
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("unable to initialize NVML: %v", nvml.ErrorString(ret))
	}

	p.driverVersion, ret = nvml.SystemGetDriverVersion()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("unable to get driver version: %v", nvml.ErrorString(ret))
	}
	p.l.Infof("driver: %s", p.driverVersion)

	return nil
}

func (p *Provider) Shutdown() {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		p.l.Errorf("unable to shutdown NVML: %v", nvml.ErrorString(ret))
	}
}

func (p *Provider) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("unable to get device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

func (p *Provider) ReadFast(index int) (gpu.Metrics, error) {
	m := gpu.Metrics{DriverVersion: p.driverVersion}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return m, fmt.Errorf("unable to get device at index %d: %v", index, nvml.ErrorString(ret))
	}

	{
		m.Name, ret = device.GetName()
		if ret != nvml.SUCCESS {
			return m, formatError("name", index, ret)
		}
	}

	{
		mi2, ret := device.GetMemoryInfo_v2()
		if ret != nvml.SUCCESS {
			mi, ret := device.GetMemoryInfo()
			if ret != nvml.SUCCESS {
				return m, formatError("memory info", index, ret)
			}
			m.MemoryTotal = mi.Total / mib
			m.MemoryUsed = mi.Used / mib
			m.MemoryFree = mi.Free / mib
		} else {
			m.MemoryTotal = mi2.Total / mib
			m.MemoryUsed = mi2.Used / mib
			m.MemoryFree = mi2.Free / mib
		}
	}

	{
		util, ret := device.GetUtilizationRates()
		if ret != nvml.SUCCESS {
			err := formatError("utilization rates", index, ret)
			if isNotSupported(ret) {
				p.l.Debugf("%v", err)
			} else {
				return m, err
			}
		} else {
			m.UtilizationGPU = util.Gpu
			m.UtilizationMemory = util.Memory
		}
	}

	{
		temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU)
		if ret != nvml.SUCCESS {
			err := formatError("gpu temperature", index, ret)
			if isNotSupported(ret) {
				p.l.Debugf("%v", err)
			} else {
				return m, err
			}
		} else {
			m.Temperature = float64(temp)
		}
	}

	{
		power, ret := device.GetPowerUsage()
		if ret != nvml.SUCCESS {
			err := formatError("power usage", index, ret)
			if isNotSupported(ret) {
				p.l.Debugf("%v", err)
			} else {
				return m, err
			}
		} else {
			m.PowerDraw = float64(power) / 1000 // milliwatts
		}
	}

	return m, nil
}

func (p *Provider) ReadDriverVersion(ctx context.Context) (string, error) {
	v, err := p.queryDriverVersion(ctx)
	if err != nil {
		return "", err
	}
	p.driverVersion = v
	return v, nil
}

func isNotSupported(ret nvml.Return) bool {
	return ret == nvml.ERROR_NOT_SUPPORTED
}

func formatError(what string, idx int, ret nvml.Return) error {
	return fmt.Errorf("unable to get %s of device at index %d: %v", what, idx, nvml.ErrorString(ret))
}
