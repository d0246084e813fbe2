package nv

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gpumon/gpumon/internal/gpu"
)

// Liveness probes run a bare nvidia-smi; on a wedged driver that call can
// hang far longer than any metric read, so it gets a shorter leash than the
// other diagnostic commands.
const livenessTimeout = 5 * time.Second

func (p *Provider) runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Provider) CheckLiveness(ctx context.Context) bool {
	_, err := p.runCommand(ctx, livenessTimeout, "nvidia-smi")
	if err != nil {
		p.l.Errorw("nvidia-smi liveness probe failed", "error", err)
		return false
	}
	return true
}

func (p *Provider) ReadECC(ctx context.Context) (map[gpu.DeviceID]uint64, error) {
	out, err := p.runCommand(ctx, p.cmdTimeout, "nvidia-smi", "-q")
	if err != nil {
		return nil, err
	}
	return parseECCCounts(out), nil
}

func (p *Provider) ReadPowerError(ctx context.Context) (string, error) {
	out, err := p.runCommand(ctx, p.cmdTimeout, "nvidia-smi", "-q", "-d", "POWER")
	if err != nil {
		return "", err
	}
	return parsePowerErrors(out), nil
}

func (p *Provider) queryDriverVersion(ctx context.Context) (string, error) {
	out, err := p.runCommand(ctx, p.cmdTimeout, "nvidia-smi",
		"--query-gpu=driver_version", "--format=csv,noheader")
	if err != nil {
		return "", err
	}
	// One line per device; the driver is system-wide, take the first.
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(line), nil
}

// parseECCCounts extracts DRAM uncorrectable counters from `nvidia-smi -q`
// output. Only "DRAM Uncorrectable" lines within two lines of an
// "ECC Errors" heading count; the i-th such line belongs to device i.
func parseECCCounts(out string) map[gpu.DeviceID]uint64 {
	counts := make(map[gpu.DeviceID]uint64)
	lines := strings.Split(out, "\n")

	device := 0
	for i, line := range lines {
		if !strings.Contains(line, "ECC Errors") {
			continue
		}
		for j := i + 1; j < len(lines) && j <= i+2; j++ {
			if !strings.Contains(lines[j], "DRAM Uncorrectable") {
				continue
			}
			_, value, found := strings.Cut(lines[j], ":")
			if !found {
				continue
			}
			n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
			if err != nil {
				continue
			}
			counts[gpu.ID(device)] = n
			device++
		}
	}

	return counts
}

// parsePowerErrors keeps the lines of a `nvidia-smi -q -d POWER` report
// that mention an error. An empty result means the power report is clean.
func parsePowerErrors(out string) string {
	var errLines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Error") {
			errLines = append(errLines, strings.TrimSpace(line))
		}
	}
	return strings.Join(errLines, "\n")
}
