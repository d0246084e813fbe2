package gpu

import (
	"fmt"
	"time"
)

// DeviceID identifies one accelerator. IDs are stable across the process
// lifetime and derived from the device ordinal ("gpu_0", "gpu_1", ...).
type DeviceID string

// ID returns the DeviceID for a device ordinal.
func ID(index int) DeviceID {
	return DeviceID(fmt.Sprintf("gpu_%d", index))
}

// Metrics is a point-in-time reading of one device. Fields refreshed on a
// slow cadence (ECCErrors, PowerError, DriverVersion) keep their last known
// value between refreshes; ECCErrors and PowerError stay nil until the
// corresponding diagnostic check has produced a result.
type Metrics struct {
	Name              string  `json:"name"`
	MemoryUsed        uint64  `json:"memory_used"`        // MiB
	MemoryTotal       uint64  `json:"memory_total"`       // MiB
	MemoryFree        uint64  `json:"memory_free"`        // MiB
	UtilizationGPU    uint32  `json:"utilization_gpu"`    // %
	UtilizationMemory uint32  `json:"utilization_memory"` // %
	Temperature       float64 `json:"temperature"`        // Celsius
	PowerDraw         float64 `json:"power_draw"`         // Watts
	DriverVersion     string  `json:"driver_version,omitempty"`
	NvidiaSmiOK       bool    `json:"nvidia_smi_ok"`
	ECCErrors         *uint64 `json:"ecc_errors,omitempty"`
	PowerError        *string `json:"power_error,omitempty"`
}

// MemoryRatio returns used/total, or 0 when total is unknown.
func (m Metrics) MemoryRatio() float64 {
	if m.MemoryTotal == 0 {
		return 0
	}
	return float64(m.MemoryUsed) / float64(m.MemoryTotal)
}

// Snapshot is one sampling tick over all known devices.
type Snapshot struct {
	Timestamp time.Time
	Devices   map[DeviceID]Metrics
}
