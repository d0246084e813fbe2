package gpu

import "context"

// Provider answers point-in-time telemetry questions about the local GPUs.
// Fast reads come from the management library; the remaining checks shell
// out to diagnostic tooling and take a context carrying their timeout.
// Every method may fail; callers are expected to log and carry on.
type Provider interface {
	Init() error
	Shutdown()

	DeviceCount() (int, error)
	ReadFast(index int) (Metrics, error)

	// ReadECC returns DRAM uncorrectable error counts per device. Devices
	// absent from the map produced no counter.
	ReadECC(ctx context.Context) (map[DeviceID]uint64, error)

	// ReadPowerError returns diagnostic output about power subsystem
	// errors, or "" when the power report is clean.
	ReadPowerError(ctx context.Context) (string, error)

	ReadDriverVersion(ctx context.Context) (string, error)

	// CheckLiveness reports whether the diagnostic tool responds at all.
	CheckLiveness(ctx context.Context) bool
}
