package monitor

import (
	"fmt"
	"math"
	"strings"

	"github.com/gpumon/gpumon/internal/gpu"
)

// Status is the classified health of one device. Severity is totally
// ordered: CRITICAL > FLUCTUATING > NORMAL.
type Status int

const (
	StatusNormal Status = iota
	StatusFluctuating
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusFluctuating:
		return "FLUCTUATING"
	case StatusCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "NORMAL":
		*s = StatusNormal
	case "FLUCTUATING":
		*s = StatusFluctuating
	case "CRITICAL":
		*s = StatusCritical
	default:
		return fmt.Errorf("unknown status %s", data)
	}
	return nil
}

// Result pairs a status with a human-readable reason.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

// Thresholds configures the classifier. Zero value is not usable; start
// from DefaultThresholds.
type Thresholds struct {
	// Temperature, Celsius.
	TempWarning  float64 `mapstructure:"temp_warning"`
	TempCritical float64 `mapstructure:"temp_critical"`

	// GPU utilization load buckets, percent.
	UtilLow    float64 `mapstructure:"util_low"`
	UtilNormal float64 `mapstructure:"util_normal"`
	UtilHigh   float64 `mapstructure:"util_high"`

	// Fluctuation limits, population standard deviation over the window.
	UtilStdWarning  float64 `mapstructure:"util_std_warning"`
	PowerStdWarning float64 `mapstructure:"power_std_warning"`

	// Memory pressure, used/total ratio.
	MemoryNormal   float64 `mapstructure:"memory_normal"`
	MemoryHigh     float64 `mapstructure:"memory_high"`
	MemoryCritical float64 `mapstructure:"memory_critical"`

	ECCWarning uint64 `mapstructure:"ecc_warning"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TempWarning:     75,
		TempCritical:    85,
		UtilLow:         5,
		UtilNormal:      80,
		UtilHigh:        95,
		UtilStdWarning:  15,
		PowerStdWarning: 20,
		MemoryNormal:    0.80,
		MemoryHigh:      0.90,
		MemoryCritical:  0.95,
		ECCWarning:      1,
	}
}

const reasonSeparator = " | "

// Classify maps a device's history window (oldest first) to a status and
// reason. It is a pure function of the window: same window in, same result
// out, no state carried between calls and so no hysteresis — a single noisy
// sample can flip the status between ticks.
func (t Thresholds) Classify(window []gpu.Metrics) Result {
	if len(window) == 0 {
		return Result{StatusCritical, "no monitoring data"}
	}

	latest := window[len(window)-1]

	if !latest.NvidiaSmiOK {
		return Result{StatusCritical, "diagnostic tool unresponsive"}
	}

	if latest.PowerError != nil && *latest.PowerError != "" {
		return Result{StatusCritical, *latest.PowerError}
	}

	memRatio := latest.MemoryRatio()

	var critical []string
	if latest.ECCErrors != nil && *latest.ECCErrors >= t.ECCWarning {
		critical = append(critical, fmt.Sprintf("ECC errors: %d", *latest.ECCErrors))
	}
	if latest.Temperature >= t.TempCritical {
		critical = append(critical, fmt.Sprintf("temperature too high (%.1f°C)", latest.Temperature))
	}
	if memRatio >= t.MemoryCritical {
		critical = append(critical, fmt.Sprintf("memory usage too high (%.1f%%)", memRatio*100))
	}
	if len(critical) > 0 {
		return Result{StatusCritical, strings.Join(critical, reasonSeparator)}
	}

	var warnings []string
	if len(window) >= 3 {
		utils := make([]float64, len(window))
		powers := make([]float64, len(window))
		for i, m := range window {
			utils[i] = float64(m.UtilizationGPU)
			powers[i] = m.PowerDraw
		}
		if s := stddev(utils); s >= t.UtilStdWarning {
			warnings = append(warnings, fmt.Sprintf("utilization fluctuation (σ=%.1f)", s))
		}
		if s := stddev(powers); s >= t.PowerStdWarning {
			warnings = append(warnings, fmt.Sprintf("power draw fluctuation (σ=%.1f)", s))
		}
	}
	if latest.Temperature >= t.TempWarning {
		warnings = append(warnings, fmt.Sprintf("temperature elevated (%.1f°C)", latest.Temperature))
	}
	if memRatio >= t.MemoryHigh {
		warnings = append(warnings, fmt.Sprintf("memory usage elevated (%.1f%%)", memRatio*100))
	}
	if len(warnings) > 0 {
		return Result{StatusFluctuating, strings.Join(warnings, reasonSeparator)}
	}

	var tags []string
	switch util := float64(latest.UtilizationGPU); {
	case util < t.UtilLow:
		tags = append(tags, "low load")
	case util > t.UtilNormal:
		tags = append(tags, "high load")
	default:
		tags = append(tags, "normal load")
	}
	if memRatio > t.MemoryNormal {
		tags = append(tags, "high memory")
	}
	if fields := strings.Fields(latest.DriverVersion); len(fields) > 0 {
		tags = append(tags, "driver "+fields[0])
	}

	reason := strings.Join(tags, reasonSeparator)
	if reason == "" {
		reason = "operating normally"
	}
	return Result{StatusNormal, reason}
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}
