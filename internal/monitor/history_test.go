package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gpumon/gpumon/internal/gpu"
)

func TestHistoryBoundedEviction(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Update("gpu_0", gpu.Metrics{Temperature: float64(i)})
	}

	w := h.Window("gpu_0")
	require.Len(t, w, 3)
	require.Equal(t, 2.0, w[0].Temperature)
	require.Equal(t, 4.0, w[2].Temperature)
}

func TestHistoryLazyCreation(t *testing.T) {
	h := NewHistory(10)
	require.Empty(t, h.Window("gpu_7"))

	h.Update("gpu_7", gpu.Metrics{Temperature: 50})
	require.Len(t, h.Window("gpu_7"), 1)
	require.Empty(t, h.Window("gpu_0"))
}

func TestHistoryWindowIsACopy(t *testing.T) {
	h := NewHistory(10)
	h.Update("gpu_0", gpu.Metrics{Temperature: 50})

	w := h.Window("gpu_0")
	w[0].Temperature = 99

	require.Equal(t, 50.0, h.Window("gpu_0")[0].Temperature)
}
