package monitor

import (
	"github.com/gpumon/gpumon/internal/gpu"
)

// History keeps the last few samples per device for the classifier.
// Windows are created lazily on first observation and never destroyed.
// The broadcaster is the single writer; no locking.
type History struct {
	size    int
	windows map[gpu.DeviceID][]gpu.Metrics
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{
		size:    size,
		windows: make(map[gpu.DeviceID][]gpu.Metrics),
	}
}

// Update appends a sample to the device's window, evicting the oldest
// entry once the window is full.
func (h *History) Update(id gpu.DeviceID, m gpu.Metrics) {
	w := append(h.windows[id], m)
	if len(w) > h.size {
		w = w[1:]
	}
	h.windows[id] = w
}

// Window returns a copy of the device's window, oldest sample first.
func (h *History) Window(id gpu.DeviceID) []gpu.Metrics {
	w := h.windows[id]
	out := make([]gpu.Metrics, len(w))
	copy(out, w)
	return out
}
