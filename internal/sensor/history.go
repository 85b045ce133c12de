package sensor

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

// DefaultHistoryCapacity is the number of points kept per sensor
const DefaultHistoryCapacity = 20

// History keeps the most recent readings of one sensor, oldest first.
type History struct {
	capacity int
	values   []float64
}

// NewHistory creates an empty history
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity, values: make([]float64, 0, capacity)}
}

// Append adds v, evicting the oldest value when full
func (h *History) Append(v float64) {
	if len(h.values) == h.capacity {
		copy(h.values, h.values[1:])
		h.values = h.values[:h.capacity-1]
	}
	h.values = append(h.values, v)
}

// Values returns a copy of the retained values, oldest first
func (h *History) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}

// Len returns the number of retained values
func (h *History) Len() int { return len(h.values) }

// Capacity returns the maximum number of retained values
func (h *History) Capacity() int { return h.capacity }

// Reset drops every value
func (h *History) Reset() {
	h.values = h.values[:0]
}

// Summary computes descriptive statistics of the retained values
func (h *History) Summary() models.HistorySummary {
	if len(h.values) == 0 {
		return models.HistorySummary{}
	}

	mean, std := stat.MeanStdDev(h.values, nil)
	if len(h.values) < 2 {
		std = 0
	}

	return models.HistorySummary{
		Count:  len(h.values),
		Min:    floats.Min(h.values),
		Max:    floats.Max(h.values),
		Mean:   mean,
		StdDev: std,
	}
}

// Histories holds one History per sensor kind
type Histories map[models.SensorKind]*History

// NewHistories creates a history for every known kind
func NewHistories(capacity int) Histories {
	hs := make(Histories, len(models.SensorKinds))
	for _, k := range models.SensorKinds {
		hs[k] = NewHistory(capacity)
	}
	return hs
}

// Snapshot copies the values of every kind
func (hs Histories) Snapshot() map[models.SensorKind][]float64 {
	out := make(map[models.SensorKind][]float64, len(hs))
	for k, h := range hs {
		out[k] = h.Values()
	}
	return out
}

// Reset clears every history
func (hs Histories) Reset() {
	for _, h := range hs {
		h.Reset()
	}
}
