// Package sensor produces simulated readings and keeps their bounded history.
package sensor

import (
	"math"
	"math/rand"
	"time"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

// DefaultRanges are the value bounds of each sensor kind
var DefaultRanges = map[models.SensorKind]models.Range{
	models.SensorTemperature: {Min: 15, Max: 35},
	models.SensorHumidity:    {Min: 30, Max: 90},
	models.SensorPressure:    {Min: 950, Max: 1050},
	models.SensorLight:       {Min: 0, Max: 1023},
	models.SensorAirQuality:  {Min: 0, Max: 500},
}

// Generator draws uniformly distributed readings. It is not safe for
// concurrent use; the lab only calls it from its scheduler.
type Generator struct {
	rnd    *rand.Rand
	ranges map[models.SensorKind]models.Range
}

// NewGenerator creates a generator. Kinds missing from ranges fall back to
// DefaultRanges.
func NewGenerator(rnd *rand.Rand, ranges map[models.SensorKind]models.Range) *Generator {
	merged := make(map[models.SensorKind]models.Range, len(DefaultRanges))
	for k, r := range DefaultRanges {
		merged[k] = r
	}
	for k, r := range ranges {
		merged[k] = r
	}
	return &Generator{rnd: rnd, ranges: merged}
}

// Range returns the configured bound of kind
func (g *Generator) Range(kind models.SensorKind) models.Range {
	return g.ranges[kind]
}

// Generate returns a value in r for kind: one decimal for continuous
// quantities, whole numbers for light and air quality.
func (g *Generator) Generate(kind models.SensorKind, r models.Range) float64 {
	v := g.rnd.Float64()*(r.Max-r.Min) + r.Min

	if kind.Discrete() {
		v = math.Round(v)
	} else {
		v = math.Round(v*10) / 10
	}

	// rounding may step just outside a bound that is not on the grid
	return math.Min(r.Max, math.Max(r.Min, v))
}

// Read generates a reading of kind using its configured range
func (g *Generator) Read(kind models.SensorKind, at time.Time) models.SensorReading {
	return models.SensorReading{
		Kind:      kind,
		Value:     g.Generate(kind, g.ranges[kind]),
		Unit:      kind.Unit(),
		Timestamp: at,
	}
}

// Uniform returns a value in [min, max) from the generator's source
func (g *Generator) Uniform(min, max float64) float64 {
	return g.rnd.Float64()*(max-min) + min
}
