package models

import (
	"fmt"
	"time"
)

// SensorKind identifies a simulated sensor
type SensorKind string

const (
	SensorTemperature SensorKind = "temperature"
	SensorHumidity    SensorKind = "humidity"
	SensorPressure    SensorKind = "pressure"
	SensorLight       SensorKind = "light"
	SensorAirQuality  SensorKind = "airQuality"
)

// SensorKinds lists every kind in display order
var SensorKinds = []SensorKind{
	SensorTemperature,
	SensorHumidity,
	SensorPressure,
	SensorLight,
	SensorAirQuality,
}

// ParseSensorKind validates a kind name
func ParseSensorKind(s string) (SensorKind, error) {
	for _, k := range SensorKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown sensor kind %q", s)
}

// Unit returns the display unit of the kind
func (k SensorKind) Unit() string {
	switch k {
	case SensorTemperature:
		return "°C"
	case SensorHumidity:
		return "%"
	case SensorPressure:
		return "hPa"
	case SensorLight:
		return "lux"
	case SensorAirQuality:
		return "AQI"
	default:
		return ""
	}
}

// Discrete reports whether readings of this kind are whole numbers
func (k SensorKind) Discrete() bool {
	return k == SensorLight || k == SensorAirQuality
}

// Range is an inclusive [Min, Max] bound
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies in the range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// SensorReading is one generated value
type SensorReading struct {
	Kind      SensorKind `json:"kind"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit"`
	Timestamp time.Time  `json:"timestamp"`
}

// HistorySummary describes the retained values of one sensor
type HistorySummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}
