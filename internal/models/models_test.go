package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBars(t *testing.T) {
	assert.Equal(t, 0, SignalBars(-120))
	assert.Equal(t, 0, SignalBars(-130))
	assert.Equal(t, 2, SignalBars(-85))
	assert.Equal(t, 5, SignalBars(-50))
	assert.Equal(t, 5, SignalBars(-20))
}

func TestParseSensorKind(t *testing.T) {
	k, err := ParseSensorKind("airQuality")
	require.NoError(t, err)
	assert.Equal(t, SensorAirQuality, k)
	assert.True(t, k.Discrete())
	assert.False(t, SensorTemperature.Discrete())

	_, err = ParseSensorKind("co2")
	assert.Error(t, err)
}

func TestSessionSuccessRate(t *testing.T) {
	assert.Zero(t, TransmissionSession{}.SuccessRate())
	assert.InDelta(t, 75.0, TransmissionSession{PacketsSent: 4, PacketsReceived: 3}.SuccessRate(), 1e-9)
}

func TestDeviceLinkLabel(t *testing.T) {
	assert.Equal(t, "Scanning for Gateway...", DeviceScanning.Label())
	assert.Equal(t, "Disconnected", DeviceDisconnected.Label())
}
