package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lab.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	s := cfg.Simulation

	assert.Equal(t, time.Second, s.UpdateInterval)
	assert.Equal(t, 5*time.Second, s.BaseInterval)
	assert.Equal(t, 500*time.Millisecond, s.StepPenalty)
	assert.Equal(t, 20, s.PayloadBytes)
	assert.Equal(t, 20, s.HistoryCapacity)
	assert.Equal(t, 10, s.LogCapacity)
	assert.Equal(t, 7, s.Radio.SpreadingFactor)
	assert.Equal(t, "esp32-multisensor", s.DefaultProfile)
	assert.Len(t, s.ConnectionSteps, 4)
	assert.Equal(t, models.DeviceConnected, s.ConnectionSteps[3].State)
	assert.Len(t, s.RelayStages, 3)
	assert.Equal(t, -85.0, s.Signal.Nominal)
	require.NoError(t, cfg.Validate())
}

func TestRelayStagesTotal(t *testing.T) {
	var total time.Duration
	for _, st := range Default().Simulation.RelayStages {
		total += st.Delay
	}
	assert.Equal(t, 2500*time.Millisecond, total)
}

func TestCycleDelay(t *testing.T) {
	s := Default().Simulation
	assert.Equal(t, 5000*time.Millisecond, s.CycleDelay(7))
	assert.Equal(t, 6500*time.Millisecond, s.CycleDelay(10))
	assert.Equal(t, 7500*time.Millisecond, s.CycleDelay(12))
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9000
simulation:
  radio:
    spreading_factor: 10
    bandwidth_khz: 250
    coding_rate: "4/6"
  base_interval: 3s
  history_capacity: 5
  sensor_ranges:
    temperature: { min: -10, max: 10 }
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, 10, cfg.Simulation.Radio.SpreadingFactor)
	assert.Equal(t, 250, cfg.Simulation.Radio.BandwidthKHz)
	assert.Equal(t, 3*time.Second, cfg.Simulation.BaseInterval)
	assert.Equal(t, 5, cfg.Simulation.HistoryCapacity)
	assert.Equal(t, models.Range{Min: -10, Max: 10}, cfg.Simulation.SensorRanges[models.SensorTemperature])
	// untouched values still get defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Simulation.StepPenalty)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LAB_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LAB_UPDATE_INTERVAL", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Simulation.UpdateInterval)
}

func TestLoadDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "lab.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MQTT_BROKER=tcp://mqtt:1883\n"), 0o600))
	t.Setenv("LAB_ENV_FILE", envFile)
	t.Setenv("MQTT_BROKER", "")
	require.NoError(t, os.Unsetenv("MQTT_BROKER"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"radio": `
simulation:
  radio: { spreading_factor: 13, bandwidth_khz: 125, coding_rate: "4/5" }
`,
		"profile": `
simulation:
  default_profile: toaster
`,
		"range": `
simulation:
  sensor_ranges:
    humidity: { min: 90, max: 30 }
`,
		"steps": `
simulation:
  connection_steps:
    - { state: scanning, delay: 1s }
`,
		"encoding": `
nats:
  encoding: xml
`,
		"jwt": `
jwt:
  enabled: true
`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "virtual-lab.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Simulation.ConnectionSteps, cfg.Simulation.ConnectionSteps)
	assert.Equal(t, Default().Simulation.RelayStages, cfg.Simulation.RelayStages)
}
