package simulation

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/clock"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

var validIdentity = models.DeviceIdentity{
	DevEUI: "0123456789ABCDEF",
	AppEUI: "FEDCBA9876543210",
	AppKey: "00112233445566778899AABBCCDDEEFF",
}

type stageEvent struct {
	fCnt  uint32
	stage models.RelayStage
	at    time.Time
}

type recorder struct {
	clock    clock.Scheduler
	statuses []models.ConnectionStatus
	readings [][]models.SensorReading
	stats    []models.Stats
	logs     []models.LogEntry
	stages   []stageEvent
}

func (r *recorder) OnConnectionStateChanged(status models.ConnectionStatus) {
	r.statuses = append(r.statuses, status)
}

func (r *recorder) OnReadingsUpdated(readings []models.SensorReading, _ map[models.SensorKind][]float64) {
	r.readings = append(r.readings, readings)
}

func (r *recorder) OnStatsUpdated(stats models.Stats) {
	r.stats = append(r.stats, stats)
}

func (r *recorder) OnLogAppended(entry models.LogEntry) {
	r.logs = append(r.logs, entry)
}

func (r *recorder) OnPacketStage(pkt models.Packet, stage models.RelayStage) {
	r.stages = append(r.stages, stageEvent{fCnt: pkt.FCnt, stage: stage, at: r.clock.Now()})
}

func (r *recorder) messages() []string {
	out := make([]string, len(r.logs))
	for i, e := range r.logs {
		out[i] = e.Message
	}
	return out
}

func (r *recorder) sends() []stageEvent {
	var out []stageEvent
	for _, s := range r.stages {
		if s.stage == models.StageDeviceToGateway {
			out = append(out, s)
		}
	}
	return out
}

func newTestLab(t *testing.T) (*Lab, *clock.Virtual, *recorder) {
	t.Helper()
	vc := clock.NewVirtual(epoch)
	rec := &recorder{clock: vc}
	lab := NewLab(config.Default().Simulation, vc, rec, rand.New(rand.NewSource(42)))
	return lab, vc, rec
}

func TestActivateRejectsShortDevEUI(t *testing.T) {
	lab, _, rec := newTestLab(t)

	id := validIdentity
	id.DevEUI = "0123456789ABCDE"
	err := lab.Activate(id)
	require.ErrorIs(t, err, ErrInvalidIdentity)

	snap := lab.Snapshot()
	assert.False(t, snap.Activated)
	assert.Equal(t, models.DeviceDisconnected, snap.Connection.Device)
	assert.Zero(t, snap.Session.FrameCounter)

	require.NotEmpty(t, rec.logs)
	assert.Equal(t, models.EventLevelError, rec.logs[len(rec.logs)-1].Level)
}

func TestActivateRejectsNonHex(t *testing.T) {
	lab, _, _ := newTestLab(t)

	id := validIdentity
	id.AppKey = "00112233445566778899AABBCCDDEEFG"
	assert.ErrorIs(t, lab.Activate(id), ErrInvalidIdentity)
	assert.False(t, lab.Snapshot().Activated)
}

func TestActivateAcceptsValidIdentity(t *testing.T) {
	lab, _, _ := newTestLab(t)

	id := validIdentity
	id.DevEUI = strings.ToLower(id.DevEUI)
	require.NoError(t, lab.Activate(id))

	snap := lab.Snapshot()
	assert.True(t, snap.Activated)
	assert.Equal(t, "0123456789ABCDEF", snap.Identity.DevEUI)
	assert.Equal(t, models.DeviceScanning, snap.Connection.Device)
	assert.NotEqual(t, [16]byte{}, [16]byte(snap.Session.ID))
}

func TestActivateRejectsPaddedIdentity(t *testing.T) {
	lab, _, _ := newTestLab(t)

	id := validIdentity
	id.DevEUI = " " + id.DevEUI + " "
	assert.ErrorIs(t, lab.Activate(id), ErrInvalidIdentity)
	assert.False(t, lab.Snapshot().Activated)
}

func TestActivateLogsDecodedIdentity(t *testing.T) {
	lab, _, rec := newTestLab(t)

	id := validIdentity
	id.AppEUI = strings.ToLower(id.AppEUI)
	require.NoError(t, lab.Activate(id))

	var details models.Variables
	for _, e := range rec.logs {
		if strings.Contains(e.Message, "activation initiated") {
			details = e.Details
		}
	}
	require.NotNil(t, details)

	devEUI, ok := details["devEUI"].(lorawan.EUI64)
	require.True(t, ok)
	assert.Equal(t, "0123456789ABCDEF", devEUI.String())
	assert.Equal(t, "FEDCBA9876543210", lab.Snapshot().Identity.AppEUI)
}

func TestActivateTwiceRefused(t *testing.T) {
	lab, _, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	assert.ErrorIs(t, lab.Activate(validIdentity), ErrAlreadyActivated)
}

func TestJoinLogOrder(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(10 * time.Second)

	want := []string{"activation initiated", "Join Request sent", "Join Accept received", "successfully joined", "Network server link established"}
	msgs := rec.messages()
	next := 0
	for _, m := range msgs {
		if next < len(want) && strings.Contains(m, want[next]) {
			next++
		}
	}
	assert.Equal(t, len(want), next, "log sequence: %v", msgs)
}

func TestJoinTiming(t *testing.T) {
	lab, vc, _ := newTestLab(t)
	status := func() models.ConnectionStatus { return lab.Snapshot().Connection }

	require.NoError(t, lab.Activate(validIdentity))
	assert.Equal(t, models.DeviceScanning, status().Device)
	assert.Equal(t, -120.0, status().SignalStrength)

	vc.Advance(999 * time.Millisecond)
	assert.Equal(t, models.DeviceScanning, status().Device)
	vc.Advance(time.Millisecond)
	assert.Equal(t, models.DeviceConnecting, status().Device)

	vc.Advance(2 * time.Second)
	assert.Equal(t, models.DeviceAuthenticating, status().Device)

	vc.Advance(2499 * time.Millisecond)
	assert.Equal(t, models.DeviceAuthenticating, status().Device)
	vc.Advance(time.Millisecond)
	assert.Equal(t, models.DeviceConnected, status().Device)
	assert.Equal(t, -85.0, status().SignalStrength)
	assert.Equal(t, models.ServerDisconnected, status().Server)

	vc.Advance(500 * time.Millisecond)
	assert.Equal(t, models.ServerConnecting, status().Server)
	vc.Advance(time.Second)
	assert.Equal(t, models.ServerConnected, status().Server)
}

func TestStartBeforeActivation(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	assert.ErrorIs(t, lab.Start(), ErrNotActivated)
	require.NotEmpty(t, rec.logs)
	assert.Equal(t, models.EventLevelWarning, rec.logs[len(rec.logs)-1].Level)

	vc.Advance(time.Minute)
	assert.Zero(t, lab.Snapshot().Session.PacketsSent)
	assert.Empty(t, rec.stages)
}

func TestFrameCounterIncrementsPerCycle(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	assert.Equal(t, uint32(1), lab.Snapshot().Session.FrameCounter)

	for i := 2; i <= 6; i++ {
		vc.Advance(5 * time.Second)
		assert.Equal(t, uint32(i), lab.Snapshot().Session.FrameCounter)
	}
}

func TestPacketsReceivedNeverExceedSent(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())

	for i := 0; i < 400; i++ {
		vc.Advance(100 * time.Millisecond)
		s := lab.Snapshot().Session
		require.LessOrEqual(t, s.PacketsReceived, s.PacketsSent)
		require.Equal(t, s.FrameCounter, s.PacketsSent)
	}
}

func TestSecondCycleDelayAtSF10(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	require.NoError(t, lab.SetRadioConfig(lorawan.RadioConfig{SpreadingFactor: 10, BandwidthKHz: 125, CodingRate: lorawan.CodingRate45}))
	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())

	vc.Advance(6499 * time.Millisecond)
	require.Len(t, rec.sends(), 1)

	vc.Advance(time.Millisecond)
	sends := rec.sends()
	require.Len(t, sends, 2)
	assert.GreaterOrEqual(t, sends[1].at.Sub(sends[0].at), 6500*time.Millisecond)
	assert.Equal(t, int64(6500), lab.Snapshot().CycleDelayMs)
}

func TestRelayStages(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	vc.Advance(3 * time.Second)

	require.Len(t, rec.stages, 4)
	want := []struct {
		stage  models.RelayStage
		offset time.Duration
	}{
		{models.StageDeviceToGateway, 0},
		{models.StageGatewayToServer, 800 * time.Millisecond},
		{models.StageServerToApp, 1800 * time.Millisecond},
		{models.StageDelivered, 2500 * time.Millisecond},
	}
	for i, w := range want {
		assert.Equal(t, w.stage, rec.stages[i].stage)
		assert.Equal(t, w.offset, rec.stages[i].at.Sub(epoch))
		assert.Equal(t, uint32(1), rec.stages[i].fCnt)
	}

	s := lab.Snapshot()
	assert.Equal(t, uint32(1), s.Session.PacketsReceived)
	assert.InDelta(t, 100.0, s.Stats.SuccessRate, 1e-9)
	require.Len(t, rec.readings, 1)
	assert.Len(t, rec.readings[0], 4)
}

func TestPauseLetsInFlightPacketsLand(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	vc.Advance(100 * time.Millisecond)
	require.NoError(t, lab.Pause())

	vc.Advance(20 * time.Second)

	s := lab.Snapshot().Session
	assert.False(t, s.IsTransmitting)
	assert.Equal(t, uint32(1), s.PacketsSent)
	assert.Equal(t, uint32(1), s.PacketsReceived)

	// resuming keeps counting from where it stopped
	require.NoError(t, lab.Start())
	assert.Equal(t, uint32(2), lab.Snapshot().Session.FrameCounter)
}

func TestResetClearsSession(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	vc.Advance(6 * time.Second)

	s := lab.Snapshot().Session
	require.Equal(t, uint32(2), s.PacketsSent)
	require.Equal(t, uint32(1), s.PacketsReceived)

	lab.Reset()

	snap := lab.Snapshot()
	assert.Zero(t, snap.Session.FrameCounter)
	assert.Zero(t, snap.Session.PacketsSent)
	assert.Zero(t, snap.Session.PacketsReceived)
	assert.Equal(t, models.DeviceDisconnected, snap.Connection.Device)
	assert.Equal(t, models.ServerDisconnected, snap.Connection.Server)
	assert.False(t, snap.Activated)
	assert.Empty(t, snap.History[models.SensorTemperature])
	assert.Equal(t, 100.0, snap.Stats.BatteryLevel)

	// the packet that was in flight must not land in the new session
	vc.Advance(time.Minute)
	snap = lab.Snapshot()
	assert.Zero(t, snap.Session.PacketsReceived)
	assert.Zero(t, snap.Session.PacketsSent)
	assert.Equal(t, models.DeviceDisconnected, snap.Connection.Device)

	// and the lab can be activated again
	require.NoError(t, lab.Activate(validIdentity))
}

func TestResetCancelsJoinInProgress(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(1500 * time.Millisecond)
	require.Equal(t, models.DeviceConnecting, lab.Snapshot().Connection.Device)

	lab.Reset()
	vc.Advance(30 * time.Second)

	assert.Equal(t, models.DeviceDisconnected, lab.Snapshot().Connection.Device)
	for _, m := range rec.messages() {
		assert.NotContains(t, m, "successfully joined")
	}
}

func TestRadioLockedWhileTransmitting(t *testing.T) {
	lab, _, rec := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())

	err := lab.SetRadioConfig(lorawan.RadioConfig{SpreadingFactor: 12, BandwidthKHz: 125, CodingRate: lorawan.CodingRate45})
	assert.ErrorIs(t, err, ErrTransmitting)
	assert.Equal(t, 7, lab.Snapshot().Radio.SpreadingFactor)
	assert.Equal(t, models.EventLevelWarning, rec.logs[len(rec.logs)-1].Level)

	assert.ErrorIs(t, lab.SelectDevice("weather-station"), ErrTransmitting)
}

func TestSetRadioConfigInvalid(t *testing.T) {
	lab, _, _ := newTestLab(t)

	err := lab.SetRadioConfig(lorawan.RadioConfig{SpreadingFactor: 6, BandwidthKHz: 125, CodingRate: lorawan.CodingRate45})
	assert.ErrorIs(t, err, ErrInvalidRadioConfig)
	assert.Equal(t, lorawan.DefaultRadioConfig(), lab.Snapshot().Radio)
}

func TestSetRadioConfigUpdatesStats(t *testing.T) {
	lab, _, rec := newTestLab(t)

	radio := lorawan.RadioConfig{SpreadingFactor: 12, BandwidthKHz: 125, CodingRate: lorawan.CodingRate48}
	require.NoError(t, lab.SetRadioConfig(radio))

	require.NotEmpty(t, rec.stats)
	last := rec.stats[len(rec.stats)-1]
	assert.Equal(t, radio.DataRateBps(), last.DataRateBps)
	assert.InDelta(t, radio.AirtimeMs(20), last.AirtimeMs, 1e-9)
	assert.Equal(t, 0, lab.Snapshot().DataRateIndex)
}

func TestDeactivateDisconnectTiming(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(8 * time.Second)
	require.Equal(t, models.ServerConnected, lab.Snapshot().Connection.Server)

	require.NoError(t, lab.Deactivate())
	c := lab.Snapshot().Connection
	assert.Equal(t, models.ServerDisconnected, c.Server)
	assert.Equal(t, models.DeviceConnected, c.Device)

	vc.Advance(999 * time.Millisecond)
	assert.Equal(t, models.DeviceConnected, lab.Snapshot().Connection.Device)

	vc.Advance(time.Millisecond)
	c = lab.Snapshot().Connection
	assert.Equal(t, models.DeviceDisconnected, c.Device)
	assert.Equal(t, -120.0, c.SignalStrength)

	assert.ErrorIs(t, lab.Deactivate(), ErrNotActivated)
}

func TestDeactivateDeliversInFlightPackets(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(8 * time.Second)
	require.NoError(t, lab.Start())
	vc.Advance(100 * time.Millisecond)

	require.NoError(t, lab.Deactivate())
	vc.Advance(time.Minute)

	s := lab.Snapshot().Session
	assert.Equal(t, uint32(1), s.PacketsSent)
	assert.Equal(t, s.PacketsSent, s.PacketsReceived)
	assert.Equal(t, 100.0, s.SuccessRate())
}

func TestReactivateDropsPacketsOfOldSession(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(8 * time.Second)
	require.NoError(t, lab.Start())
	vc.Advance(100 * time.Millisecond)

	require.NoError(t, lab.Deactivate())
	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(time.Minute)

	s := lab.Snapshot().Session
	assert.Zero(t, s.PacketsSent)
	assert.Zero(t, s.PacketsReceived)
}

func TestSignalDriftStaysInBounds(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(10 * time.Minute)

	var prev *models.ConnectionStatus
	drifted := 0
	for i := range rec.statuses {
		s := rec.statuses[i]
		assert.GreaterOrEqual(t, s.SignalStrength, -120.0)
		assert.LessOrEqual(t, s.SignalStrength, -50.0)
		if prev != nil && prev.Device == models.DeviceConnected && s.Device == models.DeviceConnected && prev.Server == s.Server {
			assert.LessOrEqual(t, abs(s.SignalStrength-prev.SignalStrength), 2.0+1e-9)
			drifted++
		}
		prev = &rec.statuses[i]
	}
	assert.Greater(t, drifted, 500)
}

func TestSensorSelection(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	require.NoError(t, lab.SelectDevice("weather-station"))
	require.NoError(t, lab.SetSensorEnabled(models.SensorLight, true))
	assert.ErrorIs(t, lab.SetSensorEnabled("co2", true), ErrUnknownSensor)
	assert.ErrorIs(t, lab.SelectDevice("toaster"), ErrUnknownProfile)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	vc.Advance(3 * time.Second)

	require.Len(t, rec.readings, 1)
	var kinds []models.SensorKind
	for _, r := range rec.readings[0] {
		kinds = append(kinds, r.Kind)
		assert.Equal(t, r.Kind.Unit(), r.Unit)
	}
	assert.Equal(t, []models.SensorKind{models.SensorTemperature, models.SensorHumidity, models.SensorPressure, models.SensorLight}, kinds)
}

func TestHistoryAndLogAreBounded(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	vc.Advance(30 * 5 * time.Second)

	snap := lab.Snapshot()
	require.GreaterOrEqual(t, snap.Session.PacketsSent, uint32(25))
	assert.Len(t, snap.History[models.SensorTemperature], 20)
	assert.Equal(t, 20, snap.Summaries[models.SensorTemperature].Count)
	assert.Len(t, snap.Logs, 10)

	values, summary, err := lab.History(models.SensorHumidity)
	require.NoError(t, err)
	assert.Len(t, values, 20)
	assert.GreaterOrEqual(t, summary.Min, 30.0)
	assert.LessOrEqual(t, summary.Max, 90.0)
}

func TestBatteryDrainsPerPacket(t *testing.T) {
	lab, vc, _ := newTestLab(t)

	require.NoError(t, lab.Activate(validIdentity))
	require.NoError(t, lab.Start())
	vc.Advance(10 * time.Second)

	assert.Equal(t, uint32(3), lab.Snapshot().Session.PacketsSent)
	assert.InDelta(t, 98.5, lab.Snapshot().Stats.BatteryLevel, 1e-9)
}

func TestGenerateIdentity(t *testing.T) {
	lab, _, _ := newTestLab(t)

	id, err := lab.GenerateIdentity()
	require.NoError(t, err)
	assert.Len(t, id.DevEUI, 16)
	assert.Len(t, id.AppEUI, 16)
	assert.Len(t, id.AppKey, 32)
	assert.False(t, lab.Snapshot().Activated)

	require.NoError(t, lab.Activate(id))
}

func TestSetUpdateInterval(t *testing.T) {
	lab, vc, rec := newTestLab(t)

	assert.ErrorIs(t, lab.SetUpdateInterval(0), ErrInvalidInterval)
	require.NoError(t, lab.SetUpdateInterval(250*time.Millisecond))
	assert.Equal(t, int64(250), lab.Snapshot().UpdateInterval)

	require.NoError(t, lab.Activate(validIdentity))
	vc.Advance(7 * time.Second)
	before := len(rec.statuses)

	vc.Advance(time.Second)
	assert.Equal(t, 4, len(rec.statuses)-before)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
