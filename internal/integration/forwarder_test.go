package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

type published struct {
	devEUI string
	event  string
	data   []byte
}

type fakeSink struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Publish(devEUI, event string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{devEUI: devEUI, event: event, data: data})
	return nil
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSink) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.event
	}
	return out
}

type fakePublisher struct {
	subjects []string
}

func (p *fakePublisher) Publish(subject string, _ []byte) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

const devEUI = "0123456789ABCDEF"

func testPacket() models.Packet {
	return models.Packet{
		DevEUI:    devEUI,
		FCnt:      3,
		MType:     lorawan.UnconfirmedDataUp,
		Radio:     lorawan.DefaultRadioConfig(),
		AirtimeMs: 61.7,
		Readings: []models.SensorReading{
			{Kind: models.SensorTemperature, Value: 21.5, Unit: "°C"},
			{Kind: models.SensorHumidity, Value: 48.2, Unit: "%"},
		},
		RSSI:   -87.3,
		SNR:    6.1,
		SentAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newTestForwarder(t *testing.T, sinks ...Sink) *ForwarderService {
	t.Helper()
	codec, err := NewCodec("json")
	require.NoError(t, err)
	return NewForwarderService(codec, 16, sinks...)
}

func TestForwarderIgnoresEventsBeforeActivation(t *testing.T) {
	sink := &fakeSink{}
	f := newTestForwarder(t, sink)

	f.OnLogAppended(models.LogEntry{Message: "Lab reset"})
	f.OnStatsUpdated(models.Stats{})
	f.drain()

	assert.Empty(t, sink.events())
}

func TestForwarderJoinPublishedOnce(t *testing.T) {
	sink := &fakeSink{}
	f := newTestForwarder(t, sink)

	status := models.ConnectionStatus{DevEUI: devEUI, Device: models.DeviceScanning}
	f.OnConnectionStateChanged(status)
	status.Device = models.DeviceConnected
	status.SignalStrength = -85
	f.OnConnectionStateChanged(status)
	status.SignalStrength = -86
	f.OnConnectionStateChanged(status)
	f.drain()

	assert.Equal(t, []string{EventStatus, EventStatus, EventJoin, EventStatus}, sink.events())
	for _, m := range sink.msgs {
		assert.Equal(t, devEUI, m.devEUI)
	}

	var join JoinEvent
	codec, _ := NewCodec("json")
	require.NoError(t, codec.Unmarshal(sink.msgs[2].data, &join))
	assert.Equal(t, devEUI, join.DevEUI)
	assert.Equal(t, -85.0, join.Signal)
}

func TestForwarderUplinkOnlyWhenDelivered(t *testing.T) {
	sink := &fakeSink{}
	f := newTestForwarder(t, sink)

	pkt := testPacket()
	f.OnPacketStage(pkt, models.StageDeviceToGateway)
	f.OnPacketStage(pkt, models.StageGatewayToServer)
	f.OnPacketStage(pkt, models.StageServerToApp)
	f.OnPacketStage(pkt, models.StageDelivered)
	f.drain()

	require.Equal(t, []string{EventUplink}, sink.events())

	var up UplinkData
	codec, _ := NewCodec("json")
	require.NoError(t, codec.Unmarshal(sink.msgs[0].data, &up))
	assert.Equal(t, uint32(3), up.FCnt)
	assert.Equal(t, "Unconfirmed Data Up", up.MType)
	assert.Equal(t, 21.5, up.Object["temperature"])
	assert.Equal(t, -87.3, up.RxInfo.RSSI)
	assert.Equal(t, 7, up.TxInfo.SpreadingFactor)
	assert.Equal(t, 61.7, up.TxInfo.AirtimeMs)
}

func TestForwarderLogsFollowLastDevice(t *testing.T) {
	sink := &fakeSink{}
	f := newTestForwarder(t, sink)

	f.OnConnectionStateChanged(models.ConnectionStatus{DevEUI: devEUI, Device: models.DeviceScanning})
	f.OnLogAppended(models.LogEntry{Message: "Scanning for gateway"})
	f.OnStatsUpdated(models.Stats{PacketsSent: 1})
	f.drain()

	assert.Equal(t, []string{EventStatus, EventLog, EventStats}, sink.events())
	assert.Equal(t, devEUI, sink.msgs[2].devEUI)
}

func TestForwarderDropsWhenQueueFull(t *testing.T) {
	codec, _ := NewCodec("json")
	f := NewForwarderService(codec, 1, &fakeSink{})

	f.OnPacketStage(testPacket(), models.StageDelivered)
	f.OnPacketStage(testPacket(), models.StageDelivered)
	f.OnPacketStage(testPacket(), models.StageDelivered)

	assert.Equal(t, uint64(2), f.Dropped())
}

func TestForwarderSinkErrorDoesNotStopOthers(t *testing.T) {
	bad := &fakeSink{err: errors.New("broker down")}
	good := &fakeSink{}
	f := newTestForwarder(t, bad, good)

	f.OnPacketStage(testPacket(), models.StageDelivered)
	f.drain()

	assert.Empty(t, bad.events())
	assert.Equal(t, []string{EventUplink}, good.events())
}

func TestForwarderStartDrainsAndClosesSinks(t *testing.T) {
	sink := &fakeSink{}
	f := newTestForwarder(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Start(ctx) }()

	f.OnPacketStage(testPacket(), models.StageDelivered)
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
}

func TestNATSSinkSubject(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "lab")

	require.NoError(t, sink.Publish(devEUI, EventUplink, []byte("{}")))
	require.NoError(t, sink.Publish(devEUI, EventJoin, []byte("{}")))

	assert.Equal(t, []string{
		"lab.device.0123456789ABCDEF.rx",
		"lab.device.0123456789ABCDEF.join",
	}, pub.subjects)
}

func TestMQTTSinkTopic(t *testing.T) {
	sink := &MQTTSink{prefix: "lorawan-lab"}

	assert.Equal(t, "lorawan-lab/0123456789ABCDEF/up", sink.Topic(devEUI, EventUplink))
	assert.Equal(t, "lorawan-lab/0123456789ABCDEF/status", sink.Topic(devEUI, EventStatus))
}

func TestCodecs(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			data, err := codec.Marshal(NewUplinkData(testPacket()))
			require.NoError(t, err)

			var got UplinkData
			require.NoError(t, codec.Unmarshal(data, &got))
			assert.Equal(t, devEUI, got.DevEUI)
			assert.Equal(t, uint32(3), got.FCnt)
			assert.Len(t, got.Readings, 2)
			assert.InDelta(t, 48.2, got.Object["humidity"], 1e-9)
		})
	}

	_, err := NewCodec("xml")
	assert.Error(t, err)
}
