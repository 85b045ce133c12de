// Package metrics exposes the virtual lab state as Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
)

var (
	deviceStates = []models.DeviceLinkState{
		models.DeviceDisconnected,
		models.DeviceScanning,
		models.DeviceConnecting,
		models.DeviceAuthenticating,
		models.DeviceConnected,
	}
	serverStates = []models.ServerLinkState{
		models.ServerDisconnected,
		models.ServerConnecting,
		models.ServerConnected,
	}
)

// Collector implements prometheus.Collector on top of the lab's presenter
// hooks. Hooks store the latest values; Collect reads them under mu.
type Collector struct {
	mu       sync.Mutex
	stats    models.Stats
	status   models.ConnectionStatus
	readings map[models.SensorKind]models.SensorReading
	stages   map[models.RelayStage]uint64
	logs     map[models.EventLevel]uint64

	// Session metrics
	sentDesc        *prometheus.Desc
	receivedDesc    *prometheus.Desc
	successRateDesc *prometheus.Desc
	frameCountDesc  *prometheus.Desc
	batteryDesc     *prometheus.Desc

	// Radio metrics
	airtimeDesc  *prometheus.Desc
	dataRateDesc *prometheus.Desc
	rssiDesc     *prometheus.Desc
	snrDesc      *prometheus.Desc

	// Connection metrics
	signalDesc      *prometheus.Desc
	signalBarsDesc  *prometheus.Desc
	deviceStateDesc *prometheus.Desc
	serverStateDesc *prometheus.Desc

	// Event metrics
	stageDesc  *prometheus.Desc
	logDesc    *prometheus.Desc
	sensorDesc *prometheus.Desc
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ simulation.Presenter = (*Collector)(nil)
)

// NewCollector creates a collector with every value at zero
func NewCollector() *Collector {
	return &Collector{
		status: models.ConnectionStatus{
			Device: models.DeviceDisconnected,
			Server: models.ServerDisconnected,
		},
		readings: make(map[models.SensorKind]models.SensorReading),
		stages:   make(map[models.RelayStage]uint64),
		logs:     make(map[models.EventLevel]uint64),

		sentDesc: prometheus.NewDesc(
			"lab_packets_sent",
			"Uplinks sent in the current session",
			nil, nil,
		),
		receivedDesc: prometheus.NewDesc(
			"lab_packets_received",
			"Uplinks delivered to the application in the current session",
			nil, nil,
		),
		successRateDesc: prometheus.NewDesc(
			"lab_success_rate_percent",
			"Delivered over sent uplinks in percent",
			nil, nil,
		),
		frameCountDesc: prometheus.NewDesc(
			"lab_frame_counter",
			"Uplink frame counter of the current session",
			nil, nil,
		),
		batteryDesc: prometheus.NewDesc(
			"lab_battery_percent",
			"Simulated battery level",
			nil, nil,
		),

		airtimeDesc: prometheus.NewDesc(
			"lab_airtime_milliseconds",
			"Time on air of one uplink at the current radio settings",
			nil, nil,
		),
		dataRateDesc: prometheus.NewDesc(
			"lab_data_rate_bps",
			"Effective bit rate at the current radio settings",
			nil, nil,
		),
		rssiDesc: prometheus.NewDesc(
			"lab_rssi_dbm",
			"RSSI of the last delivered uplink",
			nil, nil,
		),
		snrDesc: prometheus.NewDesc(
			"lab_snr_db",
			"SNR of the last delivered uplink",
			nil, nil,
		),

		signalDesc: prometheus.NewDesc(
			"lab_signal_strength_dbm",
			"Device to gateway signal strength",
			nil, nil,
		),
		signalBarsDesc: prometheus.NewDesc(
			"lab_signal_bars",
			"Signal strength as 0 to 5 bars",
			nil, nil,
		),
		deviceStateDesc: prometheus.NewDesc(
			"lab_device_link_state",
			"Device to gateway link state (1 for the current state)",
			[]string{"state"}, nil,
		),
		serverStateDesc: prometheus.NewDesc(
			"lab_server_link_state",
			"Gateway to network server link state (1 for the current state)",
			[]string{"state"}, nil,
		),

		stageDesc: prometheus.NewDesc(
			"lab_relay_stage_total",
			"Uplinks that entered each relay stage",
			[]string{"stage"}, nil,
		),
		logDesc: prometheus.NewDesc(
			"lab_log_entries_total",
			"Log entries appended by level",
			[]string{"level"}, nil,
		),
		sensorDesc: prometheus.NewDesc(
			"lab_sensor_value",
			"Last delivered reading of each sensor",
			[]string{"sensor", "unit"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentDesc
	ch <- c.receivedDesc
	ch <- c.successRateDesc
	ch <- c.frameCountDesc
	ch <- c.batteryDesc
	ch <- c.airtimeDesc
	ch <- c.dataRateDesc
	ch <- c.rssiDesc
	ch <- c.snrDesc
	ch <- c.signalDesc
	ch <- c.signalBarsDesc
	ch <- c.deviceStateDesc
	ch <- c.serverStateDesc
	ch <- c.stageDesc
	ch <- c.logDesc
	ch <- c.sensorDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats

	// Session metrics
	ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.GaugeValue, float64(s.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.GaugeValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.successRateDesc, prometheus.GaugeValue, s.SuccessRate)
	ch <- prometheus.MustNewConstMetric(c.frameCountDesc, prometheus.GaugeValue, float64(s.FrameCounter))
	ch <- prometheus.MustNewConstMetric(c.batteryDesc, prometheus.GaugeValue, s.BatteryLevel)

	// Radio metrics
	ch <- prometheus.MustNewConstMetric(c.airtimeDesc, prometheus.GaugeValue, s.AirtimeMs)
	ch <- prometheus.MustNewConstMetric(c.dataRateDesc, prometheus.GaugeValue, float64(s.DataRateBps))
	ch <- prometheus.MustNewConstMetric(c.rssiDesc, prometheus.GaugeValue, s.RSSI)
	ch <- prometheus.MustNewConstMetric(c.snrDesc, prometheus.GaugeValue, s.SNR)

	// Connection metrics
	ch <- prometheus.MustNewConstMetric(c.signalDesc, prometheus.GaugeValue, c.status.SignalStrength)
	ch <- prometheus.MustNewConstMetric(c.signalBarsDesc, prometheus.GaugeValue, float64(c.status.SignalBars))
	for _, state := range deviceStates {
		ch <- prometheus.MustNewConstMetric(c.deviceStateDesc, prometheus.GaugeValue, oneIf(c.status.Device == state), string(state))
	}
	for _, state := range serverStates {
		ch <- prometheus.MustNewConstMetric(c.serverStateDesc, prometheus.GaugeValue, oneIf(c.status.Server == state), string(state))
	}

	// Event metrics
	for stage, n := range c.stages {
		ch <- prometheus.MustNewConstMetric(c.stageDesc, prometheus.CounterValue, float64(n), string(stage))
	}
	for level, n := range c.logs {
		ch <- prometheus.MustNewConstMetric(c.logDesc, prometheus.CounterValue, float64(n), string(level))
	}
	for kind, r := range c.readings {
		ch <- prometheus.MustNewConstMetric(c.sensorDesc, prometheus.GaugeValue, r.Value, string(kind), r.Unit)
	}
}

func (c *Collector) OnConnectionStateChanged(status models.ConnectionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// OnReadingsUpdated keeps the last value per sensor. An empty update (after
// a reset) clears them.
func (c *Collector) OnReadingsUpdated(readings []models.SensorReading, _ map[models.SensorKind][]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(readings) == 0 {
		c.readings = make(map[models.SensorKind]models.SensorReading)
		return
	}
	for _, r := range readings {
		c.readings[r.Kind] = r
	}
}

func (c *Collector) OnStatsUpdated(stats models.Stats) {
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Collector) OnLogAppended(entry models.LogEntry) {
	c.mu.Lock()
	c.logs[entry.Level]++
	c.mu.Unlock()
}

func (c *Collector) OnPacketStage(_ models.Packet, stage models.RelayStage) {
	c.mu.Lock()
	c.stages[stage]++
	c.mu.Unlock()
}

func oneIf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
