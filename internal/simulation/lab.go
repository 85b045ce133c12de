// Package simulation is the virtual lab: one device that joins a gateway and
// a network server through a scripted handshake and then sends sensor
// uplinks on an SF-dependent cycle.
//
// A Lab is not safe for concurrent use. Commands and timer callbacks must
// all run on the Scheduler it was created with, e.g. through clock.Loop.Do.
package simulation

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/clock"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/sensor"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/validation"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/crypto"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

var (
	ErrInvalidIdentity    = errors.New("invalid device identity")
	ErrAlreadyActivated   = errors.New("device already activated")
	ErrNotActivated       = errors.New("device not activated")
	ErrTransmitting       = errors.New("device is transmitting")
	ErrUnknownSensor      = errors.New("unknown sensor")
	ErrUnknownProfile     = errors.New("unknown device profile")
	ErrInvalidRadioConfig = lorawan.ErrInvalidRadioConfig
	ErrInvalidInterval    = errors.New("invalid update interval")
)

const fullBattery = 100.0

// Lab owns the session of the virtual device
type Lab struct {
	cfg       config.SimulationConfig
	sched     clock.Scheduler
	presenter Presenter
	generator *sensor.Generator
	validator *validation.Validator
	region    *lorawan.RegionConfiguration

	profile  models.DeviceProfile
	radio    lorawan.RadioConfig
	enabled  map[models.SensorKind]bool
	interval time.Duration

	identity  models.DeviceIdentity
	activated bool
	session   models.TransmissionSession
	battery   float64
	rssi      float64
	snr       float64
	latest    []models.SensorReading

	histories sensor.Histories
	log       *EventLog
	conn      *Connection
	tx        *Transmitter
	ticker    clock.Timer
}

// Snapshot is a copy of everything a dashboard shows
type Snapshot struct {
	Profile        models.DeviceProfile                        `json:"profile"`
	Profiles       []models.DeviceProfile                      `json:"profiles"`
	Radio          lorawan.RadioConfig                         `json:"radio"`
	Region         string                                      `json:"region"`
	DataRateIndex  int                                         `json:"dataRateIndex"`
	CycleDelayMs   int64                                       `json:"cycleDelayMs"`
	UpdateInterval int64                                       `json:"updateIntervalMs"`
	Sensors        map[models.SensorKind]bool                  `json:"sensors"`
	Identity       models.DeviceIdentity                       `json:"identity"`
	Activated      bool                                        `json:"activated"`
	Connection     models.ConnectionStatus                     `json:"connection"`
	Session        models.TransmissionSession                  `json:"session"`
	Stats          models.Stats                                `json:"stats"`
	Readings       []models.SensorReading                      `json:"readings"`
	History        map[models.SensorKind][]float64             `json:"history"`
	Summaries      map[models.SensorKind]models.HistorySummary `json:"summaries"`
	Logs           []models.LogEntry                           `json:"logs"`
}

// NewLab creates a lab in its initial state. A nil rnd is seeded from
// cfg.Seed, or from the clock when no seed is configured.
func NewLab(cfg config.SimulationConfig, sched clock.Scheduler, presenter Presenter, rnd *rand.Rand) *Lab {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	if rnd == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = sched.Now().UnixNano()
		}
		rnd = rand.New(rand.NewSource(seed))
	}

	l := &Lab{
		cfg:       cfg,
		sched:     sched,
		presenter: presenter,
		generator: sensor.NewGenerator(rnd, cfg.SensorRanges),
		validator: validation.NewValidator(),
		region:    lorawan.GetRegionConfiguration(cfg.Region),
		radio:     cfg.Radio,
		interval:  cfg.UpdateInterval,
		battery:   fullBattery,
		histories: sensor.NewHistories(cfg.HistoryCapacity),
		log:       NewEventLog(cfg.LogCapacity),
	}

	profile, ok := cfg.Profile(cfg.DefaultProfile)
	if !ok && len(cfg.Profiles) > 0 {
		profile = cfg.Profiles[0]
	}
	l.applyProfile(profile)

	l.conn = NewConnection(sched, &l.cfg, l.connectionChanged)
	l.tx = NewTransmitter(sched, l.cfg.RelayStages, TransmitHooks{
		Build:     l.buildUplink,
		Stage:     l.presenter.OnPacketStage,
		Delivered: l.delivered,
		Delay:     func() time.Duration { return l.cfg.CycleDelay(l.radio.SpreadingFactor) },
	})

	return l
}

// SelectDevice switches to a device profile, enabling exactly its sensors
func (l *Lab) SelectDevice(name string) error {
	if l.session.IsTransmitting {
		l.warn(models.EventTypeConfig, "Device model cannot change while transmitting")
		return ErrTransmitting
	}

	profile, ok := l.cfg.Profile(name)
	if !ok {
		l.append(models.EventTypeError, models.EventLevelError, fmt.Sprintf("Unknown device model %q", name), nil)
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}

	l.applyProfile(profile)
	l.append(models.EventTypeConfig, models.EventLevelInfo,
		fmt.Sprintf("Device model set to %s", profile.Label),
		models.Variables{"profile": profile.Name, "sensors": profile.Sensors})
	return nil
}

// SetRadioConfig changes SF, bandwidth and coding rate. It is refused while
// transmitting.
func (l *Lab) SetRadioConfig(radio lorawan.RadioConfig) error {
	if l.session.IsTransmitting {
		l.warn(models.EventTypeConfig, "Radio configuration is locked while transmitting")
		return ErrTransmitting
	}

	if err := radio.Validate(); err != nil {
		l.append(models.EventTypeError, models.EventLevelError, err.Error(), nil)
		return err
	}

	l.radio = radio
	l.append(models.EventTypeConfig, models.EventLevelInfo,
		fmt.Sprintf("Radio set to %s: airtime %.1f ms, %d bps", radio, l.airtimeMs(), radio.DataRateBps()),
		models.Variables{"dataRate": l.region.DataRateIndex(radio.SpreadingFactor, radio.BandwidthKHz)})
	l.presenter.OnStatsUpdated(l.stats())
	return nil
}

// SetSensorEnabled switches one sensor on or off from the next cycle on
func (l *Lab) SetSensorEnabled(kind models.SensorKind, enabled bool) error {
	if _, err := models.ParseSensorKind(string(kind)); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, kind)
	}

	l.enabled[kind] = enabled
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	l.append(models.EventTypeConfig, models.EventLevelInfo, fmt.Sprintf("Sensor %s %s", kind, state), nil)
	return nil
}

// GenerateIdentity returns a random DevEUI, AppEUI and AppKey. The lab's
// state is not changed.
func (l *Lab) GenerateIdentity() (models.DeviceIdentity, error) {
	devEUI, err := crypto.GenerateRandomHex(8)
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("generate devEUI: %w", err)
	}
	appEUI, err := crypto.GenerateRandomHex(8)
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("generate appEUI: %w", err)
	}
	appKey, err := crypto.GenerateRandomHex(16)
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("generate appKey: %w", err)
	}

	return models.DeviceIdentity{DevEUI: devEUI, AppEUI: appEUI, AppKey: appKey}, nil
}

// Activate validates the identity and starts the join sequence
func (l *Lab) Activate(identity models.DeviceIdentity) error {
	if l.activated {
		l.warn(models.EventTypeActivation, "Device is already activated")
		return ErrAlreadyActivated
	}

	devEUI, appEUI, appKey, err := l.parseIdentity(identity)
	if err != nil {
		l.append(models.EventTypeError, models.EventLevelError, fmt.Sprintf("Activation failed: %v", err), nil)
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	identity = models.DeviceIdentity{DevEUI: devEUI.String(), AppEUI: appEUI.String(), AppKey: appKey.String()}

	// relays left over from a deactivated session must not count in this one
	l.tx.Cancel()

	l.identity = identity
	l.activated = true
	l.session = models.TransmissionSession{ID: uuid.New(), StartedAt: l.sched.Now()}
	l.battery = fullBattery

	l.append(models.EventTypeActivation, models.EventLevelInfo,
		fmt.Sprintf("Device activation initiated (DevEUI %s)", identity.DevEUI),
		models.Variables{"devEUI": devEUI, "appEUI": appEUI})

	log.Info().Str("dev_eui", identity.DevEUI).Str("session", l.session.ID.String()).Msg("Device activated")

	l.conn.Connect(identity.DevEUI)
	l.startTicker()
	return nil
}

// Start begins the uplink cycle. The first packet is sent immediately.
func (l *Lab) Start() error {
	if !l.activated {
		l.warn(models.EventTypeUplink, "Activate the device before starting transmission")
		return ErrNotActivated
	}
	if l.session.IsTransmitting {
		return nil
	}

	l.session.IsTransmitting = true
	l.append(models.EventTypeUplink, models.EventLevelInfo,
		fmt.Sprintf("Transmission started on %s, every %s", l.radio, l.cfg.CycleDelay(l.radio.SpreadingFactor)), nil)
	l.tx.Start()
	return nil
}

// Pause stops scheduling uplinks. Packets on the air are still delivered.
func (l *Lab) Pause() error {
	if !l.session.IsTransmitting {
		return nil
	}

	l.tx.Pause()
	l.session.IsTransmitting = false
	l.append(models.EventTypeUplink, models.EventLevelInfo, "Transmission paused", nil)
	return nil
}

// Deactivate stops transmitting and takes the links down. Counters are kept
// until Reset and packets still on the air are delivered.
func (l *Lab) Deactivate() error {
	if !l.activated {
		l.warn(models.EventTypeActivation, "Device is not activated")
		return ErrNotActivated
	}

	l.tx.Pause()
	l.session.IsTransmitting = false
	l.activated = false
	l.stopTicker()

	l.append(models.EventTypeActivation, models.EventLevelInfo,
		fmt.Sprintf("Device %s deactivated", l.identity.DevEUI), nil)
	log.Info().Str("dev_eui", l.identity.DevEUI).Msg("Device deactivated")

	l.conn.Disconnect()
	return nil
}

// parseIdentity checks the identity exactly as entered and decodes it
func (l *Lab) parseIdentity(id models.DeviceIdentity) (lorawan.EUI64, lorawan.EUI64, lorawan.AES128Key, error) {
	var (
		devEUI, appEUI lorawan.EUI64
		appKey         lorawan.AES128Key
	)
	if err := l.validator.Validate(&id); err != nil {
		return devEUI, appEUI, appKey, err
	}

	devEUI, err := lorawan.ParseEUI64(id.DevEUI)
	if err != nil {
		return devEUI, appEUI, appKey, fmt.Errorf("devEUI: %w", err)
	}
	if appEUI, err = lorawan.ParseEUI64(id.AppEUI); err != nil {
		return devEUI, appEUI, appKey, fmt.Errorf("appEUI: %w", err)
	}
	if appKey, err = lorawan.ParseAES128Key(id.AppKey); err != nil {
		return devEUI, appEUI, appKey, fmt.Errorf("appKey: %w", err)
	}
	return devEUI, appEUI, appKey, nil
}

// Reset returns the lab to its initial state, keeping the radio, profile
// and sensor selection.
func (l *Lab) Reset() {
	l.tx.Cancel()
	l.stopTicker()

	l.activated = false
	l.identity = models.DeviceIdentity{}
	l.session = models.TransmissionSession{}
	l.battery = fullBattery
	l.rssi, l.snr = 0, 0
	l.latest = nil
	l.histories.Reset()

	l.conn.Reset()
	l.log.Clear()

	l.append(models.EventTypeSystem, models.EventLevelInfo, "Lab reset", nil)
	l.presenter.OnReadingsUpdated(nil, l.histories.Snapshot())
	l.presenter.OnStatsUpdated(l.stats())
	log.Info().Msg("Lab reset")
}

// SetUpdateInterval changes the refresh tick period, restarting the tick if
// it is running.
func (l *Lab) SetUpdateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}

	l.interval = d
	if l.ticker != nil {
		l.startTicker()
	}
	l.append(models.EventTypeConfig, models.EventLevelInfo, fmt.Sprintf("Update interval set to %s", d), nil)
	return nil
}

// Snapshot copies the current state
func (l *Lab) Snapshot() Snapshot {
	sensors := make(map[models.SensorKind]bool, len(l.enabled))
	for k, v := range l.enabled {
		sensors[k] = v
	}

	summaries := make(map[models.SensorKind]models.HistorySummary, len(l.histories))
	for k, h := range l.histories {
		summaries[k] = h.Summary()
	}

	return Snapshot{
		Profile:        l.profile,
		Profiles:       append([]models.DeviceProfile(nil), l.cfg.Profiles...),
		Radio:          l.radio,
		Region:         l.region.Name,
		DataRateIndex:  l.region.DataRateIndex(l.radio.SpreadingFactor, l.radio.BandwidthKHz),
		CycleDelayMs:   l.cfg.CycleDelay(l.radio.SpreadingFactor).Milliseconds(),
		UpdateInterval: l.interval.Milliseconds(),
		Sensors:        sensors,
		Identity:       l.identity,
		Activated:      l.activated,
		Connection:     l.conn.Status(),
		Session:        l.session,
		Stats:          l.stats(),
		Readings:       append([]models.SensorReading(nil), l.latest...),
		History:        l.histories.Snapshot(),
		Summaries:      summaries,
		Logs:           l.log.Entries(),
	}
}

// Logs returns the retained log entries, oldest first
func (l *Lab) Logs() []models.LogEntry {
	return l.log.Entries()
}

// History returns the retained values of one sensor, oldest first
func (l *Lab) History(kind models.SensorKind) ([]float64, models.HistorySummary, error) {
	h, ok := l.histories[kind]
	if !ok {
		return nil, models.HistorySummary{}, fmt.Errorf("%w: %s", ErrUnknownSensor, kind)
	}
	return h.Values(), h.Summary(), nil
}

func (l *Lab) applyProfile(profile models.DeviceProfile) {
	l.profile = profile
	l.enabled = make(map[models.SensorKind]bool, len(models.SensorKinds))
	for _, k := range models.SensorKinds {
		l.enabled[k] = false
	}
	for _, k := range profile.Sensors {
		l.enabled[k] = true
	}
}

func (l *Lab) buildUplink() models.Packet {
	now := l.sched.Now()

	l.session.FrameCounter++
	l.session.PacketsSent++
	l.battery = math.Max(0, l.battery-l.cfg.BatteryDrainPerSample)

	var readings []models.SensorReading
	for _, k := range models.SensorKinds {
		if !l.enabled[k] {
			continue
		}
		r := l.generator.Read(k, now)
		l.histories[k].Append(r.Value)
		readings = append(readings, r)
	}

	rssi := l.conn.Status().SignalStrength + l.generator.Uniform(-l.cfg.Signal.Jitter, l.cfg.Signal.Jitter)
	rssi = math.Max(l.cfg.RSSI.Min, math.Min(l.cfg.RSSI.Max, rssi))
	snr := l.generator.Uniform(l.cfg.SNR.Min, l.cfg.SNR.Max)

	pkt := models.Packet{
		DevEUI:    l.identity.DevEUI,
		FCnt:      l.session.FrameCounter,
		MType:     lorawan.UnconfirmedDataUp,
		Radio:     l.radio,
		AirtimeMs: l.airtimeMs(),
		Readings:  readings,
		RSSI:      math.Round(rssi*10) / 10,
		SNR:       math.Round(snr*10) / 10,
		SentAt:    now,
	}

	l.append(models.EventTypeUplink, models.EventLevelInfo,
		fmt.Sprintf("Uplink FCnt %d sent with %d readings (airtime %.1f ms)", pkt.FCnt, len(readings), pkt.AirtimeMs),
		models.Variables{"fCnt": pkt.FCnt, "mType": pkt.MType.String()})

	return pkt
}

func (l *Lab) delivered(pkt models.Packet) {
	l.session.PacketsReceived++
	l.latest = pkt.Readings
	l.rssi = pkt.RSSI
	l.snr = pkt.SNR

	l.append(models.EventTypeRelay, models.EventLevelSuccess,
		fmt.Sprintf("Packet FCnt %d delivered to application (RSSI %.1f dBm, SNR %.1f dB)", pkt.FCnt, pkt.RSSI, pkt.SNR), nil)

	l.presenter.OnReadingsUpdated(pkt.Readings, l.histories.Snapshot())
	l.presenter.OnStatsUpdated(l.stats())
}

// connectionChanged logs link transitions and forwards them
func (l *Lab) connectionChanged(prev, next models.ConnectionStatus) {
	if prev.Device != next.Device {
		switch next.Device {
		case models.DeviceScanning:
			l.append(models.EventTypeJoin, models.EventLevelInfo, "Scanning for gateway", nil)
		case models.DeviceConnecting:
			l.append(models.EventTypeJoin, models.EventLevelInfo,
				fmt.Sprintf("%s sent (DevEUI %s)", lorawan.JoinRequest, next.DevEUI), nil)
		case models.DeviceAuthenticating:
			l.append(models.EventTypeJoin, models.EventLevelInfo, fmt.Sprintf("%s received", lorawan.JoinAccept), nil)
		case models.DeviceConnected:
			l.append(models.EventTypeGatewayUp, models.EventLevelSuccess, "Device successfully joined the network", nil)
		case models.DeviceDisconnected:
			l.append(models.EventTypeGatewayDown, models.EventLevelWarning, "Device disconnected from gateway", nil)
		}
	}

	if prev.Server != next.Server {
		switch next.Server {
		case models.ServerConnecting:
			l.append(models.EventTypeServerUp, models.EventLevelInfo, "Connecting to network server", nil)
		case models.ServerConnected:
			l.append(models.EventTypeServerUp, models.EventLevelSuccess, "Network server link established", nil)
		case models.ServerDisconnected:
			l.append(models.EventTypeServerDown, models.EventLevelWarning, "Network server link closed", nil)
		}
	}

	l.presenter.OnConnectionStateChanged(next)
}

func (l *Lab) startTicker() {
	l.stopTicker()
	l.ticker = l.sched.AfterFunc(l.interval, l.tick)
}

func (l *Lab) stopTicker() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
}

// tick is the fixed-rate refresh: signal drift while connected
func (l *Lab) tick() {
	jitter := l.cfg.Signal.Jitter
	l.conn.Nudge(l.generator.Uniform(-jitter, jitter))
	l.ticker = l.sched.AfterFunc(l.interval, l.tick)
}

func (l *Lab) stats() models.Stats {
	return models.Stats{
		PacketsSent:     l.session.PacketsSent,
		PacketsReceived: l.session.PacketsReceived,
		SuccessRate:     l.session.SuccessRate(),
		DataRateBps:     l.radio.DataRateBps(),
		AirtimeMs:       l.airtimeMs(),
		RSSI:            l.rssi,
		SNR:             l.snr,
		BatteryLevel:    l.battery,
		FrameCounter:    l.session.FrameCounter,
	}
}

func (l *Lab) airtimeMs() float64 {
	return l.radio.AirtimeMs(l.cfg.PayloadBytes)
}

func (l *Lab) warn(typ models.EventType, msg string) {
	l.append(typ, models.EventLevelWarning, msg, nil)
}

func (l *Lab) append(typ models.EventType, level models.EventLevel, msg string, details models.Variables) {
	entry := l.log.Append(l.sched.Now(), typ, level, msg, details)
	l.presenter.OnLogAppended(entry)
}
