package integration

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
)

// Published event names
const (
	EventUplink = "rx"
	EventJoin   = "join"
	EventStatus = "status"
	EventStats  = "stats"
	EventLog    = "log"
)

// Sink delivers an encoded event of one device to an external system
type Sink interface {
	Name() string
	Publish(devEUI, event string, data []byte) error
	Close()
}

// ForwarderService 把实验室事件转发到外部系统
//
// It implements simulation.Presenter. Hooks only enqueue; encoding and
// publishing happen on the goroutine running Start.
type ForwarderService struct {
	codec Codec
	sinks []Sink
	queue chan outbound

	// touched only from presenter hooks, which run on the lab goroutine
	devEUI     string
	lastDevice models.DeviceLinkState

	mu      sync.Mutex
	dropped uint64
}

type outbound struct {
	devEUI string
	event  string
	body   interface{}
}

var _ simulation.Presenter = (*ForwarderService)(nil)

// NewForwarderService 创建转发服务
func NewForwarderService(codec Codec, queueSize int, sinks ...Sink) *ForwarderService {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &ForwarderService{
		codec:      codec,
		sinks:      sinks,
		queue:      make(chan outbound, queueSize),
		lastDevice: models.DeviceDisconnected,
	}
}

// Start 启动转发服务, blocking until ctx is done. Sinks are closed on return.
func (s *ForwarderService) Start(ctx context.Context) error {
	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.Name()
	}
	log.Info().Strs("sinks", names).Str("codec", s.codec.Name()).Msg("Integration forwarder service started")

	defer s.closeSinks()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case msg := <-s.queue:
			s.forward(msg)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full
func (s *ForwarderService) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// drain 发送队列中剩余的消息
func (s *ForwarderService) drain() {
	for {
		select {
		case msg := <-s.queue:
			s.forward(msg)
		default:
			return
		}
	}
}

func (s *ForwarderService) forward(msg outbound) {
	data, err := s.codec.Marshal(msg.body)
	if err != nil {
		log.Error().Err(err).Str("event", msg.event).Msg("Failed to marshal forward data")
		return
	}

	for _, sink := range s.sinks {
		if err := sink.Publish(msg.devEUI, msg.event, data); err != nil {
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("devEUI", msg.devEUI).
				Str("event", msg.event).
				Msg("Failed to forward event")
			continue
		}
		log.Debug().
			Str("sink", sink.Name()).
			Str("devEUI", msg.devEUI).
			Str("event", msg.event).
			Msg("Event forwarded")
	}
}

func (s *ForwarderService) closeSinks() {
	for _, sink := range s.sinks {
		sink.Close()
	}
}

func (s *ForwarderService) enqueue(devEUI, event string, body interface{}) {
	if devEUI == "" {
		devEUI = s.devEUI
	}
	if devEUI == "" {
		// nothing is activated yet; subjects need a device
		return
	}

	select {
	case s.queue <- outbound{devEUI: devEUI, event: event, body: body}:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		log.Warn().Str("event", event).Msg("Forward queue full, dropping event")
	}
}

// ========== simulation.Presenter ==========

func (s *ForwarderService) OnConnectionStateChanged(status models.ConnectionStatus) {
	if status.DevEUI != "" {
		s.devEUI = status.DevEUI
	}
	devEUI := s.devEUI

	s.enqueue(devEUI, EventStatus, status)

	// a join completes when the device link first reaches connected
	if status.Device == models.DeviceConnected && s.lastDevice != models.DeviceConnected {
		s.enqueue(devEUI, EventJoin, JoinEvent{
			DevEUI:    devEUI,
			Signal:    status.SignalStrength,
			Timestamp: time.Now(),
		})
	}
	s.lastDevice = status.Device
}

func (s *ForwarderService) OnReadingsUpdated([]models.SensorReading, map[models.SensorKind][]float64) {
}

func (s *ForwarderService) OnStatsUpdated(stats models.Stats) {
	s.enqueue("", EventStats, stats)
}

func (s *ForwarderService) OnLogAppended(entry models.LogEntry) {
	s.enqueue("", EventLog, entry)
}

func (s *ForwarderService) OnPacketStage(pkt models.Packet, stage models.RelayStage) {
	if stage != models.StageDelivered {
		return
	}
	if pkt.DevEUI != "" {
		s.devEUI = pkt.DevEUI
	}
	s.enqueue(pkt.DevEUI, EventUplink, NewUplinkData(pkt))
}

// Data structures

// UplinkData is the application-side view of a delivered packet
type UplinkData struct {
	DevEUI    string                 `json:"devEUI"`
	FCnt      uint32                 `json:"fCnt"`
	MType     string                 `json:"mType"`
	Object    map[string]interface{} `json:"object"`
	Readings  []models.SensorReading `json:"readings"`
	RxInfo    RxInfo                 `json:"rxInfo"`
	TxInfo    TxInfo                 `json:"txInfo"`
	Timestamp time.Time              `json:"timestamp"`
}

// RxInfo describes how the gateway heard the packet
type RxInfo struct {
	RSSI float64 `json:"rssi"`
	SNR  float64 `json:"snr"`
}

// TxInfo describes the modulation the device used
type TxInfo struct {
	SpreadingFactor int     `json:"spreadingFactor"`
	BandwidthKHz    int     `json:"bandwidthKHz"`
	CodingRate      string  `json:"codingRate"`
	AirtimeMs       float64 `json:"airtimeMs"`
	DataRateBps     int     `json:"dataRateBps"`
}

// JoinEvent is published once the device has joined
type JoinEvent struct {
	DevEUI    string    `json:"devEUI"`
	Signal    float64   `json:"signal"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUplinkData flattens a packet, keying readings by sensor kind in Object
func NewUplinkData(pkt models.Packet) UplinkData {
	object := make(map[string]interface{}, len(pkt.Readings))
	for _, r := range pkt.Readings {
		object[string(r.Kind)] = r.Value
	}

	return UplinkData{
		DevEUI:   pkt.DevEUI,
		FCnt:     pkt.FCnt,
		MType:    pkt.MType.String(),
		Object:   object,
		Readings: pkt.Readings,
		RxInfo:   RxInfo{RSSI: pkt.RSSI, SNR: pkt.SNR},
		TxInfo: TxInfo{
			SpreadingFactor: pkt.Radio.SpreadingFactor,
			BandwidthKHz:    pkt.Radio.BandwidthKHz,
			CodingRate:      string(pkt.Radio.CodingRate),
			AirtimeMs:       pkt.AirtimeMs,
			DataRateBps:     pkt.Radio.DataRateBps(),
		},
		Timestamp: pkt.SentAt,
	}
}
