package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

// DeviceIdentity is the OTAA identity of the virtual device
type DeviceIdentity struct {
	DevEUI string `json:"devEUI" validate:"required,len=16,hex"`
	AppEUI string `json:"appEUI" validate:"required,len=16,hex"`
	AppKey string `json:"appKey" validate:"required,len=32,hex"`
}

// TransmissionSession holds the counters of one activation
type TransmissionSession struct {
	ID              uuid.UUID `json:"id"`
	FrameCounter    uint32    `json:"frameCounter"`
	PacketsSent     uint32    `json:"packetsSent"`
	PacketsReceived uint32    `json:"packetsReceived"`
	IsTransmitting  bool      `json:"isTransmitting"`
	StartedAt       time.Time `json:"startedAt"`
}

// SuccessRate is received/sent in percent, 0 before the first packet
func (s TransmissionSession) SuccessRate() float64 {
	if s.PacketsSent == 0 {
		return 0
	}
	return float64(s.PacketsReceived) / float64(s.PacketsSent) * 100
}

// Stats is pushed after every delivered packet
type Stats struct {
	PacketsSent     uint32  `json:"packetsSent"`
	PacketsReceived uint32  `json:"packetsReceived"`
	SuccessRate     float64 `json:"successRate"`
	DataRateBps     int     `json:"dataRateBps"`
	AirtimeMs       float64 `json:"airtimeMs"`
	RSSI            float64 `json:"rssi"`
	SNR             float64 `json:"snr"`
	BatteryLevel    float64 `json:"batteryLevel"`
	FrameCounter    uint32  `json:"frameCounter"`
}

// RelayStage is a hop of the simulated uplink path
type RelayStage string

const (
	StageDeviceToGateway RelayStage = "device-gateway"
	StageGatewayToServer RelayStage = "gateway-server"
	StageServerToApp     RelayStage = "server-application"
	StageDelivered       RelayStage = "delivered"
)

// Packet is an uplink in flight
type Packet struct {
	DevEUI    string              `json:"devEUI"`
	FCnt      uint32              `json:"fCnt"`
	MType     lorawan.MType       `json:"mType"`
	Radio     lorawan.RadioConfig `json:"radio"`
	AirtimeMs float64             `json:"airtimeMs"`
	Readings  []SensorReading     `json:"readings"`
	RSSI      float64             `json:"rssi"`
	SNR       float64             `json:"snr"`
	SentAt    time.Time           `json:"sentAt"`
	Stage     RelayStage          `json:"stage"`
}

// DeviceProfile selects the sensors of a virtual device model
type DeviceProfile struct {
	Name    string       `json:"name" yaml:"name"`
	Label   string       `json:"label" yaml:"label"`
	Sensors []SensorKind `json:"sensors" yaml:"sensors"`
}

// DefaultProfiles are the device models offered in the lab
var DefaultProfiles = []DeviceProfile{
	{
		Name:    "esp32-multisensor",
		Label:   "ESP32 Multi-Sensor Node",
		Sensors: []SensorKind{SensorTemperature, SensorHumidity, SensorAirQuality, SensorLight},
	},
	{
		Name:    "weather-station",
		Label:   "Weather Station",
		Sensors: []SensorKind{SensorTemperature, SensorHumidity, SensorPressure},
	},
	{
		Name:    "air-quality-monitor",
		Label:   "Air Quality Monitor",
		Sensors: []SensorKind{SensorAirQuality, SensorTemperature, SensorHumidity},
	},
}
