package models

// DeviceLinkState is the device-to-gateway link state
type DeviceLinkState string

const (
	DeviceDisconnected   DeviceLinkState = "disconnected"
	DeviceScanning       DeviceLinkState = "scanning"
	DeviceConnecting     DeviceLinkState = "connecting"
	DeviceAuthenticating DeviceLinkState = "authenticating"
	DeviceConnected      DeviceLinkState = "connected"
)

// Label returns the status line shown next to the device
func (s DeviceLinkState) Label() string {
	switch s {
	case DeviceScanning:
		return "Scanning for Gateway..."
	case DeviceConnecting:
		return "Establishing Connection..."
	case DeviceAuthenticating:
		return "Authenticating..."
	case DeviceConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// ServerLinkState is the gateway-to-network-server link state
type ServerLinkState string

const (
	ServerDisconnected ServerLinkState = "disconnected"
	ServerConnecting   ServerLinkState = "connecting"
	ServerConnected    ServerLinkState = "connected"
)

// ConnectionStatus is what presenters receive on every transition
type ConnectionStatus struct {
	DevEUI         string          `json:"devEUI,omitempty"`
	Device         DeviceLinkState `json:"device"`
	Server         ServerLinkState `json:"server"`
	SignalStrength float64         `json:"signalStrength"`
	SignalBars     int             `json:"signalBars"`
}

// SignalBars maps dBm onto 0..5 bars, one bar per 14 dB above -120.
func SignalBars(dBm float64) int {
	bars := int((dBm + 120) / 14)
	if bars < 0 {
		return 0
	}
	if bars > 5 {
		return 5
	}
	return bars
}
