package models

import (
	"time"

	"github.com/edgelink/ble-gateway/internal/constants"
)

// TelemetryMessage is the wire payload published on the telemetry topic.
// Heartbeats carry only status, timestamp and gateway identity; device
// messages add the device identity and sensor readings.
type TelemetryMessage struct {
	Status      string   `json:"status"`
	Timestamp   string   `json:"ts"`
	GatewayID   string   `json:"gatewayId"`
	DeviceID    string   `json:"deviceId,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Button      *bool    `json:"button,omitempty"`
	ButtonCount *int     `json:"button_number,omitempty"`
}

// NewHeartbeatMessage builds the liveness payload sent when no device
// session is active.
func NewHeartbeatMessage(gatewayID string, ts time.Time) TelemetryMessage {
	return TelemetryMessage{
		Status:    constants.StatusGatewayConnected,
		Timestamp: FormatTimestamp(ts),
		GatewayID: gatewayID,
	}
}

// NewDeviceMessage builds the telemetry payload for one connected device.
func NewDeviceMessage(gatewayID, deviceID string, ts time.Time,
	temperature, humidity, pressure float64, button bool, buttonCount int) TelemetryMessage {

	return TelemetryMessage{
		Status:      constants.StatusDeviceConnected,
		Timestamp:   FormatTimestamp(ts),
		GatewayID:   gatewayID,
		DeviceID:    deviceID,
		Temperature: &temperature,
		Humidity:    &humidity,
		Pressure:    &pressure,
		Button:      &button,
		ButtonCount: &buttonCount,
	}
}

// FormatTimestamp renders a message timestamp as ISO-8601 in UTC.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
