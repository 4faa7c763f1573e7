package constants

// Telemetry message statuses carried in the wire payload.
const (
	// StatusGatewayConnected tags the heartbeat published when no device
	// session is active.
	StatusGatewayConnected = "GATEWAY_CONNECTED"
	// StatusDeviceConnected tags a per-device telemetry message.
	StatusDeviceConnected = "DEVICE_CONNECTED"
)
