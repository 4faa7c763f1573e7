//go:build !linux

package bleclient

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/peripheral"
)

// NewTransport reports that the BLE transport only runs on Linux hosts. Use
// the fake transport backend elsewhere.
func NewTransport(logger zerolog.Logger) (peripheral.Transport, error) {
	return nil, errors.New("the ble transport backend requires linux")
}
