package identity

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeDeviceID_CaseAndSeparatorInsensitive verifies that addresses
// differing only in case or separator formatting map to the same identity.
func TestNormalizeDeviceID_CaseAndSeparatorInsensitive(t *testing.T) {
	want := "cfaa13a15ca5"

	assert.Equal(t, want, NormalizeDeviceID("CF:AA:13:A1:5C:A5"))
	assert.Equal(t, want, NormalizeDeviceID("cf:aa:13:a1:5c:a5"))
	assert.Equal(t, want, NormalizeDeviceID("cf-aa-13-a1-5c-a5"))
	assert.Equal(t, want, NormalizeDeviceID("CF_AA_13_A1_5C_A5"))
	assert.Equal(t, want, NormalizeDeviceID("cfaa13a15ca5"))
}

// TestNormalizeDeviceID_Idempotent verifies normalize(normalize(x)) == normalize(x).
func TestNormalizeDeviceID_Idempotent(t *testing.T) {
	for _, address := range []string{
		"CF:AA:13:A1:5C:A5",
		"aa.bb.cc.dd.ee.01",
		"AABBCCDDEE01",
		"",
	} {
		once := NormalizeDeviceID(address)
		assert.Equal(t, once, NormalizeDeviceID(once), "address %q", address)
	}
}

func TestNewGatewayInfo_ResolvesHostnamePlaceholder(t *testing.T) {
	hostname, err := os.Hostname()
	assert.NoError(t, err)

	info, err := NewGatewayInfo("gw-1", "gateways/{hostname}/telemetry")
	assert.NoError(t, err)

	assert.Equal(t, "gw-1", info.GetGatewayID())
	assert.Equal(t, "gateways/"+hostname+"/telemetry", info.GetTopic())
}

func TestNewGatewayInfo_EmptyIDFallsBackToHostname(t *testing.T) {
	hostname, err := os.Hostname()
	assert.NoError(t, err)

	info, err := NewGatewayInfo("", "fixed/topic")
	assert.NoError(t, err)

	assert.Equal(t, hostname, info.GetGatewayID())
	assert.Equal(t, "fixed/topic", info.GetTopic())
}

func TestResolveTopic(t *testing.T) {
	info, err := NewGatewayInfo("gw-1", "t")
	assert.NoError(t, err)

	hostname, _ := os.Hostname()
	assert.Equal(t, "metrics/"+hostname, info.ResolveTopic("metrics/{hostname}"))
	assert.Equal(t, "no/placeholder", info.ResolveTopic("no/placeholder"))
}
