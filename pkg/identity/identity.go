package identity

import (
	"fmt"
	"os"
	"strings"
)

// hostnamePlaceholder is replaced in topic templates at startup.
const hostnamePlaceholder = "{hostname}"

// NormalizeDeviceID converts a peripheral hardware address into the canonical
// identity used as registry and allow-list key: lower-cased with separator
// characters removed. Normalization is idempotent, so addresses that differ
// only in case or formatting ("CF:AA:13:A1:5C:A5", "cfaa13a15ca5",
// "cf-aa-13-a1-5c-a5") all map to the same identity.
func NormalizeDeviceID(address string) string {
	var b strings.Builder
	b.Grow(len(address))
	for _, r := range address {
		switch r {
		case ':', '-', '_', '.', ' ':
			continue
		default:
			b.WriteRune(toLower(r))
		}
	}
	return b.String()
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// GatewayInfoInterface exposes the gateway's identity and resolved topics.
type GatewayInfoInterface interface {
	GetGatewayID() string
	GetTopic() string
	ResolveTopic(template string) string
}

// GatewayInfo holds the identity this gateway stamps on every published
// message, plus the telemetry topic with the hostname placeholder already
// substituted.
type GatewayInfo struct {
	gatewayID string
	topic     string
	hostname  string
}

// NewGatewayInfo resolves the gateway identity and telemetry topic once at
// startup. An empty gatewayID falls back to the host name.
func NewGatewayInfo(gatewayID, topicTemplate string) (*GatewayInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	if gatewayID == "" {
		gatewayID = hostname
	}

	g := &GatewayInfo{
		gatewayID: gatewayID,
		hostname:  hostname,
	}
	g.topic = g.ResolveTopic(topicTemplate)
	return g, nil
}

// GetGatewayID returns the gateway identity.
func (g *GatewayInfo) GetGatewayID() string {
	return g.gatewayID
}

// GetTopic returns the resolved telemetry topic.
func (g *GatewayInfo) GetTopic() string {
	return g.topic
}

// ResolveTopic substitutes the hostname placeholder in a topic template.
func (g *GatewayInfo) ResolveTopic(template string) string {
	return strings.ReplaceAll(template, hostnamePlaceholder, g.hostname)
}
