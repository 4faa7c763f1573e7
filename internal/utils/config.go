package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/edgelink/ble-gateway/internal/constants"
	"github.com/edgelink/ble-gateway/pkg/file"
)

// Broker backend names accepted by the configuration.
const (
	BrokerBackendMQTT = "mqtt"
	BrokerBackendNATS = "nats"
)

// Transport backend names accepted by the configuration.
const (
	TransportBackendBLE  = "ble"
	TransportBackendFake = "fake"
)

// Config represents the structure of the configuration file. Interval fields
// are integer milliseconds; use the accessor methods for time.Duration values.
type Config struct {
	Gateway struct {
		ID             string `yaml:"id"`               // Gateway identity; hostname when empty
		Topic          string `yaml:"topic"`            // Telemetry topic template ({hostname} substituted)
		SendIntervalMs int    `yaml:"send_interval_ms"` // Telemetry dispatch period
		StartupDelayMs int    `yaml:"startup_delay_ms"` // Grace delay before subsystems start
	} `yaml:"gateway"`

	Broker struct {
		Backend         string `yaml:"backend"`           // mqtt or nats
		Host            string `yaml:"host"`              // Broker host
		Port            int    `yaml:"port"`              // Broker port
		ClientID        string `yaml:"client_id"`         // Client ID prefix; a UUID suffix is appended
		Username        string `yaml:"username"`          // Optional credentials
		Password        string `yaml:"password"`          //
		CACertificate   string `yaml:"ca_certificate"`    // Optional CA certificate path (mqtt only)
		QOS             int    `yaml:"qos"`               // MQTT QoS level
		RetryIntervalMs int    `yaml:"retry_interval_ms"` // Reconnect timer period
	} `yaml:"broker"`

	Devices struct {
		AllowList   []string `yaml:"allow_list"`   // Eligible hardware addresses, or "*"
		MinFirmware string   `yaml:"min_firmware"` // Optional semver floor for device firmware
	} `yaml:"devices"`

	Transport struct {
		Backend          string `yaml:"backend"`            // ble or fake
		ConnectTimeoutMs int    `yaml:"connect_timeout_ms"` // Bound for one connect+setup attempt
	} `yaml:"transport"`

	Discovery struct {
		StaggerDelayMs    int `yaml:"stagger_delay_ms"`    // Delay between per-identity discover requests
		RestartIntervalMs int `yaml:"restart_interval_ms"` // Discovery restart timer period
		CooldownMs        int `yaml:"cooldown_ms"`         // Settle time between stop and re-issue
	} `yaml:"discovery"`

	Metrics struct {
		Enabled    bool   `yaml:"enabled"`     // Enable/disable the gateway metrics service
		Topic      string `yaml:"topic"`       // Metrics topic template ({hostname} substituted)
		IntervalMs int    `yaml:"interval_ms"` // Collection period
		TimeoutMs  int    `yaml:"timeout_ms"`  // Bound for one collection pass
	} `yaml:"metrics"`

	Status struct {
		Enabled bool   `yaml:"enabled"` // Enable/disable the status HTTP server
		Address string `yaml:"address"` // Listen address, e.g. ":8090"
	} `yaml:"status"`

	Logging struct {
		Level string `yaml:"level"` // zerolog level name
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults to omitted fields and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// asMillis converts a default duration to the config's millisecond unit.
func asMillis(d time.Duration) int {
	return int(d / time.Millisecond)
}

// ApplyDefaults fills in every omitted tunable.
func (c *Config) ApplyDefaults() {
	if c.Gateway.Topic == "" {
		c.Gateway.Topic = "gateways/{hostname}/telemetry"
	}
	if c.Gateway.SendIntervalMs <= 0 {
		c.Gateway.SendIntervalMs = asMillis(constants.DefaultSendInterval)
	}
	if c.Gateway.StartupDelayMs < 0 {
		c.Gateway.StartupDelayMs = 0
	} else if c.Gateway.StartupDelayMs == 0 {
		c.Gateway.StartupDelayMs = asMillis(constants.DefaultStartupDelay)
	}

	if c.Broker.Backend == "" {
		c.Broker.Backend = BrokerBackendMQTT
	}
	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port <= 0 {
		switch c.Broker.Backend {
		case BrokerBackendNATS:
			c.Broker.Port = 4222
		default:
			c.Broker.Port = 1883
		}
	}
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = "ble-gateway"
	}
	if c.Broker.RetryIntervalMs <= 0 {
		c.Broker.RetryIntervalMs = asMillis(constants.DefaultBrokerRetryInterval)
	}

	if len(c.Devices.AllowList) == 0 {
		c.Devices.AllowList = []string{"*"}
	}

	if c.Transport.Backend == "" {
		c.Transport.Backend = TransportBackendBLE
	}
	if c.Transport.ConnectTimeoutMs <= 0 {
		c.Transport.ConnectTimeoutMs = asMillis(constants.DefaultConnectTimeout)
	}

	if c.Discovery.StaggerDelayMs <= 0 {
		c.Discovery.StaggerDelayMs = asMillis(constants.DefaultDiscoveryStagger)
	}
	if c.Discovery.RestartIntervalMs <= 0 {
		c.Discovery.RestartIntervalMs = asMillis(constants.DefaultDiscoveryRestart)
	}
	if c.Discovery.CooldownMs <= 0 {
		c.Discovery.CooldownMs = asMillis(constants.DefaultDiscoveryCooldown)
	}

	if c.Metrics.Topic == "" {
		c.Metrics.Topic = "gateways/{hostname}/metrics"
	}
	if c.Metrics.IntervalMs <= 0 {
		c.Metrics.IntervalMs = asMillis(constants.DefaultMetricsInterval)
	}
	if c.Metrics.TimeoutMs <= 0 {
		c.Metrics.TimeoutMs = asMillis(constants.DefaultMetricsTimeout)
	}

	if c.Status.Address == "" {
		c.Status.Address = ":8090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.Topic == "" {
		return errors.New("gateway topic must not be empty")
	}
	switch c.Broker.Backend {
	case BrokerBackendMQTT, BrokerBackendNATS:
	default:
		return fmt.Errorf("unknown broker backend %q", c.Broker.Backend)
	}
	switch c.Transport.Backend {
	case TransportBackendBLE, TransportBackendFake:
	default:
		return fmt.Errorf("unknown transport backend %q", c.Transport.Backend)
	}
	if c.Broker.QOS < 0 || c.Broker.QOS > 2 {
		return fmt.Errorf("broker qos must be 0, 1 or 2, got %d", c.Broker.QOS)
	}
	if len(c.Devices.AllowList) == 0 {
		return errors.New("device allow list must not be empty")
	}
	return nil
}

// SendInterval returns the telemetry dispatch period.
func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.Gateway.SendIntervalMs) * time.Millisecond
}

// StartupDelay returns the grace delay applied before subsystems start.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Gateway.StartupDelayMs) * time.Millisecond
}

// RetryInterval returns the broker reconnect timer period.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Broker.RetryIntervalMs) * time.Millisecond
}

// ConnectTimeout returns the bound for one connect+setup attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Transport.ConnectTimeoutMs) * time.Millisecond
}

// StaggerDelay returns the delay between per-identity discovery requests.
func (c *Config) StaggerDelay() time.Duration {
	return time.Duration(c.Discovery.StaggerDelayMs) * time.Millisecond
}

// RestartInterval returns the discovery restart timer period.
func (c *Config) RestartInterval() time.Duration {
	return time.Duration(c.Discovery.RestartIntervalMs) * time.Millisecond
}

// Cooldown returns the settle time between stopping discovery and re-issuing
// requests.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Discovery.CooldownMs) * time.Millisecond
}

// MetricsInterval returns the gateway metrics collection period.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalMs) * time.Millisecond
}

// MetricsTimeout returns the bound for one metrics collection pass.
func (c *Config) MetricsTimeout() time.Duration {
	return time.Duration(c.Metrics.TimeoutMs) * time.Millisecond
}

// BrokerURL renders the broker address for the configured backend.
func (c *Config) BrokerURL() string {
	switch c.Broker.Backend {
	case BrokerBackendNATS:
		return fmt.Sprintf("nats://%s:%d", c.Broker.Host, c.Broker.Port)
	default:
		scheme := "tcp"
		if c.Broker.CACertificate != "" {
			scheme = "ssl"
		}
		return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
	}
}
