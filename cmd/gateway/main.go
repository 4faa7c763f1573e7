package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/internal/api"
	"github.com/edgelink/ble-gateway/internal/broker"
	"github.com/edgelink/ble-gateway/internal/constants"
	"github.com/edgelink/ble-gateway/internal/discovery"
	"github.com/edgelink/ble-gateway/internal/gateway"
	"github.com/edgelink/ble-gateway/internal/metrics"
	"github.com/edgelink/ble-gateway/internal/registry"
	"github.com/edgelink/ble-gateway/internal/telemetry"
	"github.com/edgelink/ble-gateway/internal/utils"
	"github.com/edgelink/ble-gateway/pkg/brokerclient"
	"github.com/edgelink/ble-gateway/pkg/brokerclient/natsclient"
	"github.com/edgelink/ble-gateway/pkg/brokerclient/pahoclient"
	"github.com/edgelink/ble-gateway/pkg/file"
	"github.com/edgelink/ble-gateway/pkg/identity"
	"github.com/edgelink/ble-gateway/pkg/peripheral"
	"github.com/edgelink/ble-gateway/pkg/peripheral/bleclient"
	"github.com/edgelink/ble-gateway/pkg/peripheral/fakeclient"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(configFile, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		logger.Warn().Str("level", config.Logging.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	gatewayInfo, err := identity.NewGatewayInfo(config.Gateway.ID, config.Gateway.Topic)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve gateway identity")
	}
	logger.Info().Str("gateway_id", gatewayInfo.GetGatewayID()).
		Str("topic", gatewayInfo.GetTopic()).Msg("Gateway identity resolved")

	allowList := identity.NewAllowList(config.Devices.AllowList)

	brokerClient, err := buildBrokerClient(config, fileClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize broker client")
	}

	transport, err := buildTransport(config, allowList, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize peripheral transport")
	}

	var minFirmware *semver.Version
	if config.Devices.MinFirmware != "" {
		minFirmware, err = semver.NewVersion(config.Devices.MinFirmware)
		if err != nil {
			logger.Fatal().Err(err).Str("min_firmware", config.Devices.MinFirmware).
				Msg("Invalid minimum firmware version")
		}
	}

	sessions := registry.NewSessionRegistry(logger.With().Str("component", "registry").Logger())

	brokerManager := broker.NewConnectionManager(brokerClient, config.RetryInterval(),
		logger.With().Str("component", "broker").Logger())

	controller := discovery.NewController(transport, sessions, allowList, discovery.Options{
		StaggerDelay:    config.StaggerDelay(),
		RestartInterval: config.RestartInterval(),
		Cooldown:        config.Cooldown(),
		ConnectTimeout:  config.ConnectTimeout(),
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		MinFirmware:     minFirmware,
	}, logger.With().Str("component", "discovery").Logger())

	dispatcher := telemetry.NewDispatcher(gatewayInfo.GetTopic(), gatewayInfo.GetGatewayID(),
		config.SendInterval(), sessions, brokerManager,
		logger.With().Str("component", "telemetry").Logger())

	orchestrator := gateway.NewOrchestrator(config.StartupDelay(),
		logger.With().Str("component", "gateway").Logger())
	orchestrator.Register("broker", brokerManager)
	orchestrator.Register("discovery", controller)
	orchestrator.Register("telemetry", dispatcher)

	if config.Metrics.Enabled {
		metricsService := metrics.NewService(
			gatewayInfo.ResolveTopic(config.Metrics.Topic), gatewayInfo.GetGatewayID(),
			config.MetricsInterval(), config.MetricsTimeout(), brokerManager,
			logger.With().Str("component", "metrics").Logger())
		orchestrator.Register("metrics", metricsService)
	}

	if config.Status.Enabled {
		statusServer := api.NewStatusServer(config.Status.Address, gatewayInfo.GetGatewayID(),
			brokerManager, controller, sessions,
			logger.With().Str("component", "api").Logger())
		orchestrator.Register("status", statusServer)
	}

	// An escaped panic is the only fatal condition: run the shutdown
	// sequence best-effort, then exit non-zero.
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Unrecovered fault, shutting down")
			orchestrator.Shutdown()
			_ = transport.Close()
			os.Exit(1)
		}
	}()

	if err := orchestrator.Start(); err != nil {
		logger.Error().Err(err).Msg("Startup failed")
		_ = transport.Close()
		os.Exit(1)
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	orchestrator.Shutdown()
	if err := transport.Close(); err != nil {
		logger.Warn().Err(err).Msg("Transport close reported an error")
	}
}

// buildBrokerClient selects the configured broker backend. Every backend
// gets a unique client identity so a crashed instance cannot fence out its
// replacement.
func buildBrokerClient(config *utils.Config, fileClient file.FileOperations, logger zerolog.Logger) (brokerclient.Client, error) {
	clientID := config.Broker.ClientID + "-" + uuid.New().String()

	switch config.Broker.Backend {
	case utils.BrokerBackendMQTT:
		return pahoclient.NewPahoClient(pahoclient.Options{
			BrokerURL:     config.BrokerURL(),
			ClientID:      clientID,
			Username:      config.Broker.Username,
			Password:      config.Broker.Password,
			CACertificate: config.Broker.CACertificate,
			QOS:           byte(config.Broker.QOS),
		}, fileClient, logger.With().Str("component", "pahoclient").Logger()), nil

	case utils.BrokerBackendNATS:
		return natsclient.NewNatsClient(natsclient.Options{
			URL:      config.BrokerURL(),
			Name:     clientID,
			Username: config.Broker.Username,
			Password: config.Broker.Password,
		}, logger.With().Str("component", "natsclient").Logger()), nil

	default:
		return nil, fmt.Errorf("unknown broker backend %q", config.Broker.Backend)
	}
}

// buildTransport selects the configured peripheral transport backend. The
// fake backend simulates one peripheral per allow-listed address, or a small
// demo farm for a wildcard list.
func buildTransport(config *utils.Config, allowList *identity.AllowList, logger zerolog.Logger) (peripheral.Transport, error) {
	switch config.Transport.Backend {
	case utils.TransportBackendBLE:
		transport, err := bleclient.NewTransport(logger.With().Str("component", "bleclient").Logger())
		if err != nil {
			return nil, err
		}
		return transport, nil

	case utils.TransportBackendFake:
		addresses := allowList.Identities()
		if len(addresses) == 0 {
			addresses = []string{"aa0000000001", "aa0000000002"}
		}
		specs := make([]fakeclient.DeviceSpec, 0, len(addresses))
		for i, address := range addresses {
			specs = append(specs, fakeclient.DeviceSpec{
				Address:        address,
				LocalName:      fmt.Sprintf("sim-sensor-%d", i+1),
				Firmware:       "2.1.0",
				ButtonInterval: 15 * time.Second,
			})
		}
		return fakeclient.NewTransport(specs, fakeclient.Options{},
			logger.With().Str("component", "fakeclient").Logger()), nil

	default:
		return nil, fmt.Errorf("unknown transport backend %q", config.Transport.Backend)
	}
}
