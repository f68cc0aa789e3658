package factory

import (
	"fmt"
	"sync"

	"github.com/opd-ai/webdrop/interfaces"
	"github.com/opd-ai/webdrop/real"
	"github.com/opd-ai/webdrop/testing"
	"github.com/sirupsen/logrus"
)

// ConnectionFactoryProvider creates connection factories based on
// configuration. It is safe for concurrent use.
type ConnectionFactoryProvider struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.ConnectionConfig
}

// TestConfigOption customizes the configuration of a test simulation.
type TestConfigOption func(*interfaces.ConnectionConfig)

// NewConnectionFactoryProvider creates a provider. A nil config uses
// interfaces.DefaultConnectionConfig.
func NewConnectionFactoryProvider(config *interfaces.ConnectionConfig) *ConnectionFactoryProvider {
	if config == nil {
		config = interfaces.DefaultConnectionConfig()
	}
	cfg := copyConfig(config)

	logrus.WithFields(logrus.Fields{
		"function":       "NewConnectionFactoryProvider",
		"use_simulation": cfg.UseSimulation,
		"ice_servers":    len(cfg.ICEServers),
		"label":          cfg.DataChannelLabel,
	}).Info("Created connection factory provider with configuration")

	return &ConnectionFactoryProvider{defaultConfig: cfg}
}

// CreateConnectionFactory creates a factory from the current configuration.
func (p *ConnectionFactoryProvider) CreateConnectionFactory() (interfaces.ConnectionFactory, error) {
	p.mu.RLock()
	config := copyConfig(p.defaultConfig)
	p.mu.RUnlock()
	return p.CreateConnectionFactoryWithConfig(config)
}

// CreateConnectionFactoryWithConfig creates a factory from config, or from
// the current configuration when config is nil.
func (p *ConnectionFactoryProvider) CreateConnectionFactoryWithConfig(config *interfaces.ConnectionConfig) (interfaces.ConnectionFactory, error) {
	if config == nil {
		p.mu.RLock()
		config = copyConfig(p.defaultConfig)
		p.mu.RUnlock()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	if config.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": "CreateConnectionFactoryWithConfig",
			"type":     "simulation",
		}).Info("Creating simulated connection factory")
		return testing.NewSimulatedNetwork(config), nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateConnectionFactoryWithConfig",
		"type":     "webrtc",
	}).Info("Creating WebRTC connection factory")
	f, err := real.NewWebRTCFactory(config)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// WithDataChannelLabel sets the data channel label of the test configuration.
func WithDataChannelLabel(label string) TestConfigOption {
	return func(c *interfaces.ConnectionConfig) {
		c.DataChannelLabel = label
	}
}

// WithBufferThresholds sets the backpressure thresholds of the test
// configuration.
func WithBufferThresholds(high, low uint64) TestConfigOption {
	return func(c *interfaces.ConnectionConfig) {
		c.BufferedAmountHighWater = high
		c.BufferedAmountLowWater = low
	}
}

// CreateSimulationForTesting creates an in-memory network regardless of the
// current mode.
func (p *ConnectionFactoryProvider) CreateSimulationForTesting(opts ...TestConfigOption) *testing.SimulatedNetwork {
	config := interfaces.DefaultConnectionConfig()
	config.UseSimulation = true
	config.ICEServers = nil
	for _, opt := range opts {
		opt(config)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateSimulationForTesting",
		"label":    config.DataChannelLabel,
	}).Info("Creating simulation implementation for testing")

	return testing.NewSimulatedNetwork(config)
}

// SwitchToSimulation makes later factories use the in-memory network.
func (p *ConnectionFactoryProvider) SwitchToSimulation() {
	p.setSimulation(true)
}

// SwitchToReal makes later factories use WebRTC.
func (p *ConnectionFactoryProvider) SwitchToReal() {
	p.setSimulation(false)
}

func (p *ConnectionFactoryProvider) setSimulation(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "setSimulation",
		"previous": p.defaultConfig.UseSimulation,
		"current":  enabled,
	}).Info("Switching connection factory mode")

	p.defaultConfig.UseSimulation = enabled
}

// GetCurrentConfig returns a copy of the current configuration.
func (p *ConnectionFactoryProvider) GetCurrentConfig() *interfaces.ConnectionConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyConfig(p.defaultConfig)
}

// IsUsingSimulation reports whether the provider is in simulation mode.
func (p *ConnectionFactoryProvider) IsUsingSimulation() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultConfig.UseSimulation
}

// UpdateConfig replaces the current configuration after validating it.
func (p *ConnectionFactoryProvider) UpdateConfig(config *interfaces.ConnectionConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultConfig = copyConfig(config)

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"use_simulation": config.UseSimulation,
	}).Info("Connection factory configuration updated")
	return nil
}

func copyConfig(c *interfaces.ConnectionConfig) *interfaces.ConnectionConfig {
	cp := *c
	cp.ICEServers = append([]string(nil), c.ICEServers...)
	return &cp
}
