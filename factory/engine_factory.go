package factory

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/real"
	"github.com/opd-ai/delaycla/testing"
	"github.com/sirupsen/logrus"
)

// Validation bounds for environment overrides.
const (
	MinQueueCapacity = 1
	MaxQueueCapacity = 1000000
	MinPollQuantum   = time.Millisecond
	MaxPollQuantum   = time.Second
	MaxFixedDelay    = 24 * time.Hour
	MinDeliveryTasks = 1
	MaxDeliveryTasks = 10000
	MaxAdmitWait     = time.Minute
)

// Default values of the engine configuration.
const (
	DefaultQueueCapacity   = 1000
	DefaultDelayModel      = "fixed"
	DefaultFixedDelay      = 10 * time.Second
	DefaultPollQuantum     = 10 * time.Millisecond
	DefaultMaxTasks        = 50
	DefaultAdmitWait       = time.Second
	DefaultCoreForwardAddr = "127.0.0.1:4560"
	DefaultCoreFeedAddr    = "127.0.0.1:4561"
)

// ErrNilConfig is returned when a nil configuration is supplied.
var ErrNilConfig = errors.New("config cannot be nil")

// EngineFactory creates bundle cores and holds the default engine
// configuration. It is safe for concurrent use.
type EngineFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.EngineConfig
}

// ConfigOption customises a configuration built by the factory.
type ConfigOption func(*interfaces.EngineConfig)

// NewEngineFactory creates a factory with defaults and environment overrides
// applied.
func NewEngineFactory() *EngineFactory {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	logConfigurationInfo(cfg)

	return &EngineFactory{defaultConfig: cfg}
}

// DefaultConfig returns the built-in configuration:
//   - QueueCapacity 1000 bundles
//   - no loss and the fixed 10 second preset delay
//   - a 10ms scan quantum with per-duct scheduler strategies
//   - at most 50 concurrent delivery tasks
//   - egress pacing enabled and a one second admission wait
func DefaultConfig() *interfaces.EngineConfig {
	return &interfaces.EngineConfig{
		QueueCapacity:    DefaultQueueCapacity,
		LossPercent:      0,
		DelayModel:       DefaultDelayModel,
		FixedDelay:       DefaultFixedDelay,
		PollQuantum:      DefaultPollQuantum,
		MaxDeliveryTasks: DefaultMaxTasks,
		RateLimit:        true,
		AdmitWait:        DefaultAdmitWait,
		UseSimulation:    false,
		CoreForwardAddr:  DefaultCoreForwardAddr,
		CoreFeedAddr:     DefaultCoreFeedAddr,
	}
}

// applyEnvironmentOverrides updates cfg from the CLA_* environment variables.
func applyEnvironmentOverrides(cfg *interfaces.EngineConfig) {
	parseIntSetting("CLA_QUEUE_CAPACITY", MinQueueCapacity, MaxQueueCapacity, &cfg.QueueCapacity)
	parseFloatSetting("CLA_LOSS_PERCENT", 0, 100, &cfg.LossPercent)
	parseLossPolicySetting(cfg)
	parseChoiceSetting("CLA_DELAY_MODEL", interfaces.DelayModelNames, &cfg.DelayModel)
	parseDurationSetting("CLA_FIXED_DELAY", 0, MaxFixedDelay, &cfg.FixedDelay)
	parseDurationSetting("CLA_POLL_QUANTUM", MinPollQuantum, MaxPollQuantum, &cfg.PollQuantum)
	parseStrategySetting(cfg)
	parseIntSetting("CLA_MAX_TASKS", MinDeliveryTasks, MaxDeliveryTasks, &cfg.MaxDeliveryTasks)
	parseBoolSetting("CLA_RATE_LIMIT", &cfg.RateLimit)
	parseDurationSetting("CLA_ADMIT_WAIT", 0, MaxAdmitWait, &cfg.AdmitWait)
	parseBoolSetting("CLA_USE_SIMULATION", &cfg.UseSimulation)
	parseStringSetting("CLA_CORE_FORWARD", &cfg.CoreForwardAddr)
	parseStringSetting("CLA_CORE_FEED", &cfg.CoreFeedAddr)
	parseFloatSetting("CLA_XMIT_RATE", 0, 1e12, &cfg.TransmitRate)
	parseStringSetting("CLA_METRICS_ADDR", &cfg.MetricsAddr)
}

func warnInvalid(function, envVar string, value, using interface{}, err error) {
	fields := logrus.Fields{
		"function":    function,
		"env_var":     envVar,
		"value":       value,
		"using_value": using,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Warn("Invalid " + envVar + " environment variable, using default")
}

// parseIntSetting reads an integer within [min, max].
func parseIntSetting(envVar string, min, max int, dst *int) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		warnInvalid("parseIntSetting", envVar, raw, *dst, err)
		return
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       v,
			"min":         min,
			"max":         max,
			"using_value": *dst,
		}).Warn(envVar + " value out of bounds, using default")
		return
	}
	*dst = v
}

// parseFloatSetting reads a float within [min, max].
func parseFloatSetting(envVar string, min, max float64, dst *float64) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		warnInvalid("parseFloatSetting", envVar, raw, *dst, err)
		return
	}
	if v < min || v > max || v != v {
		logrus.WithFields(logrus.Fields{
			"function":    "parseFloatSetting",
			"env_var":     envVar,
			"value":       v,
			"min":         min,
			"max":         max,
			"using_value": *dst,
		}).Warn(envVar + " value out of bounds, using default")
		return
	}
	*dst = v
}

// parseDurationSetting reads a Go duration within [min, max].
func parseDurationSetting(envVar string, min, max time.Duration, dst *time.Duration) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		warnInvalid("parseDurationSetting", envVar, raw, *dst, err)
		return
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDurationSetting",
			"env_var":     envVar,
			"value":       v.String(),
			"min":         min.String(),
			"max":         max.String(),
			"using_value": dst.String(),
		}).Warn(envVar + " value out of bounds, using default")
		return
	}
	*dst = v
}

// parseBoolSetting reads a boolean.
func parseBoolSetting(envVar string, dst *bool) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		warnInvalid("parseBoolSetting", envVar, raw, *dst, err)
		return
	}
	*dst = v
}

// parseChoiceSetting reads a lower-cased value that must be one of choices.
func parseChoiceSetting(envVar string, choices []string, dst *string) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))
	if raw == "" {
		return
	}
	for _, c := range choices {
		if raw == c {
			*dst = raw
			return
		}
	}
	warnInvalid("parseChoiceSetting", envVar, raw, *dst, nil)
}

func parseStrategySetting(cfg *interfaces.EngineConfig) {
	strategy := string(cfg.Strategy)
	parseChoiceSetting("CLA_SCHEDULER",
		[]string{string(interfaces.StrategyPolling), string(interfaces.StrategyDispatch)}, &strategy)
	cfg.Strategy = interfaces.SchedulerStrategy(strategy)
}

func parseLossPolicySetting(cfg *interfaces.EngineConfig) {
	policy := string(cfg.LossPolicy)
	parseChoiceSetting("CLA_LOSS_POLICY",
		[]string{string(interfaces.LossAtRelease), string(interfaces.LossAtAdmission)}, &policy)
	cfg.LossPolicy = interfaces.LossPolicy(policy)
}

// parseStringSetting copies a non-empty value verbatim.
func parseStringSetting(envVar string, dst *string) {
	if raw := strings.TrimSpace(os.Getenv(envVar)); raw != "" {
		*dst = raw
	}
}

// logConfigurationInfo logs the final configuration settings.
func logConfigurationInfo(cfg *interfaces.EngineConfig) {
	logrus.WithFields(logrus.Fields{
		"function":       "NewEngineFactory",
		"queue_capacity": cfg.QueueCapacity,
		"loss_percent":   cfg.LossPercent,
		"loss_policy":    cfg.LossPolicy,
		"delay_model":    cfg.DelayModel,
		"fixed_delay":    cfg.FixedDelay.String(),
		"poll_quantum":   cfg.PollQuantum.String(),
		"strategy":       cfg.Strategy,
		"max_tasks":      cfg.MaxDeliveryTasks,
		"rate_limit":     cfg.RateLimit,
		"use_simulation": cfg.UseSimulation,
	}).Info("Created engine factory with configuration")
}

// CreateBundleCore creates the factory's default bundle core.
func (f *EngineFactory) CreateBundleCore() (interfaces.BundleCore, error) {
	return f.CreateBundleCoreWithConfig(nil)
}

// CreateBundleCoreWithConfig creates a simulated or relay bundle core from
// cfg, or from the factory default when cfg is nil. A relay core opens both
// its forward and feed sockets.
func (f *EngineFactory) CreateBundleCoreWithConfig(cfg *interfaces.EngineConfig) (interfaces.BundleCore, error) {
	return f.createBundleCore("CreateBundleCoreWithConfig", cfg, real.BothSides)
}

// CreateInductCore creates the bundle core for an induct. A relay core only
// opens its forward socket.
func (f *EngineFactory) CreateInductCore(cfg *interfaces.EngineConfig) (interfaces.BundleCore, error) {
	return f.createBundleCore("CreateInductCore", cfg, real.ForwardSide)
}

// CreateOutductCore creates the bundle core for an outduct. A relay core only
// binds its feed socket.
func (f *EngineFactory) CreateOutductCore(cfg *interfaces.EngineConfig) (interfaces.BundleCore, error) {
	return f.createBundleCore("CreateOutductCore", cfg, real.FeedSide)
}

func (f *EngineFactory) createBundleCore(function string, cfg *interfaces.EngineConfig, sides real.Sides) (interfaces.BundleCore, error) {
	if cfg == nil {
		cfg = f.GetCurrentConfig()
	}

	if cfg.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"type":     "simulation",
		}).Info("Creating simulated bundle core")
		return testing.NewSimulatedBundleCore(cfg), nil
	}

	fields := logrus.Fields{
		"function": function,
		"type":     "relay",
	}
	if sides&real.ForwardSide != 0 {
		fields["forward"] = cfg.CoreForwardAddr
	}
	if sides&real.FeedSide != 0 {
		fields["feed"] = cfg.CoreFeedAddr
	}
	logrus.WithFields(fields).Info("Creating relay bundle core")
	return real.DialRelayCore(cfg, sides)
}

// WithQueueCapacity sets the queue capacity.
func WithQueueCapacity(n int) ConfigOption {
	return func(c *interfaces.EngineConfig) { c.QueueCapacity = n }
}

// WithLossPercent sets the simulated loss percentage.
func WithLossPercent(p float64) ConfigOption {
	return func(c *interfaces.EngineConfig) { c.LossPercent = p }
}

// WithFixedDelay selects the fixed delay model with delay d.
func WithFixedDelay(d time.Duration) ConfigOption {
	return func(c *interfaces.EngineConfig) {
		c.DelayModel = "fixed"
		c.FixedDelay = d
	}
}

// WithTransmitRate sets the neighbor link rate in bytes per second.
func WithTransmitRate(rate float64) ConfigOption {
	return func(c *interfaces.EngineConfig) { c.TransmitRate = rate }
}

// CreateSimulationForTesting creates a simulated core with test defaults
// (capacity 64, no pacing) and the given overrides applied.
func (f *EngineFactory) CreateSimulationForTesting(opts ...ConfigOption) *testing.SimulatedBundleCore {
	cfg := f.TestConfig(opts...)

	logrus.WithFields(logrus.Fields{
		"function":      "CreateSimulationForTesting",
		"transmit_rate": cfg.TransmitRate,
	}).Info("Creating simulation implementation for testing")

	return testing.NewSimulatedBundleCore(cfg)
}

// TestConfig returns a configuration suited to fast tests with opts applied.
func (f *EngineFactory) TestConfig(opts ...ConfigOption) *interfaces.EngineConfig {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 64
	cfg.FixedDelay = 50 * time.Millisecond
	cfg.RateLimit = false
	cfg.AdmitWait = 100 * time.Millisecond
	cfg.UseSimulation = true
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// SwitchToSimulation switches the default configuration to the simulated core
func (f *EngineFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")

	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the default configuration to the relay core
func (f *EngineFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to real mode")

	f.defaultConfig.UseSimulation = false
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *EngineFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultConfig.UseSimulation
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *EngineFactory) GetCurrentConfig() *interfaces.EngineConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg := *f.defaultConfig
	return &cfg
}

// UpdateConfig validates cfg and makes a copy of it the default.
func (f *EngineFactory) UpdateConfig(cfg *interfaces.EngineConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.defaultConfig.UseSimulation,
		"new_simulation": cfg.UseSimulation,
		"old_model":      f.defaultConfig.DelayModel,
		"new_model":      cfg.DelayModel,
	}).Info("Updating factory configuration")

	copied := *cfg
	f.defaultConfig = &copied
	return nil
}
