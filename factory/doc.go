// Package factory builds delay engine configuration and bundle cores.
//
// The factory centralises the startup constants of a delaycla daemon and
// chooses between the in-memory simulated core and the UDP relay core
// without changing consuming code.
//
// # Configuration
//
// Defaults come from DefaultConfig and can be overridden with environment
// variables. Invalid values are logged and the default is kept:
//   - CLA_QUEUE_CAPACITY: maximum in-flight bundles
//   - CLA_LOSS_PERCENT: simulated link loss, 0 to 100
//   - CLA_DELAY_MODEL: "fixed", "mars" or "moon"
//   - CLA_FIXED_DELAY: delay of the fixed model, e.g. "10s"
//   - CLA_POLL_QUANTUM: scheduler scan interval, e.g. "10ms"
//   - CLA_SCHEDULER: "polling" or "dispatch" for both ducts
//   - CLA_MAX_TASKS: concurrent delivery tasks in dispatch mode
//   - CLA_RATE_LIMIT: "true" or "false" to pace egress
//   - CLA_ADMIT_WAIT: how long the outduct waits for queue space
//   - CLA_USE_SIMULATION: "true" to use the simulated core
//   - CLA_CORE_FORWARD: where the relay core forwards acquired bundles
//   - CLA_CORE_FEED: where the relay core reads bundles to transmit
//   - CLA_XMIT_RATE: neighbor link rate in bytes per second
//   - CLA_METRICS_ADDR: address serving Prometheus metrics
//
// Logging is configured separately by ConfigureLogging from CLA_LOG_LEVEL
// and CLA_LOG_FORMAT.
//
// # Usage
//
//	f := factory.NewEngineFactory()
//	cfg := f.GetCurrentConfig()
//	core, err := f.CreateBundleCore(cfg)
//
// For tests:
//
//	sim := f.CreateSimulationForTesting(factory.WithTransmitRate(1e6))
package factory
