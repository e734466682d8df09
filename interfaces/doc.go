// Package interfaces defines the narrow contracts between the delay engine
// and its external collaborators: the bundle-protocol core, the raw datagram
// link and the clock.
//
// The engine never talks to a concrete bundle core. Instead it consumes:
//
//   - [Acquirer]: the begin/continue/end/cancel acquisition state machine used
//     by the induct to hand a received bundle to the core.
//   - [Dequeuer]: the blocking-with-timeout pull used by the outduct to obtain
//     the next bundle the core wants transmitted.
//   - [NeighborLookup]: the transmit rate of the neighbor behind the outduct,
//     which drives egress pacing.
//
// [BundleCore] groups all three so that a single value can be handed to the
// factory package, which selects between the simulated core (testing package)
// and the UDP relay core (real package):
//
//	f := factory.NewEngineFactory()
//	core, err := f.CreateBundleCore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration
//
// [EngineConfig] carries every startup constant of the engine: queue
// capacity, loss percentage, delay model parameters, polling quantum,
// scheduler strategy and rate limiter switch.
//
//	cfg := factory.DefaultConfig()
//	cfg.LossPercent = 5
//	if err := cfg.Validate(); err != nil {
//	    log.Fatalf("invalid config: %v", err)
//	}
//
// # Time
//
// [TimeProvider] and [Sleeper] abstract the wall clock so that queue release
// times and pacing sleeps can be driven deterministically in tests.
//
// # Thread Safety
//
// Implementations of these interfaces must be safe for concurrent use. The
// induct and outduct call the core from their scheduler goroutines while the
// receiver or dequeuer goroutine is running.
package interfaces
