// Package testing provides an in-memory bundle core for deterministic tests
// and dry runs of the delay engine.
//
// # Overview
//
// SimulatedBundleCore implements interfaces.BundleCore without any network
// or protocol daemon behind it. Acquired bundles are recorded in a delivery
// log, and bundles for the outduct are fed through an in-memory queue.
//
// # Simulation vs Real Implementation
//
//   - Simulation (this package): acquisitions are logged in memory and
//     outbound bundles come from Feed. Used for unit and integration tests.
//
//   - Real (real package): acquisitions are relayed to a local forwarder over
//     UDP and outbound bundles are read from a local feed socket.
//
// Both implementations are selected by the factory package from the
// CLA_USE_SIMULATION setting.
//
// # Usage
//
//	core := testing.NewSimulatedBundleCore(cfg)
//	core.Feed([]byte("bundle"))
//	// ... run the engine ...
//	log := core.GetDeliveryLog()
//	if len(log) != 1 || !log[0].Success {
//	    t.Error("expected one acquired bundle")
//	}
//
// # Failure Injection
//
// FailNext makes the next call to a given acquisition step fail so tests can
// verify that the induct cancels the acquisition and carries on.
//
// # Thread Safety
//
// All methods on SimulatedBundleCore are safe for concurrent use.
package testing
