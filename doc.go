// Package delaycla emulates a long propagation delay, lossy link between raw
// UDP datagrams and a bundle delivery core.
//
// An Engine carries one direction of traffic. The induct reads datagrams
// from a bound socket, holds each one for the simulated propagation delay
// and hands it to the bundle core through the acquisition steps. The outduct
// takes bundles from the core, holds them for the same delay and sends them
// to a fixed peer, paced by the neighbor's transmit rate.
//
// # Getting Started
//
//	cfg := factory.DefaultConfig()
//	core, err := factory.NewEngineFactory().CreateBundleCore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Close()
//
//	receiver, err := transport.Listen(transport.Endpoint{Host: "0.0.0.0", Port: transport.DefaultPort})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := delaycla.NewInduct(cfg, receiver, core)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go func() {
//	    <-signals
//	    engine.Shutdown()
//	}()
//	if err := engine.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Delay and Loss
//
// The delay applied to an item is computed once, when it is admitted, from
// the configured delay model: a fixed preset, the Earth-Mars two-body model
// or the Earth-Moon sinusoidal model (see package delay). Loss is decided
// when the item is released, so dropped items still occupy the queue for
// their full delay like bundles lost in flight.
//
// # Shutdown
//
// Shutdown may be called from any goroutine, including a signal handler.
// Run then stops reading, joins its delivery tasks, discards undelivered
// items and closes the link socket. A one byte datagram received by an
// induct also stops it.
package delaycla
