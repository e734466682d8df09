// Package real provides the production bundle core used by the delaycla
// daemons: a UDP relay to a local bundle protocol agent.
//
// # Architecture
//
// RelayCore implements interfaces.BundleCore with two local datagram sockets:
//
//	 induct                              outduct
//	   │ Begin/Continue/End                 ▲ Dequeue
//	   ▼                                    │
//	┌───────────────────────────────────────────┐
//	│                 RelayCore                 │
//	│  forward: PacketSender  feed: PacketReceiver
//	└───────────────────────────────────────────┘
//	   │ one datagram per bundle            ▲ one datagram per bundle
//	   ▼                                    │
//	 CoreForwardAddr                   CoreFeedAddr
//
// Each acquired bundle is forwarded as a single datagram to CoreForwardAddr,
// retrying with a linear backoff when the send fails. Bundles to transmit are
// read one datagram at a time from the socket bound at CoreFeedAddr.
//
// DialRelayCore opens only the Sides it is asked for: an induct process needs
// the forward socket and an outduct process the feed socket, so both can run
// on one host with the default addresses.
//
// # Thread Safety
//
// Acquisition state is guarded by a mutex that is not held while a bundle is
// forwarded, so Close interrupts the retry backoff. Dequeue may run
// concurrently with acquisitions.
package real
