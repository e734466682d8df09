// Package limits provides the datagram size constants and validation
// functions shared by the induct and outduct.
//
// # Size Hierarchy
//
//   - StopSentinelSize (1 byte): a datagram of exactly this length is the
//     conventional stop signal for an induct receiver. It is never admitted.
//
//   - MaxDatagramPayload (65507 bytes): the largest UDP payload over IPv4.
//     Every bundle must fit in a single datagram because the convergence layer
//     does not fragment.
//
//   - ReceiveBufferSize: the receive buffer allocated per read. It is one byte
//     larger than MaxDatagramPayload so oversized datagrams are detected rather
//     than silently truncated.
//
// # Validation
//
//	if err := limits.ValidateBundle(payload); err != nil {
//	    // ErrBundleEmpty or ErrBundleTooLarge
//	}
package limits
