// Package gadget implements the device-side function driver for Gadget
// Zero: a vendor-specific USB device exposing a single loopback/sink
// configuration with one bulk-OUT endpoint.
//
// The package is organized around a small set of cooperating pieces:
//
//   - [Gadget] owns the lifecycle: bind to a controller, run the control
//     loop, hand bulk data to a consumer, unbind
//   - [Function] groups a configuration descriptor with its interface and
//     endpoint children and serializes them as one wire image
//   - [StringTable] holds the sparse string descriptor catalog
//   - [SetupPacket] decodes the bmRequestType/wValue fields of control
//     requests
//
// # Control Plane
//
// [Gadget.Run] blocks reading SETUP packets from the bound
// [udc.Controller] and dispatches the two standard requests the function
// answers itself, GET_DESCRIPTOR and SET_CONFIGURATION. Everything else
// stalls EP0. Responses share a single pre-allocated control buffer, so at
// most one response is ever in flight.
//
// # Data Plane
//
// While the loopback configuration is active, [Gadget.Read] queues one
// bulk-OUT receive at a time and blocks until it completes. Completion
// handlers run on the controller's event context; they classify the
// outcome, publish it, and wake the reader through a buffered channel so a
// wakeup is never lost. One consumer at a time; a second concurrent Read
// fails with [pkg.ErrBusy].
//
// # Zero-Allocation Serialization
//
// Descriptors serialize via MarshalTo(buf) into caller-provided buffers,
// so the control path performs no allocation after bind.
package gadget
